// Package scanner synchronizes the inventory with the software the system
// reports as installed: the rich query first, the raw registry walk when the
// rich query adds nothing, then one save.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/breeze-rmm/swtrack/internal/health"
	"github.com/breeze-rmm/swtrack/internal/inventory"
	"github.com/breeze-rmm/swtrack/internal/logging"
	"github.com/breeze-rmm/swtrack/internal/regquery"
)

var log = logging.L("scanner")

// ComponentStorage is the health component for the inventory file.
const ComponentStorage = "storage"

// Components lists every health component a Scanner reports on.
var Components = []string{StrategyRichQuery, StrategyRawEnum, ComponentStorage}

// ErrScanInProgress is returned by TryScan while another pass is running.
var ErrScanInProgress = errors.New("scan already in progress")

// Result summarizes one pass. Strategy names the last strategy that ran.
// PersistErr is set when the records were merged in memory but could not be
// saved.
type Result struct {
	Added      int
	Total      int
	Strategy   string
	Duration   time.Duration
	PersistErr error
}

// Scanner runs scan passes against one store.
type Scanner struct {
	store    *inventory.Store
	primary  Strategy
	fallback Strategy
	now      func() time.Time
	metrics  *Metrics
	health   *health.Monitor

	group    singleflight.Group
	mu       sync.Mutex
	cur      *pass
	seq      uint64
	inFlight atomic.Bool
}

// pass is one running scan and the callers waiting on it.
type pass struct {
	id      uint64
	ch      <-chan singleflight.Result
	cancel  context.CancelFunc
	waiters int
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithClock sets the clock used for missing install dates.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

// WithMetrics records scan metrics in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Scanner) { s.metrics = m }
}

// WithHealth reports component health to h after every pass.
func WithHealth(h *health.Monitor) Option {
	return func(s *Scanner) { s.health = h }
}

// New returns a scanner that tries primary and falls back to fallback.
func New(store *inventory.Store, primary, fallback Strategy, opts ...Option) *Scanner {
	s := &Scanner{
		store:    store,
		primary:  primary,
		fallback: fallback,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InFlight reports whether a pass is running.
func (s *Scanner) InFlight() bool {
	return s.inFlight.Load()
}

// Scan runs one pass, or joins the pass already running and returns its
// result. Tool failures never fail the scan; the error is non-nil only when
// ctx ends before the pass completes.
//
// The pass does not run under any caller's ctx. A caller whose ctx ends stops
// waiting; the pass itself is cancelled only when its last waiter leaves, and
// that waiter receives the cancelled pass's result once it has saved.
func (s *Scanner) Scan(ctx context.Context) (Result, error) {
	p, _ := s.acquire(ctx, false)
	return s.wait(ctx, p)
}

// TryScan runs a pass unless one is already running.
func (s *Scanner) TryScan(ctx context.Context) (Result, error) {
	p, err := s.acquire(ctx, true)
	if err != nil {
		return Result{}, err
	}
	return s.wait(ctx, p)
}

// acquire joins the running pass or starts a new one. With exclusive set it
// refuses to join.
func (s *Scanner) acquire(ctx context.Context, exclusive bool) (*pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p := s.cur; p != nil {
		if exclusive {
			return nil, ErrScanInProgress
		}
		p.waiters++
		log.Debug("joined in-flight scan", "pass", p.id, "waiters", p.waiters)
		return p, nil
	}

	s.seq++
	passCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &pass{id: s.seq, cancel: cancel, waiters: 1}
	s.cur = p
	s.inFlight.Store(true)
	p.ch = s.group.DoChan(strconv.FormatUint(p.id, 10), func() (any, error) {
		defer s.finish(p)
		return s.run(passCtx, p.id)
	})
	return p, nil
}

func (s *Scanner) finish(p *pass) {
	s.mu.Lock()
	if s.cur == p {
		s.cur = nil
		s.inFlight.Store(false)
	}
	s.mu.Unlock()
	p.cancel()
}

func (s *Scanner) wait(ctx context.Context, p *pass) (Result, error) {
	select {
	case r := <-p.ch:
		res, _ := r.Val.(Result)
		return res, r.Err
	case <-ctx.Done():
	}

	s.mu.Lock()
	p.waiters--
	last := p.waiters == 0
	s.mu.Unlock()

	if !last {
		log.Debug("caller left in-flight scan", "pass", p.id, logging.KeyError, ctx.Err())
		return Result{}, fmt.Errorf("scan: %w", ctx.Err())
	}

	p.cancel()
	r := <-p.ch
	res, _ := r.Val.(Result)
	return res, r.Err
}

func (s *Scanner) run(ctx context.Context, id uint64) (Result, error) {
	plog := log.With("pass", id)
	ctx = logging.NewContext(ctx, plog)
	start := time.Now()
	plog.Info("scan started")

	merger := s.store.NewMerger(s.now)
	res := Result{Strategy: s.primary.Name()}

	out := s.primary.Collect(ctx, merger)
	s.report(s.primary.Name(), out)
	s.metrics.AddRecords(s.primary.Name(), out.Added)

	if out.Added == 0 && ctx.Err() == nil && s.fallback != nil {
		plog.Info("rich query added nothing, enumerating registry roots")
		res.Strategy = s.fallback.Name()
		out = s.fallback.Collect(ctx, merger)
		s.report(s.fallback.Name(), out)
		s.metrics.AddRecords(s.fallback.Name(), out.Added)
	} else if out.Added > 0 && s.fallback != nil {
		s.updateHealth(s.fallback.Name(), health.Healthy, "not needed")
	}

	res.Added = merger.Added()

	// Persist once per pass, even when nothing was added or ctx ended.
	outcome := "ok"
	if err := s.store.Save(); err != nil {
		res.PersistErr = err
		outcome = "persist_failed"
		s.updateHealth(ComponentStorage, health.Unhealthy, err.Error())
	} else {
		s.updateHealth(ComponentStorage, health.Healthy, "")
	}

	res.Total = s.store.Len()
	res.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		s.metrics.ObserveScan("cancelled", res.Duration, res.Total)
		plog.Warn("scan cancelled", "added", res.Added, logging.KeyError, err)
		return res, fmt.Errorf("scan: %w", err)
	}

	s.metrics.ObserveScan(outcome, res.Duration, res.Total)
	plog.Info("scan finished",
		"added", res.Added,
		"total", res.Total,
		logging.KeyStrategy, res.Strategy,
		logging.KeyDurationMs, res.Duration.Milliseconds())
	return res, nil
}

// report maps a strategy outcome onto its health component.
func (s *Scanner) report(name string, out Outcome) {
	switch {
	case out.Err == nil:
		s.updateHealth(name, health.Healthy, fmt.Sprintf("%d candidates, %d added", out.Candidates, out.Added))
	case errors.Is(out.Err, context.Canceled), errors.Is(out.Err, context.DeadlineExceeded):
		s.updateHealth(name, health.Unknown, "scan cancelled")
	case errors.Is(out.Err, regquery.ErrToolUnavailable):
		s.updateHealth(name, health.Unhealthy, out.Err.Error())
	default:
		s.updateHealth(name, health.Degraded, out.Err.Error())
	}
}

func (s *Scanner) updateHealth(name string, status health.Status, msg string) {
	if s.health != nil {
		s.health.Update(name, status, msg)
	}
}
