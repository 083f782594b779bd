package scanner

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/breeze-rmm/swtrack/internal/regquery"
)

// Metrics instruments scans. A nil *Metrics records nothing.
type Metrics struct {
	// Scan passes by outcome: ok, persist_failed, cancelled
	Scans *prometheus.CounterVec

	ScanDuration prometheus.Histogram

	// Records added by the strategy that produced them
	RecordsAdded *prometheus.CounterVec

	// External tool runs by tool and result: ok, unavailable, timeout, error
	ToolInvocations *prometheus.CounterVec

	InventorySize prometheus.Gauge
}

// NewMetrics registers the scan metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Scans: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swtrack_scans_total",
			Help: "Scan passes by outcome",
		}, []string{"outcome"}),

		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "swtrack_scan_duration_seconds",
			Help:    "Duration of a full scan pass including persistence",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),

		RecordsAdded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swtrack_scan_records_added_total",
			Help: "Records added to the inventory by scan strategy",
		}, []string{"strategy"}),

		ToolInvocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swtrack_tool_invocations_total",
			Help: "External registry tool invocations by tool and result",
		}, []string{"tool", "result"}),

		InventorySize: f.NewGauge(prometheus.GaugeOpts{
			Name: "swtrack_inventory_records",
			Help: "Number of records in the inventory after the last scan",
		}),
	}
}

// ObserveScan records one finished pass.
func (m *Metrics) ObserveScan(outcome string, d time.Duration, total int) {
	if m != nil {
		m.Scans.WithLabelValues(outcome).Inc()
		m.ScanDuration.Observe(d.Seconds())
		m.InventorySize.Set(float64(total))
	}
}

// AddRecords counts records added by a strategy.
func (m *Metrics) AddRecords(strategy string, n int) {
	if m != nil && n > 0 {
		m.RecordsAdded.WithLabelValues(strategy).Add(float64(n))
	}
}

// IncToolInvocation counts one external tool run.
func (m *Metrics) IncToolInvocation(tool, result string) {
	if m != nil {
		m.ToolInvocations.WithLabelValues(tool, result).Inc()
	}
}

// instrumentedRunner counts every invocation of the wrapped runner.
type instrumentedRunner struct {
	next    regquery.Runner
	metrics *Metrics
}

// InstrumentRunner wraps r so each run is counted in m.
func InstrumentRunner(r regquery.Runner, m *Metrics) regquery.Runner {
	if m == nil {
		return r
	}
	return &instrumentedRunner{next: r, metrics: m}
}

func (r *instrumentedRunner) Run(ctx context.Context, name string, args ...string) ([]string, error) {
	lines, err := r.next.Run(ctx, name, args...)
	r.metrics.IncToolInvocation(toolLabel(name), resultLabel(err))
	return lines, err
}

// toolLabel keeps label cardinality low: the executable's base name only.
func toolLabel(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(strings.ToLower(name), ".exe")
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, regquery.ErrToolUnavailable):
		return "unavailable"
	case errors.Is(err, regquery.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
