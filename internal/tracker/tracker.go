// Package tracker is the one surface the CLI and the HTTP API use to read and
// change the inventory. Input is validated here, so the inventory never sees
// a malformed record from a user.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/breeze-rmm/swtrack/internal/inventory"
	"github.com/breeze-rmm/swtrack/internal/logging"
	"github.com/breeze-rmm/swtrack/internal/scanner"
)

var log = logging.L("tracker")

// ErrNoScanner is returned by Scan when the service was built without a
// scanner.
var ErrNoScanner = errors.New("scanning is not configured")

// ValidationError reports one invalid input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RecordInput is a record as typed by a user. Blank version means Unknown,
// blank date means today and blank status means Installed.
type RecordInput struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	InstalledOn string `json:"installedOn"`
	Status      string `json:"status"`
}

// Validate checks the input and builds the record it describes.
func (in RecordInput) Validate(now time.Time) (inventory.Record, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return inventory.Record{}, &ValidationError{Field: "name", Reason: "must not be empty"}
	}

	date := inventory.Day(now)
	if raw := strings.TrimSpace(in.InstalledOn); raw != "" {
		d, err := time.Parse(inventory.DateLayout, raw)
		if err != nil {
			return inventory.Record{}, &ValidationError{Field: "installedOn", Reason: fmt.Sprintf("%q is not YYYY-MM-DD", raw)}
		}
		date = d
	}

	status := inventory.StatusInstalled
	if raw := strings.TrimSpace(in.Status); raw != "" {
		st, err := inventory.ParseStatus(raw)
		if err != nil {
			return inventory.Record{}, &ValidationError{Field: "status", Reason: fmt.Sprintf("%q is not one of %s", raw, statusList())}
		}
		status = st
	}

	return inventory.NewRecord(name, in.Version, date, status), nil
}

func statusList() string {
	names := make([]string, len(inventory.Statuses))
	for i, s := range inventory.Statuses {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

// Service wires the store and the scanner together.
type Service struct {
	store   *inventory.Store
	scanner *scanner.Scanner
	now     func() time.Time
}

// New returns a service over store. sc may be nil when scanning is not
// needed.
func New(store *inventory.Store, sc *scanner.Scanner) *Service {
	return &Service{store: store, scanner: sc, now: time.Now}
}

// ListAll returns every record in order.
func (s *Service) ListAll() []inventory.Record {
	return s.store.List()
}

// Get returns the record at index.
func (s *Service) Get(index int) (inventory.Record, bool) {
	return s.store.Get(index)
}

// AddRecord validates in, appends it and returns the record with its index.
// Manual adds are not deduplicated. A *inventory.PersistError means the
// record was added but not saved.
func (s *Service) AddRecord(in RecordInput) (inventory.Record, int, error) {
	rec, err := in.Validate(s.now())
	if err != nil {
		return inventory.Record{}, -1, err
	}
	index, err := s.store.Add(rec)
	if err != nil {
		return rec, index, err
	}
	log.Info("record added", "index", index, "name", rec.Name)
	return rec, index, nil
}

// UpdateRecord replaces the record at index. An out-of-range index is a
// no-op reported as false.
func (s *Service) UpdateRecord(index int, in RecordInput) (bool, error) {
	rec, err := in.Validate(s.now())
	if err != nil {
		return false, err
	}
	ok, err := s.store.Update(index, rec)
	if ok {
		log.Info("record updated", "index", index, "name", rec.Name)
	}
	return ok, err
}

// RemoveRecord deletes the record at index. An out-of-range index is a no-op
// reported as false.
func (s *Service) RemoveRecord(index int) (bool, error) {
	ok, err := s.store.RemoveAt(index)
	if ok {
		log.Info("record removed", "index", index)
	}
	return ok, err
}

// Scan runs a scan pass, joining one that is already running.
func (s *Service) Scan(ctx context.Context) (scanner.Result, error) {
	if s.scanner == nil {
		return scanner.Result{}, ErrNoScanner
	}
	return s.scanner.Scan(ctx)
}

// TryScan runs a scan pass unless one is already running.
func (s *Service) TryScan(ctx context.Context) (scanner.Result, error) {
	if s.scanner == nil {
		return scanner.Result{}, ErrNoScanner
	}
	return s.scanner.TryScan(ctx)
}

// Scanning reports whether a scan pass is running.
func (s *Service) Scanning() bool {
	return s.scanner != nil && s.scanner.InFlight()
}
