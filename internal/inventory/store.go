package inventory

import (
	"fmt"
	"strings"
	"sync"

	"github.com/breeze-rmm/swtrack/internal/logging"
)

var log = logging.L("inventory")

// Persister is the durable backing of a Store. Load on a missing file must
// return an empty slice and no error.
type Persister interface {
	Load() ([]Record, error)
	Save(records []Record) error
}

// PersistError reports a failed save. The in-memory store is still correct;
// only durability of the session's changes is at risk.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist inventory: %v", e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// Store is the ordered, in-memory inventory. Insertion order is display and
// persistence order. All methods are safe for concurrent use; writers are
// serialized by one lock.
type Store struct {
	mu        sync.RWMutex
	records   []Record
	persister Persister
}

// Open loads the store from p.
func Open(p Persister) (*Store, error) {
	records, err := p.Load()
	if err != nil {
		return nil, fmt.Errorf("load inventory: %w", err)
	}
	log.Debug("inventory loaded", "records", len(records))
	return &Store{records: records, persister: p}, nil
}

// List returns a copy of all records in order.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Get returns the record at index.
func (s *Store) Get(index int) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index < 0 || index >= len(s.records) {
		return Record{}, false
	}
	return s.records[index], true
}

// Contains reports whether any record has name, ignoring case.
func (s *Store) Contains(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOfLocked(name) >= 0
}

// Add appends rec, persists the store and returns the index rec landed at.
// The index is valid even when persisting fails.
func (s *Store) Add(rec Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
	return len(s.records) - 1, s.saveLocked()
}

// Update replaces the record at index and persists the store. An
// out-of-range index is a no-op and reports false.
func (s *Store) Update(index int, rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.records) {
		return false, nil
	}
	s.records[index] = rec
	return true, s.saveLocked()
}

// RemoveAt deletes the record at index and persists the store. An
// out-of-range index is a no-op and reports false.
func (s *Store) RemoveAt(index int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.records) {
		return false, nil
	}
	s.records = append(s.records[:index], s.records[index+1:]...)
	return true, s.saveLocked()
}

// Save writes the full store to the persister.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

// appendIfAbsent appends rec unless a record with the same name (ignoring
// case) exists. Does not persist.
func (s *Store) appendIfAbsent(rec Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOfLocked(rec.Name) >= 0 {
		return false
	}
	s.records = append(s.records, rec)
	return true
}

func (s *Store) indexOfLocked(name string) int {
	name = strings.TrimSpace(name)
	for i, r := range s.records {
		if strings.EqualFold(r.Name, name) {
			return i
		}
	}
	return -1
}

// saveLocked requires s.mu held (read or write).
func (s *Store) saveLocked() error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.Save(s.records); err != nil {
		log.Error("failed to persist inventory", "records", len(s.records), logging.KeyError, err)
		return &PersistError{Err: err}
	}
	return nil
}
