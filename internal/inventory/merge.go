package inventory

import (
	"strings"
	"time"
)

// Candidate is a program reported by a scan source, before date
// normalization and dedup. It is never stored as-is.
type Candidate struct {
	Name    string
	Version string
	RawDate string
	Source  string
}

// Merger folds scan candidates into a Store. The first record seen for a
// name wins: a candidate matching an existing record, or one merged earlier
// in the same pass, is dropped and the existing record is left untouched.
type Merger struct {
	store *Store
	now   func() time.Time
	added int
}

// NewMerger starts a merge pass. now supplies the fallback install date.
func (s *Store) NewMerger(now func() time.Time) *Merger {
	if now == nil {
		now = time.Now
	}
	return &Merger{store: s, now: now}
}

// Known reports whether name is already in the store, ignoring case.
func (m *Merger) Known(name string) bool {
	return m.store.Contains(name)
}

// Offer appends c as an Installed record unless its name is blank or
// already known. Reports whether a record was added.
func (m *Merger) Offer(c Candidate) bool {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return false
	}

	rec := NewRecord(name, c.Version, NormalizeDate(c.RawDate, m.now()), StatusInstalled)
	if !m.store.appendIfAbsent(rec) {
		log.Debug("candidate already tracked", "name", name, "source", c.Source)
		return false
	}

	m.added++
	log.Debug("candidate added", "name", name, "version", rec.Version, "source", c.Source)
	return true
}

// Added returns how many records this pass inserted.
func (m *Merger) Added() int {
	return m.added
}

// Merge offers every candidate to store and returns the number inserted.
func Merge(store *Store, candidates []Candidate, now func() time.Time) int {
	m := store.NewMerger(now)
	for _, c := range candidates {
		m.Offer(c)
	}
	return m.Added()
}
