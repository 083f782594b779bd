package inventory

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestMergeSkipsCaseInsensitiveMatch(t *testing.T) {
	s, p := openStore(t, NewRecord("Zoom", "5.1", day(2023, 4, 15), StatusTrial))

	added := Merge(s, []Candidate{{Name: "ZOOM", Version: "6.0", RawDate: "20240101"}}, fixedNow)
	if added != 0 {
		t.Fatalf("added = %d, want 0", added)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	r, _ := s.Get(0)
	if r.Version != "5.1" || r.Status != StatusTrial {
		t.Fatalf("existing record must not be updated, got %+v", r)
	}
	if p.saves() != 0 {
		t.Fatal("merge must not persist on its own")
	}
}

func TestMergeFirstSeenWinsWithinPass(t *testing.T) {
	s, _ := openStore(t)
	added := Merge(s, []Candidate{
		{Name: "Git", Version: "2.44"},
		{Name: "git", Version: "2.30"},
		{Name: "Notepad++", Version: "8.6", RawDate: "20230415"},
	}, fixedNow)
	if added != 2 {
		t.Fatalf("added = %d, want 2", added)
	}
	recs := s.List()
	if recs[0].Name != "Git" || recs[0].Version != "2.44" {
		t.Fatalf("first candidate should win, got %+v", recs[0])
	}
	if recs[1].DateString() != "2023-04-15" {
		t.Fatalf("raw date not normalized: %s", recs[1].DateString())
	}
	if recs[0].DateString() != "2024-03-09" {
		t.Fatalf("missing date should default to today, got %s", recs[0].DateString())
	}
	for _, r := range recs {
		if r.Status != StatusInstalled {
			t.Fatalf("scan records must be Installed, got %q", r.Status)
		}
	}
}

func TestMergerRejectsBlankNameAndDefaultsVersion(t *testing.T) {
	s, _ := openStore(t)
	m := s.NewMerger(fixedNow)
	if m.Offer(Candidate{Name: "   ", Version: "1.0"}) {
		t.Fatal("blank name must be rejected")
	}
	if !m.Offer(Candidate{Name: "7-Zip"}) {
		t.Fatal("7-Zip should be added")
	}
	if !m.Known("7-ZIP") {
		t.Fatal("Known should match case-insensitively")
	}
	if r, _ := s.Get(0); r.Version != UnknownVersion {
		t.Fatalf("Version = %q, want %q", r.Version, UnknownVersion)
	}
	if m.Added() != 1 {
		t.Fatalf("Added = %d, want 1", m.Added())
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		names := rapid.SliceOf(rapid.StringMatching(`[A-Za-z][A-Za-z0-9 +.]{0,12}`)).Draw(t, "names")
		cands := make([]Candidate, len(names))
		for i, n := range names {
			cands[i] = Candidate{Name: n, Version: "1.0"}
		}

		s, err := Open(&memPersister{})
		if err != nil {
			t.Fatal(err)
		}
		first := Merge(s, cands, fixedNow)
		if second := Merge(s, cands, fixedNow); second != 0 {
			t.Fatalf("second merge added %d records", second)
		}

		seen := map[string]bool{}
		for _, r := range s.List() {
			key := strings.ToLower(r.Name)
			if seen[key] {
				t.Fatalf("duplicate name %q after merge", r.Name)
			}
			seen[key] = true
		}
		if first != len(seen) {
			t.Fatalf("first merge added %d, store has %d unique names", first, len(seen))
		}
	})
}
