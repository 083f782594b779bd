package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/breeze-rmm/swtrack/internal/inventory"
)

func rec(name, version string, y int, m time.Month, d int, st inventory.Status) inventory.Record {
	return inventory.Record{
		Name:        name,
		Version:     version,
		InstalledOn: time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		Status:      st,
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	f := NewFlatFile(filepath.Join(t.TempDir(), "software_data.txt"))
	records, err := f.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty inventory, got %d records", len(records))
	}
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "software_data.txt")
	f := NewFlatFile(path)
	want := []inventory.Record{
		rec("7-Zip", "23.01", 2023, time.April, 15, inventory.StatusInstalled),
		rec("WinRAR", "Unknown", 2024, time.January, 2, inventory.StatusTrial),
		rec("Old Tool", "1.0", 2019, time.December, 31, inventory.StatusNotInstalled),
	}
	if err := f.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	wantText := "7-Zip,23.01,2023-04-15,Installed\n" +
		"WinRAR,Unknown,2024-01-02,Trial\n" +
		"Old Tool,1.0,2019-12-31,Not Installed\n"
	if string(data) != wantText {
		t.Fatalf("file contents:\n%s\nwant:\n%s", data, wantText)
	}

	got, err := f.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	f := NewFlatFile(filepath.Join(dir, "software_data.txt"))
	if err := f.Save([]inventory.Record{rec("A", "1", 2020, time.May, 5, inventory.StatusExpired)}); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected only the data file, found %v", names)
	}
}

func TestDecodeSkipsMalformedLines(t *testing.T) {
	input := strings.Join([]string{
		"Good One,1.2,2022-02-02,Installed",
		"too,few,fields",
		"",
		"Bad Date,1.0,2022-13-40,Installed",
		",1.0,2022-02-02,Installed",
		"Bad Status,1.0,2022-02-02,Borrowed",
		"Comma, Inc,2.0,2022-02-02,Installed",
		"Good Two,Unknown,2021-07-04,expired",
	}, "\n")

	records, skipped, err := Decode(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(records), records)
	}
	if records[0].Name != "Good One" || records[1].Name != "Good Two" {
		t.Errorf("unexpected records %+v", records)
	}
	if records[1].Status != inventory.StatusExpired {
		t.Errorf("status = %q, want Expired", records[1].Status)
	}
	if len(skipped) != 5 {
		t.Fatalf("got %d skipped lines, want 5", len(skipped))
	}
	if skipped[0].Line != 2 {
		t.Errorf("first skipped line = %d, want 2", skipped[0].Line)
	}
}

func TestLoadToleratesCRLF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "software_data.txt")
	if err := os.WriteFile(path, []byte("Zoom,5.0,2023-01-01,Installed\r\nSlack,4.1,2023-02-01,Trial\r\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	records, err := NewFlatFile(path).Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[1].Status != inventory.StatusTrial {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestCheckRecordFlagsDelimiter(t *testing.T) {
	err := CheckRecord(rec("Acme, Inc", "1", 2020, time.May, 5, inventory.StatusInstalled))
	if !errors.Is(err, ErrDelimiterInField) {
		t.Fatalf("expected ErrDelimiterInField, got %v", err)
	}
	err = CheckRecord(rec("Acme", "1,2", 2020, time.May, 5, inventory.StatusInstalled))
	if !errors.Is(err, ErrDelimiterInField) {
		t.Fatalf("expected ErrDelimiterInField for version, got %v", err)
	}
	if err := CheckRecord(rec("Acme", "1.2", 2020, time.May, 5, inventory.StatusInstalled)); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestEncodeWritesDelimitedRecordVerbatim(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, []inventory.Record{rec("Acme, Inc", "1", 2020, time.May, 5, inventory.StatusInstalled)}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "Acme, Inc,1,2020-05-05,Installed\n" {
		t.Fatalf("got %q", buf.String())
	}
	records, skipped, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 || len(skipped) != 1 {
		t.Fatalf("expected the line to be skipped on reload, got %d records %d skipped", len(records), len(skipped))
	}
}

func TestRoundTripProperty(t *testing.T) {
	field := rapid.StringMatching(`[A-Za-z0-9][A-Za-z0-9 ._()+-]{0,30}[A-Za-z0-9)]`)
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(t, "n")
		records := make([]inventory.Record, 0, n)
		for i := 0; i < n; i++ {
			records = append(records, inventory.Record{
				Name:        field.Draw(t, "name"),
				Version:     field.Draw(t, "version"),
				InstalledOn: time.Date(rapid.IntRange(1990, 2099).Draw(t, "y"), time.Month(rapid.IntRange(1, 12).Draw(t, "m")), rapid.IntRange(1, 28).Draw(t, "d"), 0, 0, 0, 0, time.UTC),
				Status:      rapid.SampledFrom(inventory.Statuses).Draw(t, "status"),
			})
		}

		var buf bytes.Buffer
		if err := Encode(&buf, records); err != nil {
			t.Fatalf("Encode: %v", err)
		}
		got, skipped, err := Decode(&buf)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if len(skipped) != 0 {
			t.Fatalf("unexpected skipped lines %v", skipped)
		}
		if len(got) != len(records) {
			t.Fatalf("got %d records, want %d", len(got), len(records))
		}
		for i := range records {
			if got[i] != records[i] {
				t.Fatalf("record %d = %+v, want %+v", i, got[i], records[i])
			}
		}
	})
}
