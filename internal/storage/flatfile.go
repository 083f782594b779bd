// Package storage persists the inventory as a flat text file: one record per
// line, "name,version,YYYY-MM-DD,status", no header and no escaping.
package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/breeze-rmm/swtrack/internal/inventory"
	"github.com/breeze-rmm/swtrack/internal/logging"
)

var log = logging.L("storage")

// Delimiter separates fields on a line.
const Delimiter = ","

const fieldCount = 4

// ErrDelimiterInField marks a record whose name or version contains the
// delimiter. Such a line is written verbatim and will be skipped on reload.
var ErrDelimiterInField = errors.New("field contains the delimiter")

// LineError describes a line that could not be decoded.
type LineError struct {
	Line   int
	Reason string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// FlatFile implements inventory.Persister on a single text file.
type FlatFile struct {
	path string
}

// NewFlatFile returns a persister for path. The file need not exist.
func NewFlatFile(path string) *FlatFile {
	return &FlatFile{path: path}
}

// Path returns the backing file path.
func (f *FlatFile) Path() string {
	return f.path
}

// Load reads every record. A missing file is an empty inventory; malformed
// lines are logged and skipped.
func (f *FlatFile) Load() ([]inventory.Record, error) {
	file, err := os.Open(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Info("no inventory file yet, starting empty", "path", f.path)
		return []inventory.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.path, err)
	}
	defer file.Close()

	records, skipped, err := Decode(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	for _, le := range skipped {
		log.Warn("skipping malformed inventory line", "path", f.path, "line", le.Line, "reason", le.Reason)
	}
	return records, nil
}

// Save rewrites the whole file. The data goes to a temp file in the same
// directory which is then renamed over the target.
func (f *FlatFile) Save(records []inventory.Record) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := Encode(tmp, records); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}

// Encode writes records in file order.
func Encode(w io.Writer, records []inventory.Record) error {
	bw := bufio.NewWriter(w)
	for _, r := range records {
		if err := CheckRecord(r); err != nil {
			log.Warn("record will not survive a reload", "name", r.Name, logging.KeyError, err)
		}
		if _, err := bw.WriteString(EncodeLine(r)); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Decode reads records from r. Blank lines are ignored; lines that do not
// decode are returned as LineErrors and left out.
func Decode(r io.Reader) ([]inventory.Record, []*LineError, error) {
	records := []inventory.Record{}
	var skipped []*LineError

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		rec, err := DecodeLine(line)
		if err != nil {
			skipped = append(skipped, &LineError{Line: lineNo, Reason: err.Error()})
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	return records, skipped, nil
}

// EncodeLine formats one record without a trailing newline.
func EncodeLine(r inventory.Record) string {
	return strings.Join([]string{r.Name, r.Version, r.DateString(), string(r.Status)}, Delimiter)
}

// DecodeLine parses one line.
func DecodeLine(line string) (inventory.Record, error) {
	parts := strings.Split(line, Delimiter)
	if len(parts) != fieldCount {
		return inventory.Record{}, fmt.Errorf("expected %d fields, got %d", fieldCount, len(parts))
	}

	name := strings.TrimSpace(parts[0])
	if name == "" {
		return inventory.Record{}, errors.New("empty name")
	}

	date, err := time.Parse(inventory.DateLayout, strings.TrimSpace(parts[2]))
	if err != nil {
		return inventory.Record{}, fmt.Errorf("bad date %q", parts[2])
	}

	status, err := inventory.ParseStatus(parts[3])
	if err != nil {
		return inventory.Record{}, err
	}

	return inventory.Record{
		Name:        name,
		Version:     parts[1],
		InstalledOn: date,
		Status:      status,
	}, nil
}

// CheckRecord reports whether r can be written and read back unchanged.
func CheckRecord(r inventory.Record) error {
	if strings.Contains(r.Name, Delimiter) {
		return fmt.Errorf("name %q: %w", r.Name, ErrDelimiterInField)
	}
	if strings.Contains(r.Version, Delimiter) {
		return fmt.Errorf("version %q: %w", r.Version, ErrDelimiterInField)
	}
	return nil
}
