// Package regparse turns the text printed by the registry query tools into
// scan candidates.
package regparse

import (
	"encoding/csv"
	"strings"

	"github.com/breeze-rmm/swtrack/internal/inventory"
	"github.com/breeze-rmm/swtrack/internal/logging"
)

var log = logging.L("regparse")

const (
	// DefaultKeyPrefix marks a sub-key line in `reg query <root>` output.
	DefaultKeyPrefix = "HKEY"

	// DefaultValueSeparator is the type token between a value's name and data.
	DefaultValueSeparator = "REG_SZ"

	// HeaderName is the name column of the rich query's CSV header.
	HeaderName = "DisplayName"

	// SourceRichQuery and SourceRawEnum tag candidates with where they came from.
	SourceRichQuery = "rich_query"
	SourceRawEnum   = "raw_enumeration"
)

// RichQueryResult is what ParseRichQuery found.
type RichQueryResult struct {
	Candidates []inventory.Candidate
	Skipped    int
}

// ParseRichQuery reads CSV output with a header line followed by
// name,version[,installDate] rows. Rows with no name are dropped. When the
// header is quoted, as ConvertTo-Csv prints it, every data row must be quoted
// too and an unquoted row is stderr mixed into the stream. Output with an
// unquoted header is taken as plain CSV, where only PowerShell error records
// count as noise. Noise rows are counted as skipped.
func ParseRichQuery(lines []string) RichQueryResult {
	res := RichQueryResult{}
	header := true
	quoted := false
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if header {
			header = false
			quoted = strings.HasPrefix(line, `"`)
			continue
		}
		if (quoted && !strings.HasPrefix(line, `"`)) || isErrorRecord(line) {
			log.Debug("skipping non-CSV line in query output", "line", line)
			res.Skipped++
			continue
		}

		fields, err := splitCSVLine(line)
		if err != nil || len(fields) == 0 {
			log.Debug("skipping unparsable line in query output", "line", line, logging.KeyError, err)
			res.Skipped++
			continue
		}

		name := unquote(fields[0])
		if name == "" || strings.EqualFold(name, HeaderName) {
			continue
		}

		c := inventory.Candidate{Name: name, Version: inventory.UnknownVersion, Source: SourceRichQuery}
		if len(fields) > 1 {
			if v := unquote(fields[1]); v != "" {
				c.Version = v
			}
		}
		if len(fields) > 2 {
			c.RawDate = unquote(fields[2])
		}
		res.Candidates = append(res.Candidates, c)
	}
	return res
}

// errorRecordPrefixes start the continuation lines PowerShell prints under an
// error message.
var errorRecordPrefixes = []string{"At line:", "At char:", "+ ", "+~", "CategoryInfo", "FullyQualifiedErrorId"}

// isErrorRecord reports whether line is part of a PowerShell error record,
// e.g. "Get-ItemProperty : Cannot find path ..." and the lines under it.
func isErrorRecord(line string) bool {
	if strings.HasPrefix(line, `"`) {
		return false
	}
	for _, p := range errorRecordPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	first, _, _ := strings.Cut(line, ",")
	cmdlet, _, ok := strings.Cut(first, " : ")
	return ok && strings.Contains(cmdlet, "-") && !strings.Contains(cmdlet, " ")
}

func splitCSVLine(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	return r.Read()
}

func unquote(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"`))
}

// ParseSubKeys returns the trimmed lines that start with one of prefixes.
// An empty prefix list means DefaultKeyPrefix.
func ParseSubKeys(lines []string, prefixes []string) []string {
	if len(prefixes) == 0 {
		prefixes = []string{DefaultKeyPrefix}
	}
	var keys []string
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		for _, p := range prefixes {
			if p != "" && strings.HasPrefix(line, p) {
				keys = append(keys, line)
				break
			}
		}
	}
	return keys
}

// ParseValue finds the first line naming field that also carries the sep
// token, and returns the trimmed text after the first sep. Output like
//
//	DisplayName    REG_SZ    Notepad++
//
// yields "Notepad++". An empty value counts as not found.
func ParseValue(lines []string, field, sep string) (string, bool) {
	if sep == "" {
		sep = DefaultValueSeparator
	}
	for _, line := range lines {
		if !strings.Contains(line, field) {
			continue
		}
		_, after, ok := strings.Cut(line, sep)
		if !ok {
			continue
		}
		if v := strings.TrimSpace(after); v != "" {
			return v, true
		}
		return "", false
	}
	return "", false
}

// IsReadableName rejects empty names and GUID-style registry entries.
func IsReadableName(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && !strings.Contains(name, "{")
}
