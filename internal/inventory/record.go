// Package inventory holds the software records of one tracker session: the
// ordered Store, the scan Merger that appends detected software to it, and
// the date normalization shared by every scan source.
package inventory

import (
	"fmt"
	"strings"
	"time"
)

// UnknownVersion is recorded when a source reports no version.
const UnknownVersion = "Unknown"

// DateLayout is the persisted and user-facing date format.
const DateLayout = "2006-01-02"

// Status is the lifecycle state of a tracked program.
type Status string

const (
	StatusInstalled    Status = "Installed"
	StatusTrial        Status = "Trial"
	StatusExpired      Status = "Expired"
	StatusNotInstalled Status = "Not Installed"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{StatusInstalled, StatusTrial, StatusExpired, StatusNotInstalled}

// ParseStatus matches s against the known statuses, ignoring case and
// surrounding space.
func ParseStatus(s string) (Status, error) {
	s = strings.TrimSpace(s)
	for _, st := range Statuses {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Record is one tracked program.
type Record struct {
	Name        string    `json:"name" yaml:"name"`
	Version     string    `json:"version" yaml:"version"`
	InstalledOn time.Time `json:"installedOn" yaml:"installedOn"`
	Status      Status    `json:"status" yaml:"status"`
}

// NewRecord builds a record with the version defaulted and the date reduced
// to a calendar day.
func NewRecord(name, version string, installedOn time.Time, status Status) Record {
	version = strings.TrimSpace(version)
	if version == "" {
		version = UnknownVersion
	}
	return Record{
		Name:        strings.TrimSpace(name),
		Version:     version,
		InstalledOn: Day(installedOn),
		Status:      status,
	}
}

// SameName reports whether the record's name matches name, ignoring case.
func (r Record) SameName(name string) bool {
	return strings.EqualFold(r.Name, strings.TrimSpace(name))
}

// DateString formats InstalledOn as YYYY-MM-DD.
func (r Record) DateString() string {
	return r.InstalledOn.Format(DateLayout)
}

// Day strips the clock from t, keeping its calendar date in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
