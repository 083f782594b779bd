package scanner

import (
	"context"
	"errors"
	"fmt"

	"github.com/breeze-rmm/swtrack/internal/inventory"
	"github.com/breeze-rmm/swtrack/internal/logging"
	"github.com/breeze-rmm/swtrack/internal/regparse"
	"github.com/breeze-rmm/swtrack/internal/regquery"
)

// Strategy names, also used as health component names.
const (
	StrategyRichQuery = regparse.SourceRichQuery
	StrategyRawEnum   = regparse.SourceRawEnum
)

// Registry value names read by the raw enumeration.
const (
	FieldDisplayName    = "DisplayName"
	FieldDisplayVersion = "DisplayVersion"
	FieldVersion        = "Version"
	FieldInstallDate    = "InstallDate"
)

// Sink receives candidates during a scan. *inventory.Merger implements it.
type Sink interface {
	Known(name string) bool
	Offer(c inventory.Candidate) bool
}

// Outcome is what one strategy did. Err is set when the strategy could not
// run at all; partial failures are logged and skipped.
type Outcome struct {
	Added      int
	Candidates int
	Err        error
}

// Strategy is one way of discovering installed software.
type Strategy interface {
	Name() string
	Collect(ctx context.Context, sink Sink) Outcome
}

// RichQuery asks PowerShell for every uninstall entry in one CSV listing.
type RichQuery struct {
	Runner regquery.Runner
	Paths  []string
	Script string

	// Resolve maps a configured location to a runnable path. Defaults to
	// regquery.Resolve.
	Resolve func(candidates []string) (string, bool)
}

func (q *RichQuery) Name() string { return StrategyRichQuery }

// Collect tries each PowerShell location in order and stops at the first one
// whose output adds at least one record.
func (q *RichQuery) Collect(ctx context.Context, sink Sink) Outcome {
	log := logging.FromContext(ctx).With(logging.KeyStrategy, StrategyRichQuery)
	resolve := q.Resolve
	if resolve == nil {
		resolve = regquery.Resolve
	}

	var out Outcome
	var lastErr error
	ran := false
	for _, loc := range q.Paths {
		if err := ctx.Err(); err != nil {
			out.Err = err
			return out
		}

		path, ok := resolve([]string{loc})
		if !ok {
			log.Debug("powershell location not found", logging.KeyTool, loc)
			lastErr = fmt.Errorf("%w: %s", regquery.ErrToolUnavailable, loc)
			continue
		}

		lines, err := q.Runner.Run(ctx, path, "-NoProfile", "-NonInteractive", "-Command", q.Script)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				out.Err = ctx.Err()
				return out
			}
			if !errors.Is(err, regquery.ErrTimeout) {
				log.Warn("rich query failed", logging.KeyTool, path, logging.KeyError, err)
				continue
			}
			log.Warn("rich query timed out, using partial output", logging.KeyTool, path, "lines", len(lines))
		} else {
			ran = true
			if !regquery.Available(lines) {
				log.Info("powershell returned no output", logging.KeyTool, path)
				continue
			}
		}

		parsed := regparse.ParseRichQuery(lines)
		added := 0
		for _, c := range parsed.Candidates {
			if sink.Offer(c) {
				added++
			}
		}
		out.Candidates += len(parsed.Candidates)
		out.Added += added
		log.Info("rich query finished", logging.KeyTool, path,
			"candidates", len(parsed.Candidates), "added", added, "skipped", parsed.Skipped)
		if added > 0 {
			return out
		}
	}

	if !ran {
		if lastErr == nil {
			lastErr = fmt.Errorf("%w: no powershell location configured", regquery.ErrToolUnavailable)
		}
		out.Err = lastErr
	}
	return out
}

// RawEnum walks the uninstall roots with one `reg query` per sub-key value.
type RawEnum struct {
	Runner    regquery.Runner
	Tool      string
	Roots     []string
	Prefix    string
	Separator string
}

func (e *RawEnum) Name() string { return StrategyRawEnum }

// Collect lists the sub-keys of each root in order and offers every readable,
// not yet known DisplayName. A root that cannot be listed is skipped.
func (e *RawEnum) Collect(ctx context.Context, sink Sink) Outcome {
	log := logging.FromContext(ctx).With(logging.KeyStrategy, StrategyRawEnum)

	var out Outcome
	var lastErr error
	listed := 0
	for _, root := range e.Roots {
		if err := ctx.Err(); err != nil {
			out.Err = err
			return out
		}

		lines, err := e.Runner.Run(ctx, e.Tool, "query", root)
		if err != nil {
			log.Warn("failed to list registry root", logging.KeyRoot, root, logging.KeyError, err)
			lastErr = err
			continue
		}
		listed++

		keys := regparse.ParseSubKeys(lines, []string{e.Prefix})
		added := 0
		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				out.Err = err
				return out
			}

			name, ok := e.value(ctx, key, FieldDisplayName)
			if !ok || !regparse.IsReadableName(name) {
				continue
			}
			out.Candidates++
			if sink.Known(name) {
				continue
			}

			version, ok := e.value(ctx, key, FieldDisplayVersion)
			if !ok {
				version, ok = e.value(ctx, key, FieldVersion)
			}
			if !ok {
				version = inventory.UnknownVersion
			}
			rawDate, _ := e.value(ctx, key, FieldInstallDate)

			if sink.Offer(inventory.Candidate{
				Name:    name,
				Version: version,
				RawDate: rawDate,
				Source:  regparse.SourceRawEnum,
			}) {
				added++
				log.Debug("found software", "name", name, "version", version)
			}
		}
		out.Added += added
		log.Info("registry root scanned", logging.KeyRoot, root, "subkeys", len(keys), "added", added)
	}

	if listed == 0 && lastErr != nil {
		out.Err = lastErr
	}
	return out
}

func (e *RawEnum) value(ctx context.Context, key, field string) (string, bool) {
	lines, err := e.Runner.Run(ctx, e.Tool, "query", key, "/v", field)
	if err != nil {
		logging.FromContext(ctx).Debug("registry value query failed", logging.KeyRoot, key, "field", field, logging.KeyError, err)
		return "", false
	}
	return regparse.ParseValue(lines, field, e.Separator)
}
