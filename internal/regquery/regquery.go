// Package regquery runs the external tools that read the uninstall registry
// and hands back their combined output as lines.
package regquery

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/breeze-rmm/swtrack/internal/logging"
)

var log = logging.L("regquery")

const (
	// DefaultTimeout bounds a single tool invocation.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxLines caps how many output lines are kept per invocation.
	DefaultMaxLines = 100000

	maxLineBytes = 1024 * 1024
	waitDelay    = 2 * time.Second
)

var (
	// ErrToolUnavailable means the command could not be started.
	ErrToolUnavailable = errors.New("tool unavailable")

	// ErrTimeout means the command ran past its deadline and was killed.
	ErrTimeout = errors.New("tool timed out")
)

// Runner runs one external command and returns its merged stdout and stderr.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]string, error)
}

// ExecRunner runs commands as child processes.
type ExecRunner struct {
	Timeout  time.Duration
	MaxLines int
}

// NewExecRunner returns a runner with the given limits; zero values fall back
// to the defaults.
func NewExecRunner(timeout time.Duration, maxLines int) *ExecRunner {
	return &ExecRunner{Timeout: timeout, MaxLines: maxLines}
}

// Run starts name with args, reads every output line until the stream closes
// and then waits for the process. A non-zero exit status is not an error.
// On timeout the process tree is killed and the lines read so far are
// returned together with ErrTimeout.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxLines := r.MaxLines
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	configureProcess(cmd)
	cmd.Cancel = func() error { return killTree(cmd) }
	cmd.WaitDelay = waitDelay

	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	cmd.Stderr = cmd.Stdout

	start := time.Now()
	if err := cmd.Start(); err != nil {
		log.Warn("failed to start tool", logging.KeyTool, name, logging.KeyError, err)
		return nil, fmt.Errorf("%w: %s: %v", ErrToolUnavailable, name, err)
	}

	lines := make([]string, 0, 64)
	dropped := 0
	sc := bufio.NewScanner(out)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		if len(lines) >= maxLines {
			dropped++
			continue
		}
		lines = append(lines, sc.Text())
	}
	readErr := sc.Err()
	if readErr != nil {
		// Keep the pipe drained so the child can exit.
		_, _ = io.Copy(io.Discard, out)
	}

	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	if dropped > 0 {
		log.Warn("tool output truncated", logging.KeyTool, name, "kept", len(lines), "dropped", dropped)
	}
	if readErr != nil {
		log.Debug("error reading tool output", logging.KeyTool, name, logging.KeyError, readErr)
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		log.Warn("tool timed out, process tree killed", logging.KeyTool, name, "timeout", timeout)
		return lines, fmt.Errorf("%w after %s: %s", ErrTimeout, timeout, name)
	}
	if err := ctx.Err(); err != nil {
		return lines, fmt.Errorf("%s: %w", name, err)
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		log.Debug("tool exited non-zero", logging.KeyTool, name, "exitCode", exitErr.ExitCode())
	default:
		log.Debug("tool wait failed", logging.KeyTool, name, logging.KeyError, waitErr)
	}

	log.Debug("tool finished", logging.KeyTool, name, "lines", len(lines), logging.KeyDurationMs, elapsed.Milliseconds())
	return lines, nil
}

// Resolve returns the first candidate that exists. Candidates containing a
// path separator are checked on disk; bare names are looked up on PATH.
func Resolve(candidates []string) (string, bool) {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if strings.ContainsAny(c, `/\`) {
			if info, err := os.Stat(c); err == nil && !info.IsDir() {
				return c, true
			}
			continue
		}
		if p, err := exec.LookPath(c); err == nil {
			return p, true
		}
	}
	return "", false
}

// Available reports whether a tool produced any non-blank output.
func Available(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return true
		}
	}
	return false
}
