package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// KilledMessage is appended to stderr when a tool exceeds its time budget.
const KilledMessage = "Killed - processing time exceeded"

const truncatedMarker = "[truncated]"

// waitDelay bounds how long output pipes are drained after the process is killed.
const waitDelay = 2 * time.Second

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// Local runs tools as child processes of the current process.
type Local struct{}

// Exec starts name with args and waits for it to exit.
// A non-zero exit is reported through Result.Code; only failures to start
// the process or cancellation of ctx are returned as errors.
func (Local) Exec(ctx context.Context, name string, args []string, opts *Options) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	runCtx := ctx
	cancel := func() {}
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	defer cancel()

	// #nosec G204 -- tool path and arguments come from toolchain configuration
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = opts.Dir
	cmd.Env = envList(opts.Env)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	runErr := cmd.Run()
	result := &Result{ExecTime: time.Since(start)}
	result.SetFilenameTransform(opts.Transform)

	limit := opts.MaxOutputLines
	if limit <= 0 {
		limit = DefaultMaxOutputLines
	}
	var truncOut, truncErr bool
	result.Stdout, truncOut = SplitLines(stdout.String(), limit)
	result.Stderr, truncErr = SplitLines(stderr.String(), limit)
	result.Truncated = truncOut || truncErr

	if runErr == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.Code = -1
		result.Stderr = append(result.Stderr, Line{Text: KilledMessage})
		return result, nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		result.Code = exitErr.ExitCode()
		return result, nil
	}
	return result, fmt.Errorf("failed to run %s: %w", name, runErr)
}

// SplitLines breaks captured output into at most limit lines.
// The trailing newline does not produce an empty line. When output is cut,
// a marker line is appended and truncated is true.
func SplitLines(text string, limit int) (lines []Line, truncated bool) {
	if text == "" {
		return nil, false
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	parts := strings.Split(text, "\n")
	if limit > 0 && len(parts) > limit {
		parts = parts[:limit]
		truncated = true
	}
	lines = make([]Line, 0, len(parts)+1)
	for _, part := range parts {
		lines = append(lines, Line{Text: cleanText(part)})
	}
	if truncated {
		lines = append(lines, Line{Text: truncatedMarker})
	}
	return lines, truncated
}

func cleanText(s string) string {
	s = ansiEscape.ReplaceAllString(s, "")
	s = strings.TrimSuffix(s, "\r")
	return norm.NFC.String(s)
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return []string{}
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
