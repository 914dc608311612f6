// Package toolexec runs external tools and captures their output as lines.
package toolexec

import (
	"context"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultOutputBase is the file base name used for stage artifacts.
const DefaultOutputBase = "output"

// DefaultMaxOutputLines caps captured output per stream when Options leaves it unset.
const DefaultMaxOutputLines = 10000

// Severity classifies a tagged output line.
type Severity uint8

const (
	// SeverityNone marks an untagged line.
	SeverityNone Severity = iota
	// SeverityInfo is a note or informational message.
	SeverityInfo
	// SeverityWarning is a warning.
	SeverityWarning
	// SeverityError is an error.
	SeverityError
)

// String returns the string representation of Severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "none"
	}
}

// Tag points an output line at a location in the input source.
type Tag struct {
	Line     uint32
	Column   uint32
	Severity Severity
	Text     string
}

// Line is one captured line of tool output.
type Line struct {
	Text string
	Tag  *Tag
}

// Options configures a single tool execution.
type Options struct {
	Env            map[string]string
	Dir            string
	Timeout        time.Duration
	MaxOutputLines int
	// FilenameTransform maps a path into the identity shown to users.
	FilenameTransform func(string) string
}

// DefaultOptions returns options inheriting the current process environment.
func DefaultOptions() *Options {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		env[key] = value
	}
	return &Options{
		Env:               env,
		FilenameTransform: IdentityTransform,
	}
}

// Clone returns a deep copy so per-invocation overlays never leak into the caller's options.
func (o *Options) Clone() *Options {
	if o == nil {
		return DefaultOptions()
	}
	out := *o
	out.Env = maps.Clone(o.Env)
	if out.Env == nil {
		out.Env = make(map[string]string)
	}
	return &out
}

// Transform applies the configured filename transform.
func (o *Options) Transform(path string) string {
	if o == nil || o.FilenameTransform == nil {
		return path
	}
	return o.FilenameTransform(path)
}

// IdentityTransform returns path unchanged.
func IdentityTransform(path string) string { return path }

// Result captures the outcome of one tool execution.
type Result struct {
	Code          int
	Stdout        []Line
	Stderr        []Line
	InputFilename string
	ExecTime      time.Duration
	TimedOut      bool
	Truncated     bool

	filenameTransform func(string) string
}

// OK reports whether the tool exited with status zero.
func (r *Result) OK() bool {
	return r != nil && r.Code == 0
}

// FilenameTransform applies the transform the result was produced with.
func (r *Result) FilenameTransform(path string) string {
	if r == nil || r.filenameTransform == nil {
		return path
	}
	return r.filenameTransform(path)
}

// SetFilenameTransform overrides the transform carried by the result.
func (r *Result) SetFilenameTransform(fn func(string) string) {
	if r == nil {
		return
	}
	r.filenameTransform = fn
}

// StdoutText joins stdout lines with newlines.
func (r *Result) StdoutText() string {
	if r == nil {
		return ""
	}
	return JoinLines(r.Stdout)
}

// JoinLines concatenates line texts separated by newlines, without a trailing newline.
func JoinLines(lines []Line) string {
	var sb strings.Builder
	for i, l := range lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(l.Text)
	}
	return sb.String()
}

// Executor runs a tool and captures its output.
type Executor interface {
	Exec(ctx context.Context, name string, args []string, opts *Options) (*Result, error)
}

// OutputFilename resolves the artifact path for a stage output in dir.
func OutputFilename(dir, base string) string {
	if base == "" {
		base = DefaultOutputBase
	}
	return filepath.Join(dir, base+".s")
}
