// Package session compiles source snippets through a buildpipeline.Compiler in
// throwaway directories and caches the results.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"dotnetasm/internal/asmparse"
	"dotnetasm/internal/buildpipeline"
	"dotnetasm/internal/cache"
	"dotnetasm/internal/observ"
	"dotnetasm/internal/toolexec"
	"dotnetasm/internal/trace"
)

// SourceBase is the file name, without extension, a job's source is staged as.
const SourceBase = "Program"

// Job is one source to compile.
type Job struct {
	// Name is shown in progress and reports; typically the source path.
	Name    string
	Source  []byte
	Options []string
	Filters asmparse.Filters
	// OutputPath receives a copy of the disassembly when set.
	OutputPath string
}

// Report is the outcome of one Job.
type Report struct {
	Name      string `json:"name"`
	Toolchain string `json:"toolchain"`
	Code      int    `json:"code"`
	// FailedStage is empty on success.
	FailedStage      buildpipeline.Stage `json:"failed_stage,omitempty"`
	BuildStdout      []toolexec.Line     `json:"build_stdout"`
	BuildStderr      []toolexec.Line     `json:"build_stderr"`
	CodegenStdout    []toolexec.Line     `json:"codegen_stdout,omitempty"`
	CodegenStderr    []toolexec.Line     `json:"codegen_stderr,omitempty"`
	Asm              []asmparse.Line     `json:"asm"`
	LabelDefinitions map[string]int      `json:"label_definitions,omitempty"`
	FilteredCount    int                 `json:"filtered_count"`
	Timings          observ.Report       `json:"timings"`
	Cached           bool                `json:"cached"`
	// TmpDir is set when the work directory was kept.
	TmpDir string `json:"tmp_dir,omitempty"`
}

// OK reports whether both tool stages succeeded.
func (r *Report) OK() bool { return r != nil && r.FailedStage == "" }

// cached is what the disk cache stores. Filters are applied on read, so one
// entry serves every filter combination.
type cached struct {
	Code          int                 `msgpack:"code"`
	Failed        buildpipeline.Stage `msgpack:"failed"`
	BuildStdout   []toolexec.Line     `msgpack:"build_stdout"`
	BuildStderr   []toolexec.Line     `msgpack:"build_stderr"`
	CodegenStdout []toolexec.Line     `msgpack:"codegen_stdout"`
	CodegenStderr []toolexec.Line     `msgpack:"codegen_stderr"`
	Artifact      string              `msgpack:"artifact"`
	Timings       observ.Report       `msgpack:"timings"`
}

// Config tunes a Session.
type Config struct {
	// Cache is optional; nil disables result caching.
	Cache *cache.Disk
	// KeepTmp leaves work directories on disk.
	KeepTmp bool
	// TmpRoot is the parent of work directories; empty uses os.TempDir.
	TmpRoot string
	// Jobs bounds CompileAll concurrency; <= 0 means unbounded.
	Jobs int
	// Exec is the base execution context passed to the pipeline.
	Exec     *toolexec.Options
	Progress buildpipeline.ProgressSink
}

// Session compiles jobs with one toolchain.
type Session struct {
	compiler *buildpipeline.Compiler
	cfg      Config
}

// New returns a Session around compiler.
func New(compiler *buildpipeline.Compiler, cfg Config) (*Session, error) {
	if compiler == nil {
		return nil, errors.New("session: nil compiler")
	}
	return &Session{compiler: compiler, cfg: cfg}, nil
}

// Key is the cache key for job. Toolchain paths are part of it so a toolchain
// id pointing at a different installation misses.
func (s *Session) Key(job *Job) cache.Digest {
	tc := s.compiler.Toolchain()
	parts := make([]string, 0, 7+len(job.Options))
	parts = append(parts,
		tc.ID, s.compiler.Language().Key,
		tc.Dotnet, tc.CoreRoot, tc.TestAppSrc, tc.ProjectFile,
		string(job.Source))
	parts = append(parts, job.Options...)
	return cache.Key(parts...)
}

// Compile runs one job. Tool failures are reported through Report; the error
// is reserved for staging, I/O and cache failures.
func (s *Session) Compile(ctx context.Context, job *Job) (*Report, error) {
	if job == nil {
		return nil, errors.New("session: nil job")
	}
	tracer := trace.FromContext(ctx)
	span := trace.Begin(tracer, trace.ScopeDriver, "compile", trace.CurrentSpan(ctx))
	span.WithExtra("job", job.Name)
	defer span.End("")
	ctx = trace.WithSpan(ctx, span)

	key := s.Key(job)
	var hit cached
	ok, err := s.cfg.Cache.Get(key, &hit)
	if err != nil {
		// a corrupt entry is rebuilt
		trace.Point(tracer, trace.ScopeDriver, "cache_error", err.Error(), span.ID())
		ok = false
	}
	if ok {
		trace.Point(tracer, trace.ScopeDriver, "cache_hit", key.String(), span.ID())
		if err := s.writeArtifact(job, hit.Artifact); err != nil {
			return nil, err
		}
		rep := s.report(job, &hit)
		rep.Cached = true
		return rep, nil
	}

	dir, err := os.MkdirTemp(s.cfg.TmpRoot, "dotnetasm-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	if !s.cfg.KeepTmp {
		defer os.RemoveAll(dir)
	}

	input := filepath.Join(dir, SourceBase+s.compiler.Language().SourceExt)
	if err := os.WriteFile(input, job.Source, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write source: %w", err)
	}

	execOpts := toolexec.DefaultOptions()
	if s.cfg.Exec != nil {
		execOpts = s.cfg.Exec.Clone()
	}
	prefix := dir + string(filepath.Separator)
	execOpts.FilenameTransform = func(p string) string { return strings.TrimPrefix(p, prefix) }

	var files []string
	if job.Name != "" {
		files = []string{job.Name}
	}
	out, err := s.compiler.RunDetailed(ctx, &buildpipeline.Request{
		Options:    job.Options,
		InputFile:  input,
		Exec:       execOpts,
		OutputPath: job.OutputPath,
		Progress:   s.cfg.Progress,
		Files:      files,
	})
	if err != nil {
		return nil, err
	}

	entry := cached{Timings: out.Report}
	if out.State == buildpipeline.StateFailed {
		entry.Failed = buildpipeline.StageBuild
		if out.Codegen != nil {
			entry.Failed = buildpipeline.StageCodegen
		}
	}
	fill := func(res *toolexec.Result) (stdout, stderr []toolexec.Line) {
		if res == nil {
			return nil, nil
		}
		entry.Code = res.Code
		return stripDir(res.Stdout, prefix), stripDir(res.Stderr, prefix)
	}
	entry.BuildStdout, entry.BuildStderr = fill(out.Build)
	entry.CodegenStdout, entry.CodegenStderr = fill(out.Codegen)
	if out.Codegen != nil {
		data, err := os.ReadFile(out.OutputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read disassembly: %w", err)
		}
		entry.Artifact = string(data)
	}

	rep := s.report(job, &entry)
	if s.cfg.KeepTmp {
		rep.TmpDir = dir
	}
	if out.State == buildpipeline.StateDone {
		if err := s.cfg.Cache.Put(key, &entry); err != nil {
			trace.Point(tracer, trace.ScopeDriver, "cache_error", err.Error(), span.ID())
		}
	}
	return rep, nil
}

// CompileAll runs jobs concurrently and returns reports in job order. The
// first error cancels the remaining jobs.
func (s *Session) CompileAll(ctx context.Context, jobs []*Job) ([]*Report, error) {
	reports := make([]*Report, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.Jobs > 0 {
		g.SetLimit(s.cfg.Jobs)
	}
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			rep, err := s.Compile(gctx, job)
			if err != nil {
				if job != nil && job.Name != "" {
					return fmt.Errorf("%s: %w", job.Name, err)
				}
				return err
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}

func (s *Session) report(job *Job, c *cached) *Report {
	asm := asmparse.Process(c.Artifact, job.Filters)
	rep := &Report{
		Name:             job.Name,
		Toolchain:        s.compiler.Toolchain().ID,
		Code:             c.Code,
		FailedStage:      c.Failed,
		BuildStdout:      c.BuildStdout,
		BuildStderr:      c.BuildStderr,
		CodegenStdout:    c.CodegenStdout,
		CodegenStderr:    c.CodegenStderr,
		Asm:              asm.Lines,
		LabelDefinitions: asm.LabelDefinitions,
		FilteredCount:    asm.FilteredCount,
		Timings:          c.Timings,
	}
	return rep
}

func (s *Session) writeArtifact(job *Job, text string) error {
	if job.OutputPath == "" {
		return nil
	}
	if err := os.WriteFile(job.OutputPath, []byte(text), 0o600); err != nil {
		return fmt.Errorf("failed to write disassembly %q: %w", job.OutputPath, err)
	}
	return nil
}

// stripDir removes the work directory from output so reports do not depend
// on where the job ran.
func stripDir(lines []toolexec.Line, prefix string) []toolexec.Line {
	if len(lines) == 0 {
		return lines
	}
	out := make([]toolexec.Line, len(lines))
	for i, line := range lines {
		line.Text = strings.ReplaceAll(line.Text, prefix, "")
		out[i] = line
	}
	return out
}
