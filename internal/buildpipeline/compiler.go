// Package buildpipeline turns a single .NET source file into crossgen2 disassembly.
//
// A run walks a fixed state machine:
//
//	StateStage -> StateBuild -> StateCodegen -> StateDone
//	     \            \              \
//	      +------------+--------------+--> StateFailed
//
// Staging copies the scaffold project next to the source, the build stage runs
// `dotnet build` on it and the codegen stage runs crossgen2 on the resulting
// assembly, writing its disassembly to the output artifact. The first failing
// stage ends the run and its result is returned unchanged.
package buildpipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"dotnetasm/internal/observ"
	"dotnetasm/internal/options"
	"dotnetasm/internal/outparse"
	"dotnetasm/internal/scaffold"
	"dotnetasm/internal/toolexec"
	"dotnetasm/internal/trace"
)

// OutputParser structures a stage result against the transformed input identity.
type OutputParser func(res *toolexec.Result, inputFilename string)

// Compiler runs the pipeline for one configured toolchain.
// It holds no per-run state and is safe for concurrent use as long as every
// run stages into its own directory.
type Compiler struct {
	toolchain Toolchain
	lang      Language
	exec      toolexec.Executor
	table     options.Table
	parse     OutputParser
}

// Option customises a Compiler.
type Option func(*Compiler)

// WithExecutor replaces the process executor.
func WithExecutor(exec toolexec.Executor) Option {
	return func(c *Compiler) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithOptionTable replaces the table of user options forwarded to crossgen2.
func WithOptionTable(table options.Table) Option {
	return func(c *Compiler) { c.table = table }
}

// WithOutputParser replaces the compilation-output parser.
func WithOutputParser(parse OutputParser) Option {
	return func(c *Compiler) {
		if parse != nil {
			c.parse = parse
		}
	}
}

// New selects the language variant by tc.Lang and returns a Compiler.
func New(tc Toolchain, opts ...Option) (*Compiler, error) {
	lang, err := LookupLanguage(tc.Lang)
	if err != nil {
		return nil, fmt.Errorf("toolchain %q: %w", tc.ID, err)
	}
	if err := tc.validate(); err != nil {
		return nil, err
	}
	if tc.Dotnet == "" {
		tc.Dotnet = "dotnet"
	}
	c := &Compiler{
		toolchain: tc,
		lang:      lang,
		exec:      toolexec.Local{},
		table:     options.Default(),
		parse:     outparse.Parse,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Toolchain returns the settings the compiler was built with.
func (c *Compiler) Toolchain() Toolchain { return c.toolchain }

// Language returns the language variant.
func (c *Compiler) Language() Language { return c.lang }

// Request describes one pipeline run.
type Request struct {
	// Options is the flat user option list; positional.
	Options []string
	// InputFile is the staged source file. Its directory becomes the project dir.
	InputFile string
	// Exec is the default execution context; nil inherits the process environment.
	Exec *toolexec.Options
	// OutputPath is the disassembly artifact; empty means <dir>/output.s.
	OutputPath string
	Progress   ProgressSink
	// Files are display names reported to Progress.
	Files []string
}

// Outcome is the full record of a run.
type Outcome struct {
	State      State
	Build      *toolexec.Result
	Codegen    *toolexec.Result
	OutputPath string
	Timings    Timings
	Report     observ.Report
}

// Result returns what Run returns: the failing stage's result, or the build
// result when every stage succeeded.
func (o *Outcome) Result() *toolexec.Result {
	if o == nil {
		return nil
	}
	if o.State == StateFailed && o.Codegen != nil {
		return o.Codegen
	}
	return o.Build
}

// Run executes the pipeline. On success it returns the build stage's result;
// the disassembly is in the artifact at Request.OutputPath. On a tool failure
// it returns that stage's result with a nil error.
func (c *Compiler) Run(ctx context.Context, req *Request) (*toolexec.Result, error) {
	out, err := c.RunDetailed(ctx, req)
	return out.Result(), err
}

// RunDetailed executes the pipeline and returns every stage's result.
func (c *Compiler) RunDetailed(ctx context.Context, req *Request) (*Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req == nil {
		return nil, errors.New("missing pipeline request")
	}
	if req.InputFile == "" {
		return nil, errors.New("missing input file")
	}

	programDir := filepath.Dir(req.InputFile)
	out := &Outcome{
		State:      StateStage,
		OutputPath: req.OutputPath,
	}
	if out.OutputPath == "" {
		out.OutputPath = toolexec.OutputFilename(programDir, toolexec.DefaultOutputBase)
	}

	tracer := trace.FromContext(ctx)
	runSpan := trace.Begin(tracer, trace.ScopeDriver, "pipeline", trace.CurrentSpan(ctx))
	runSpan.WithExtra("toolchain", c.toolchain.ID)
	ctx = trace.WithSpan(ctx, runSpan)
	timer := observ.NewTimer()
	defer func() {
		out.Report = timer.Report()
		runSpan.WithExtra("state", out.State.String()).End("")
	}()

	if len(req.Files) > 0 {
		emitQueued(req.Progress, req.Files)
	}
	execOpts := c.execOptions(req.Exec, programDir)

	for !out.State.Terminal() {
		switch out.State {
		case StateStage:
			if err := c.stage(ctx, req, timer, &out.Timings, programDir); err != nil {
				out.State = StateFailed
				return out, err
			}
			out.State = StateBuild

		case StateBuild:
			res, err := c.runStage(ctx, req, timer, &out.Timings, StageBuild, func() (*toolexec.Result, error) {
				return c.runBuild(ctx, execOpts, req.InputFile)
			})
			out.Build = res
			if err != nil {
				out.State = StateFailed
				return out, err
			}
			if !res.OK() {
				out.State = StateFailed
				break
			}
			out.State = StateCodegen

		case StateCodegen:
			routed := options.Route(req.Options, c.table)
			res, err := c.runStage(ctx, req, timer, &out.Timings, StageCodegen, func() (*toolexec.Result, error) {
				return c.runCodegen(ctx, execOpts, c.AssemblyPath(), routed, out.OutputPath)
			})
			out.Codegen = res
			if err != nil {
				out.State = StateFailed
				return out, err
			}
			if !res.OK() {
				out.State = StateFailed
				break
			}
			out.State = StateDone
		}
	}
	return out, nil
}

func (c *Compiler) stage(ctx context.Context, req *Request, timer *observ.Timer, timings *Timings, programDir string) error {
	span := trace.Begin(trace.FromContext(ctx), trace.ScopeStage, string(StageScaffold), trace.CurrentSpan(ctx))
	emitStage(req.Progress, req.Files, StageScaffold, StatusWorking, nil, 0)
	idx := timer.Begin(string(StageScaffold))

	err := scaffold.Stage(ctx, c.toolchain.TestAppSrc, programDir)
	dur := timer.End(idx, "")
	timings.Set(StageScaffold, dur)
	if err != nil {
		span.End(err.Error())
		emitStage(req.Progress, req.Files, StageScaffold, StatusError, err, dur)
		return err
	}
	span.End("")
	emitStage(req.Progress, req.Files, StageScaffold, StatusDone, nil, dur)
	return nil
}

func (c *Compiler) runStage(
	ctx context.Context,
	req *Request,
	timer *observ.Timer,
	timings *Timings,
	stage Stage,
	run func() (*toolexec.Result, error),
) (*toolexec.Result, error) {
	span := trace.Begin(trace.FromContext(ctx), trace.ScopeStage, string(stage), trace.CurrentSpan(ctx))
	emitStage(req.Progress, req.Files, stage, StatusWorking, nil, 0)
	idx := timer.Begin(string(stage))

	res, err := run()
	note := ""
	if res != nil {
		note = "exit " + strconv.Itoa(res.Code)
		span.WithExtra("exit_code", strconv.Itoa(res.Code))
	}
	dur := timer.End(idx, note)
	timings.Set(stage, dur)

	switch {
	case err != nil:
		span.End(err.Error())
		emitStage(req.Progress, req.Files, stage, StatusError, err, dur)
	case !res.OK():
		exitErr := &ExitError{Stage: stage, Code: res.Code}
		span.End(exitErr.Error())
		emitStage(req.Progress, req.Files, stage, StatusError, exitErr, dur)
	default:
		span.End("")
		emitStage(req.Progress, req.Files, stage, StatusDone, nil, dur)
	}
	return res, err
}
