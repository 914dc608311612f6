package buildpipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"dotnetasm/internal/toolexec"
	"dotnetasm/internal/trace"
)

const (
	// BuildOutputDir is the `dotnet build -o` directory inside the project dir.
	BuildOutputDir = "out"
	// R2ROutputName is the ready-to-run image crossgen2 writes.
	R2ROutputName = "CompilerExplorer.r2r.dll"
)

// dotnetEnv is overlaid on the inherited environment of every tool run.
var dotnetEnv = map[string]string{
	"DOTNET_CLI_TELEMETRY_OPTOUT":       "true",
	"DOTNET_SKIP_FIRST_TIME_EXPERIENCE": "true",
	"DOTNET_NOLOGO":                     "true",
	"DOTNET_TC_QuickJitForLoops":        "true",
}

// ProjectFile is the build file name of the staged project.
func (c *Compiler) ProjectFile() string {
	if c.toolchain.ProjectFile != "" {
		return c.toolchain.ProjectFile
	}
	return c.toolchain.TestAppName() + c.lang.ProjectExt
}

// AssemblyPath is the build output assembly, relative to the project dir.
func (c *Compiler) AssemblyPath() string {
	return filepath.Join(BuildOutputDir, c.toolchain.TestAppName()+".dll")
}

// BuildArgs returns the fixed `dotnet build` arguments.
func (c *Compiler) BuildArgs() []string {
	return []string{
		"build", c.ProjectFile(),
		"-c", "Release",
		"-o", BuildOutputDir,
		// raw pointers and other unsafe code
		"/p:AllowUnsafeBlocks=true",
		// keep nullability attributes out of the disassembly
		"/p:Nullable=disable",
		"--no-dependencies",
		"-v", "q",
	}
}

// CodegenArgs returns the crossgen2 invocation for assembly followed by routed.
// routed is appended verbatim; a name that repeats a fixed flag is passed twice.
func (c *Compiler) CodegenArgs(assembly string, routed []string) []string {
	args := []string{
		c.toolchain.Crossgen2Path(),
		"-r", filepath.Join(c.toolchain.CoreRoot, "*.dll"),
		assembly,
		"-o", R2ROutputName,
		"--codegenopt", "NgenDisasm=*",
		"--codegenopt", "JitDiffableDasm=1",
		"--parallelism", "1",
		"--inputbubble",
		"--compilebubblegenerics",
	}
	return append(args, routed...)
}

// execOptions builds the per-run execution context from base.
func (c *Compiler) execOptions(base *toolexec.Options, programDir string) *toolexec.Options {
	var opts *toolexec.Options
	if base == nil {
		opts = toolexec.DefaultOptions()
	} else {
		opts = base.Clone()
	}
	for k, v := range dotnetEnv {
		opts.Env[k] = v
	}
	opts.Dir = programDir
	if opts.Timeout == 0 {
		opts.Timeout = c.toolchain.Timeout
	}
	if opts.MaxOutputLines == 0 {
		opts.MaxOutputLines = c.toolchain.MaxOutputLines
	}
	if opts.FilenameTransform == nil {
		opts.FilenameTransform = toolexec.IdentityTransform
	}
	return opts
}

func (c *Compiler) invoke(ctx context.Context, args []string, opts *toolexec.Options) (*toolexec.Result, error) {
	span := trace.Begin(trace.FromContext(ctx), trace.ScopeTool, "exec:"+filepath.Base(c.toolchain.Dotnet), trace.CurrentSpan(ctx))
	res, err := c.exec.Exec(ctx, c.toolchain.Dotnet, args, opts)
	if err != nil {
		span.End(err.Error())
		return nil, err
	}
	span.WithExtra("exit_code", strconv.Itoa(res.Code)).End("")
	return res, nil
}

func (c *Compiler) runBuild(ctx context.Context, opts *toolexec.Options, inputFile string) (*toolexec.Result, error) {
	res, err := c.invoke(ctx, c.BuildArgs(), opts)
	if err != nil {
		return nil, fmt.Errorf("build stage: %w", err)
	}
	res.InputFilename = inputFile
	c.parse(res, res.FilenameTransform(inputFile))
	return res, nil
}

func (c *Compiler) runCodegen(ctx context.Context, opts *toolexec.Options, assembly string, routed []string, outputPath string) (*toolexec.Result, error) {
	res, err := c.invoke(ctx, c.CodegenArgs(assembly, routed), opts)
	if err != nil {
		return nil, fmt.Errorf("codegen stage: %w", err)
	}
	res.InputFilename = assembly
	c.parse(res, res.FilenameTransform(assembly))

	// Written whatever the exit code.
	if err := os.WriteFile(outputPath, []byte(res.StdoutText()), 0o600); err != nil {
		return res, fmt.Errorf("failed to write disassembly %q: %w", outputPath, err)
	}
	trace.Point(trace.FromContext(ctx), trace.ScopeStage, "artifact", outputPath, trace.CurrentSpan(ctx))
	return res, nil
}
