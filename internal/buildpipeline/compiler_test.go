package buildpipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"dotnetasm/internal/options"
	"dotnetasm/internal/toolexec"
)

type fixture struct {
	tc        Toolchain
	inputFile string
	dir       string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	template := filepath.Join(root, "templates", "CompilerExplorer")
	if err := os.MkdirAll(template, 0o750); err != nil {
		t.Fatalf("mkdir template: %v", err)
	}
	if err := os.WriteFile(filepath.Join(template, "CompilerExplorer.csproj"), []byte("<Project />"), 0o600); err != nil {
		t.Fatalf("write csproj: %v", err)
	}
	dir := filepath.Join(root, "work")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir work: %v", err)
	}
	input := filepath.Join(dir, "Program.cs")
	if err := os.WriteFile(input, []byte("class Program {}"), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return fixture{
		tc: Toolchain{
			ID:         "dotnet8csharp",
			Lang:       "csharp",
			Dotnet:     "/usr/bin/dotnet",
			CoreRoot:   "/opt/core_root",
			TestAppSrc: template,
		},
		inputFile: input,
		dir:       dir,
	}
}

func lines(texts ...string) []toolexec.Line {
	out := make([]toolexec.Line, len(texts))
	for i, t := range texts {
		out[i] = toolexec.Line{Text: t}
	}
	return out
}

// responder returns build then codegen results by call index.
func responder(build, codegen *toolexec.Result) toolexec.Responder {
	return func(call int, _ toolexec.Invocation) (*toolexec.Result, error) {
		if call == 0 {
			return build, nil
		}
		return codegen, nil
	}
}

func TestRunSuccessReturnsBuildResult(t *testing.T) {
	fx := newFixture(t)
	build := &toolexec.Result{Code: 0, Stdout: lines("Build succeeded.")}
	codegen := &toolexec.Result{Code: 0, Stdout: lines("; Assembly listing for method Program:Main()", "       ret")}
	rec := &toolexec.Recorder{Respond: responder(build, codegen)}
	c, err := New(fx.tc, WithExecutor(rec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := c.Run(context.Background(), &Request{
		Options:   []string{"-O", "--targetarch", "arm64", "foo"},
		InputFile: fx.inputFile,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res != build {
		t.Fatalf("Run returned %+v, want the build result", res)
	}
	if res.InputFilename != fx.inputFile {
		t.Fatalf("InputFilename = %q, want %q", res.InputFilename, fx.inputFile)
	}

	calls := rec.Calls()
	if len(calls) != 2 {
		t.Fatalf("got %d tool calls, want 2", len(calls))
	}
	wantBuild := []string{
		"build", "CompilerExplorer.csproj", "-c", "Release", "-o", "out",
		"/p:AllowUnsafeBlocks=true", "/p:Nullable=disable", "--no-dependencies", "-v", "q",
	}
	if !slices.Equal(calls[0].Args, wantBuild) {
		t.Fatalf("build args = %v, want %v", calls[0].Args, wantBuild)
	}
	wantCodegen := []string{
		filepath.Join("/opt/core_root", "crossgen2", "crossgen2.dll"),
		"-r", filepath.Join("/opt/core_root", "*.dll"),
		filepath.Join("out", "CompilerExplorer.dll"),
		"-o", "CompilerExplorer.r2r.dll",
		"--codegenopt", "NgenDisasm=*",
		"--codegenopt", "JitDiffableDasm=1",
		"--parallelism", "1",
		"--inputbubble", "--compilebubblegenerics",
		"--targetarch", "arm64", "-O",
	}
	if !slices.Equal(calls[1].Args, wantCodegen) {
		t.Fatalf("codegen args = %v, want %v", calls[1].Args, wantCodegen)
	}
	for _, call := range calls {
		if call.Name != "/usr/bin/dotnet" {
			t.Fatalf("tool = %q", call.Name)
		}
		if call.Dir != fx.dir {
			t.Fatalf("working dir = %q, want %q", call.Dir, fx.dir)
		}
		for _, key := range []string{
			"DOTNET_CLI_TELEMETRY_OPTOUT", "DOTNET_SKIP_FIRST_TIME_EXPERIENCE",
			"DOTNET_NOLOGO", "DOTNET_TC_QuickJitForLoops",
		} {
			if call.Env[key] != "true" {
				t.Fatalf("env %s = %q, want true", key, call.Env[key])
			}
		}
	}

	if _, err := os.Stat(filepath.Join(fx.dir, "CompilerExplorer.csproj")); err != nil {
		t.Fatalf("scaffold not staged: %v", err)
	}
	artifact, err := os.ReadFile(filepath.Join(fx.dir, "output.s"))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if want := "; Assembly listing for method Program:Main()\n       ret"; string(artifact) != want {
		t.Fatalf("artifact = %q, want %q", artifact, want)
	}
}

func TestRunDetailedExposesCodegen(t *testing.T) {
	fx := newFixture(t)
	codegen := &toolexec.Result{Stdout: lines("ret")}
	rec := &toolexec.Recorder{Respond: responder(&toolexec.Result{}, codegen)}
	c, err := New(fx.tc, WithExecutor(rec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var events []Event
	var mu sync.Mutex
	out, err := c.RunDetailed(context.Background(), &Request{
		InputFile: fx.inputFile,
		Files:     []string{"Program.cs"},
		Progress: SinkFunc(func(ev Event) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}),
	})
	if err != nil {
		t.Fatalf("RunDetailed: %v", err)
	}
	if out.State != StateDone {
		t.Fatalf("State = %v, want done", out.State)
	}
	if out.Codegen != codegen {
		t.Fatalf("Codegen result not exposed")
	}
	if out.Codegen.InputFilename != filepath.Join("out", "CompilerExplorer.dll") {
		t.Fatalf("codegen InputFilename = %q", out.Codegen.InputFilename)
	}
	for _, stage := range []Stage{StageScaffold, StageBuild, StageCodegen} {
		if !out.Timings.Has(stage) {
			t.Fatalf("missing timing for %s", stage)
		}
	}
	if len(out.Report.Phases) != 3 {
		t.Fatalf("report phases = %d, want 3", len(out.Report.Phases))
	}
	var done int
	for _, ev := range events {
		if ev.File == "Program.cs" && ev.Status == StatusDone {
			done++
		}
	}
	if done != 3 {
		t.Fatalf("got %d per-file done events, want 3 (%+v)", done, events)
	}
}

func TestRunEmptyOptionsUsesFixedFlagsOnly(t *testing.T) {
	fx := newFixture(t)
	rec := &toolexec.Recorder{}
	c, err := New(fx.tc, WithExecutor(rec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Run(context.Background(), &Request{InputFile: fx.inputFile}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	calls := rec.Calls()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if got := calls[1].Args; !slices.Equal(got, c.CodegenArgs(c.AssemblyPath(), nil)) {
		t.Fatalf("codegen args = %v", got)
	}
	if got := calls[1].Args[len(calls[1].Args)-1]; got != "--compilebubblegenerics" {
		t.Fatalf("last codegen arg = %q, want fixed flag", got)
	}
}

func TestRunBuildFailureSkipsCodegen(t *testing.T) {
	fx := newFixture(t)
	build := &toolexec.Result{
		Code:   1,
		Stdout: lines(fx.inputFile + "(1,1): error CS1002: ; expected"),
	}
	rec := &toolexec.Recorder{Respond: responder(build, &toolexec.Result{})}
	c, err := New(fx.tc, WithExecutor(rec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := c.Run(context.Background(), &Request{InputFile: fx.inputFile})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res != build || res.Code != 1 {
		t.Fatalf("Run returned %+v, want the failing build result", res)
	}
	if got := len(rec.Calls()); got != 1 {
		t.Fatalf("got %d tool calls, want 1", got)
	}
	if _, err := os.Stat(filepath.Join(fx.dir, "output.s")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("artifact exists after build failure: %v", err)
	}
	if tag := res.Stdout[0].Tag; tag == nil || tag.Line != 1 {
		t.Fatalf("build diagnostic not tagged: %+v", res.Stdout[0])
	}
}

func TestRunCodegenFailureStillWritesArtifact(t *testing.T) {
	fx := newFixture(t)
	codegen := &toolexec.Result{Code: 2, Stdout: lines("; partial listing"), Stderr: lines("crossgen2 failed")}
	rec := &toolexec.Recorder{Respond: responder(&toolexec.Result{}, codegen)}
	c, err := New(fx.tc, WithExecutor(rec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := filepath.Join(t.TempDir(), "listing.s")
	res, err := c.Run(context.Background(), &Request{InputFile: fx.inputFile, OutputPath: out})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res != codegen {
		t.Fatalf("Run returned %+v, want the codegen result", res)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("artifact is empty")
	}
}

func TestRunArtifactOverwritten(t *testing.T) {
	fx := newFixture(t)
	out := filepath.Join(t.TempDir(), "listing.s")
	for _, text := range []string{"first listing that is long", "second"} {
		rec := &toolexec.Recorder{Respond: responder(&toolexec.Result{}, &toolexec.Result{Stdout: lines(text)})}
		c, err := New(fx.tc, WithExecutor(rec))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := c.Run(context.Background(), &Request{InputFile: fx.inputFile, OutputPath: out}); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("artifact = %q, want %q", data, "second")
	}
}

func TestRunArtifactWriteFailureIsFatal(t *testing.T) {
	fx := newFixture(t)
	rec := &toolexec.Recorder{}
	c, err := New(fx.tc, WithExecutor(rec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := filepath.Join(t.TempDir(), "missing-dir", "listing.s")
	_, err = c.Run(context.Background(), &Request{InputFile: fx.inputFile, OutputPath: out})
	if err == nil {
		t.Fatalf("expected artifact write error")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want ErrNotExist", err)
	}
}

func TestRunStagingFailureRunsNoTools(t *testing.T) {
	fx := newFixture(t)
	fx.tc.TestAppSrc = filepath.Join(t.TempDir(), "missing")
	rec := &toolexec.Recorder{}
	c, err := New(fx.tc, WithExecutor(rec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := c.Run(context.Background(), &Request{InputFile: fx.inputFile})
	if err == nil {
		t.Fatalf("expected staging error")
	}
	if res != nil {
		t.Fatalf("Run returned a result on staging failure: %+v", res)
	}
	if len(rec.Calls()) != 0 {
		t.Fatalf("tools ran after staging failure")
	}
}

func TestRunDoesNotMutateCallerEnv(t *testing.T) {
	fx := newFixture(t)
	base := &toolexec.Options{Env: map[string]string{"PATH": "/bin"}}
	c, err := New(fx.tc, WithExecutor(&toolexec.Recorder{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Run(context.Background(), &Request{InputFile: fx.inputFile, Exec: base}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(base.Env) != 1 || base.Dir != "" {
		t.Fatalf("caller options mutated: %+v", base)
	}
}

func TestRunFilenameTransformAppliedToCodegenInput(t *testing.T) {
	fx := newFixture(t)
	var seen []string
	parser := func(_ *toolexec.Result, input string) { seen = append(seen, input) }
	c, err := New(fx.tc, WithExecutor(&toolexec.Recorder{}), WithOutputParser(parser))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	exec := &toolexec.Options{FilenameTransform: func(p string) string { return "T:" + filepath.Base(p) }}
	if _, err := c.Run(context.Background(), &Request{InputFile: fx.inputFile, Exec: exec}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"T:Program.cs", "T:CompilerExplorer.dll"}
	if !slices.Equal(seen, want) {
		t.Fatalf("parser inputs = %v, want %v", seen, want)
	}
}

func TestRunCustomOptionTable(t *testing.T) {
	fx := newFixture(t)
	rec := &toolexec.Recorder{}
	table := options.Table{Switches: []string{"--verbose"}}
	c, err := New(fx.tc, WithExecutor(rec), WithOptionTable(table))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Run(context.Background(), &Request{InputFile: fx.inputFile, Options: []string{"--verbose", "-O"}}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	args := rec.Calls()[1].Args
	if args[len(args)-1] != "--verbose" || slices.Contains(args, "-O") {
		t.Fatalf("codegen args = %v", args)
	}
}

func TestNewSelectsLanguageVariant(t *testing.T) {
	fx := newFixture(t)
	cases := []struct {
		lang, project string
	}{
		{"csharp", "CompilerExplorer.csproj"},
		{"fsharp", "CompilerExplorer.fsproj"},
		{"vb", "CompilerExplorer.vbproj"},
	}
	for _, tc := range cases {
		chain := fx.tc
		chain.Lang = tc.lang
		c, err := New(chain)
		if err != nil {
			t.Fatalf("New(%s): %v", tc.lang, err)
		}
		if got := c.ProjectFile(); got != tc.project {
			t.Fatalf("ProjectFile(%s) = %q, want %q", tc.lang, got, tc.project)
		}
	}
	chain := fx.tc
	chain.Lang = "cobol"
	if _, err := New(chain); !errors.Is(err, ErrUnknownLanguage) {
		t.Fatalf("err = %v, want ErrUnknownLanguage", err)
	}
}

func TestNewRequiresPaths(t *testing.T) {
	if _, err := New(Toolchain{ID: "x", Lang: "csharp"}); err == nil {
		t.Fatalf("expected error for missing paths")
	}
}

func TestProjectFileOverride(t *testing.T) {
	fx := newFixture(t)
	fx.tc.ProjectFile = "Custom.csproj"
	c, err := New(fx.tc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.BuildArgs()[1]; got != "Custom.csproj" {
		t.Fatalf("project arg = %q", got)
	}
}
