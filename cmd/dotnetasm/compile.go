package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"dotnetasm/internal/asmparse"
	"dotnetasm/internal/buildpipeline"
	"dotnetasm/internal/cache"
	"dotnetasm/internal/config"
	"dotnetasm/internal/session"
	"dotnetasm/internal/toolexec"
)

var compileCmd = &cobra.Command{
	Use:   "compile [flags] <file>... [-- tool options]",
	Short: "Build source files and print their crossgen2 disassembly",
	Long: `Compile stages every file into the toolchain's scaffold project, runs dotnet build
and crossgen2, and prints the disassembly. Tokens after "--" are filtered through the
crossgen2 option table (see "dotnetasm options") and forwarded.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCompile,
}

func init() {
	f := compileCmd.Flags()
	f.String("toolchain", "", "toolchain id from the configuration")
	f.String("config", "", "configuration file (default: search for dotnetasm.toml)")
	f.StringP("output", "o", "", "also write the disassembly to this file (single input only)")
	f.Bool("keep-tmp", false, "keep work directories and print their location")
	f.Bool("no-cache", false, "bypass the result cache")
	f.Int("jobs", 0, "maximum parallel compilations (0 = GOMAXPROCS)")
	f.String("ui", "auto", "progress UI (auto|on|off)")
	f.Bool("filter-comments", true, "drop comment-only lines")
	f.Bool("filter-labels", true, "drop labels nothing jumps to")
	f.Bool("filter-directives", false, "drop assembler directives")
	f.String("format", "text", "output format (text|json)")
	f.Bool("dry-run", false, "print the tool invocations instead of running them")
}

type compileFlags struct {
	toolchain  string
	configPath string
	output     string
	keepTmp    bool
	noCache    bool
	jobs       int
	ui         uiMode
	filters    asmparse.Filters
	format     string
	dryRun     bool
}

func readCompileFlags(cmd *cobra.Command) (compileFlags, error) {
	f := cmd.Flags()
	var (
		opts compileFlags
		err  error
		errs []error
	)
	get := func(e error) {
		if e != nil {
			errs = append(errs, e)
		}
	}
	opts.toolchain, err = f.GetString("toolchain")
	get(err)
	opts.configPath, err = f.GetString("config")
	get(err)
	opts.output, err = f.GetString("output")
	get(err)
	opts.keepTmp, err = f.GetBool("keep-tmp")
	get(err)
	opts.noCache, err = f.GetBool("no-cache")
	get(err)
	opts.jobs, err = f.GetInt("jobs")
	get(err)
	opts.filters.CommentOnly, err = f.GetBool("filter-comments")
	get(err)
	opts.filters.Labels, err = f.GetBool("filter-labels")
	get(err)
	opts.filters.Directives, err = f.GetBool("filter-directives")
	get(err)
	opts.filters.Trim = true
	opts.format, err = f.GetString("format")
	get(err)
	opts.dryRun, err = f.GetBool("dry-run")
	get(err)
	uiFlag, err := f.GetString("ui")
	get(err)
	if err := errors.Join(errs...); err != nil {
		return compileFlags{}, err
	}

	if opts.ui, err = readUIMode(uiFlag); err != nil {
		return compileFlags{}, err
	}
	opts.format = strings.ToLower(opts.format)
	if opts.format != "text" && opts.format != "json" {
		return compileFlags{}, fmt.Errorf("unsupported format %q (must be text or json)", opts.format)
	}
	if opts.jobs < 0 {
		return compileFlags{}, fmt.Errorf("--jobs must not be negative")
	}
	if opts.jobs == 0 {
		opts.jobs = runtime.GOMAXPROCS(0)
	}
	return opts, nil
}

// splitToolArgs separates input files from the tokens after "--".
func splitToolArgs(cmd *cobra.Command, args []string) (files, toolArgs []string) {
	dash := cmd.ArgsLenAtDash()
	if dash < 0 {
		return args, nil
	}
	return args[:dash], args[dash:]
}

func runCompile(cmd *cobra.Command, args []string) error {
	opts, err := readCompileFlags(cmd)
	if err != nil {
		return err
	}
	files, toolArgs := splitToolArgs(cmd, args)
	if len(files) == 0 {
		return errors.New("no input files")
	}
	if opts.output != "" && len(files) > 1 {
		return errors.New("--output needs exactly one input file")
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	tc, err := cfg.Lookup(opts.toolchain)
	if err != nil {
		return err
	}

	var pipelineOpts []buildpipeline.Option
	if opts.dryRun {
		// one at a time so echoed command lines stay grouped
		opts.jobs = 1
		opts.noCache = true
		opts.ui = uiModeOff
		pipelineOpts = append(pipelineOpts, buildpipeline.WithExecutor(&toolexec.Recorder{Echo: cmd.OutOrStdout()}))
	}
	compiler, err := buildpipeline.New(tc, pipelineOpts...)
	if err != nil {
		return err
	}

	var store *cache.Disk
	if !opts.noCache {
		dir, err := cfg.CacheDir()
		if err != nil {
			return err
		}
		if store, err = cache.Open(dir); err != nil {
			return err
		}
	}

	jobs, err := buildJobs(files, toolArgs, opts)
	if err != nil {
		return err
	}

	newSession := func(sink buildpipeline.ProgressSink) (*session.Session, error) {
		return session.New(compiler, session.Config{
			Cache:    store,
			KeepTmp:  opts.keepTmp,
			Jobs:     opts.jobs,
			Progress: sink,
		})
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	var reports []*session.Report
	if opts.format == "text" && !quiet(cmd) && shouldUseTUI(opts.ui) {
		reports, err = runWithUI(ctx, "dotnetasm "+tc.ID, jobs, newSession)
	} else {
		var sess *session.Session
		if sess, err = newSession(nil); err == nil {
			reports, err = sess.CompileAll(ctx, jobs)
		}
	}
	if err != nil {
		return err
	}
	if opts.dryRun {
		return nil
	}

	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	if opts.format == "json" {
		if err := renderJSON(stdout, reports); err != nil {
			return err
		}
	} else {
		renderText(stdout, stderr, reports, quiet(cmd))
	}
	if showTimings(cmd) {
		for _, rep := range reports {
			printTimings(stderr, rep)
		}
	}

	for _, rep := range reports {
		if !rep.OK() {
			return &exitError{code: 1}
		}
	}
	return nil
}

func buildJobs(files, toolArgs []string, opts compileFlags) ([]*session.Job, error) {
	jobs := make([]*session.Job, 0, len(files))
	for _, path := range files {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", path, err)
		}
		jobs = append(jobs, &session.Job{
			Name:       path,
			Source:     src,
			Options:    toolArgs,
			Filters:    opts.filters,
			OutputPath: opts.output,
		})
	}
	return jobs, nil
}

// renderText prints disassembly to out and failing stage output to errOut.
func renderText(out, errOut io.Writer, reports []*session.Report, quiet bool) {
	failed := color.New(color.FgRed, color.Bold)
	header := color.New(color.FgCyan, color.Bold)
	multi := len(reports) > 1

	for i, rep := range reports {
		if multi {
			if i > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, header.Sprintf("== %s ==", rep.Name))
		}
		if !rep.OK() {
			fmt.Fprintln(errOut, failed.Sprintf("%s: %s failed (exit %d)", rep.Name, rep.FailedStage, rep.Code))
			writeLines(errOut, rep.BuildStdout)
			writeLines(errOut, rep.BuildStderr)
			writeLines(errOut, rep.CodegenStdout)
			writeLines(errOut, rep.CodegenStderr)
			continue
		}
		if !quiet {
			writeLines(errOut, rep.CodegenStderr)
		}
		for _, line := range rep.Asm {
			fmt.Fprintln(out, line.Text)
		}
		if rep.TmpDir != "" && !quiet {
			fmt.Fprintf(errOut, "%s: kept %s\n", rep.Name, rep.TmpDir)
		}
	}
}

func writeLines(w io.Writer, lines []toolexec.Line) {
	for _, line := range lines {
		fmt.Fprintln(w, line.Text)
	}
}

func renderJSON(out io.Writer, reports []*session.Report) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}
