package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"dotnetasm/internal/buildpipeline"
	"dotnetasm/internal/session"
	"dotnetasm/internal/ui"
)

type compileOutcome struct {
	reports []*session.Report
	err     error
}

// runWithUI compiles jobs while a progress model renders to stderr.
// newSession receives the sink the pipeline reports into.
func runWithUI(
	ctx context.Context,
	title string,
	jobs []*session.Job,
	newSession func(buildpipeline.ProgressSink) (*session.Session, error),
) ([]*session.Report, error) {
	events := make(chan buildpipeline.Event, 256)
	sess, err := newSession(buildpipeline.ChannelSink{Ch: events})
	if err != nil {
		return nil, err
	}

	files := make([]string, len(jobs))
	for i, job := range jobs {
		files[i] = job.Name
	}

	outcomeCh := make(chan compileOutcome, 1)
	go func() {
		reports, err := sess.CompileAll(ctx, jobs)
		outcomeCh <- compileOutcome{reports: reports, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, files, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stderr), tea.WithContext(ctx))
	_, uiErr := program.Run()
	// keep the pipeline unblocked if the UI quit early
	go func() {
		for range events {
		}
	}()
	outcome := <-outcomeCh
	if uiErr != nil && outcome.err == nil {
		return outcome.reports, uiErr
	}
	return outcome.reports, outcome.err
}
