package observ

import (
	"strings"
	"testing"
)

func TestTimerReport(t *testing.T) {
	timer := NewTimer()
	idx := timer.Begin("build")
	if dur := timer.End(idx, "exit 0"); dur < 0 {
		t.Fatalf("negative duration %v", dur)
	}
	timer.End(timer.Begin("codegen"), "")

	report := timer.Report()
	if len(report.Phases) != 2 {
		t.Fatalf("got %d phases, want 2", len(report.Phases))
	}
	if report.Phases[0].Name != "build" || report.Phases[0].Note != "exit 0" {
		t.Fatalf("unexpected first phase %+v", report.Phases[0])
	}
	if !strings.Contains(timer.Summary(), "codegen") {
		t.Fatalf("summary missing codegen:\n%s", timer.Summary())
	}
}

func TestTimerEndOutOfRange(t *testing.T) {
	timer := NewTimer()
	if dur := timer.End(3, ""); dur != 0 {
		t.Fatalf("End(3) = %v, want 0", dur)
	}
	var nilTimer *Timer
	if r := nilTimer.Report(); len(r.Phases) != 0 {
		t.Fatalf("nil timer report = %+v", r)
	}
}
