package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelShouldEmit(t *testing.T) {
	cases := []struct {
		level Level
		scope Scope
		want  bool
	}{
		{LevelOff, ScopeDriver, false},
		{LevelError, ScopeDriver, false},
		{LevelStage, ScopeStage, true},
		{LevelStage, ScopeTool, false},
		{LevelDetail, ScopeTool, true},
		{LevelDetail, ScopeLine, false},
		{LevelDebug, ScopeLine, true},
	}
	for _, tc := range cases {
		if got := tc.level.ShouldEmit(tc.scope); got != tc.want {
			t.Fatalf("%s.ShouldEmit(%s) = %v, want %v", tc.level, tc.scope, got, tc.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if lvl, err := ParseLevel("DETAIL"); err != nil || lvl != LevelDetail {
		t.Fatalf("ParseLevel(DETAIL) = %v, %v", lvl, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestStreamTracerText(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelStage, FormatText)
	span := Begin(tr, ScopeStage, "build", 0)
	span.WithExtra("exit_code", "0").End("ok")
	Begin(tr, ScopeTool, "exec:dotnet", span.ID()).End("")

	out := buf.String()
	if !strings.Contains(out, "→ build") || !strings.Contains(out, "← build (ok) {exit_code=0}") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if strings.Contains(out, "exec:dotnet") {
		t.Fatalf("tool scope should be filtered at stage level:\n%s", out)
	}
}

func TestStreamTracerNDJSON(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelDebug, FormatNDJSON)
	Point(tr, ScopeDriver, "cache-hit", "abc", 0)

	var decoded map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("invalid ndjson %q: %v", buf.String(), err)
	}
	if decoded["kind"] != "point" || decoded["name"] != "cache-hit" || decoded["detail"] != "abc" {
		t.Fatalf("unexpected event %v", decoded)
	}
}

func TestStreamTracerChromeIsValidJSON(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelStage, FormatChrome)
	Begin(tr, ScopeDriver, "pipeline", 0).End("")
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	var decoded struct {
		TraceEvents []map[string]any `json:"traceEvents"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid chrome trace %q: %v", buf.String(), err)
	}
	if len(decoded.TraceEvents) != 2 {
		t.Fatalf("got %d events, want 2", len(decoded.TraceEvents))
	}
}

func TestRingTracerWraps(t *testing.T) {
	tr := NewRingTracer(2, LevelDebug)
	for _, name := range []string{"a", "b", "c"} {
		Point(tr, ScopeDriver, name, "", 0)
	}
	snap := tr.Snapshot()
	if len(snap) != 2 || snap[0].Name != "b" || snap[1].Name != "c" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestMultiTracerFansOut(t *testing.T) {
	var buf bytes.Buffer
	ring := NewRingTracer(8, LevelStage)
	multi := NewMultiTracer(LevelStage, NewStreamTracer(&buf, LevelStage, FormatText), ring)
	Point(multi, ScopeStage, "artifact", "", 0)
	if len(ring.Snapshot()) != 1 || buf.Len() == 0 {
		t.Fatalf("event not delivered to every tracer")
	}
	if multi.Ring() != ring {
		t.Fatalf("Ring() did not return the ring tracer")
	}
}

func TestContextPropagation(t *testing.T) {
	ctx := context.Background()
	if FromContext(ctx) != Nop {
		t.Fatalf("expected Nop without tracer")
	}
	ring := NewRingTracer(4, LevelStage)
	ctx = WithTracer(ctx, ring)
	span := Begin(FromContext(ctx), ScopeDriver, "run", 0)
	ctx = WithSpan(ctx, span)
	if CurrentSpan(ctx) != span.ID() {
		t.Fatalf("CurrentSpan = %d, want %d", CurrentSpan(ctx), span.ID())
	}
}

func TestDisabledSpanKeepsParent(t *testing.T) {
	span := Begin(Nop, ScopeStage, "build", 42)
	if span.ID() != 42 {
		t.Fatalf("disabled span ID = %d, want parent 42", span.ID())
	}
	if span.End("") != 0 {
		t.Fatalf("disabled span reported a duration")
	}
}

func TestNewOffReturnsNop(t *testing.T) {
	tr, err := New(Config{Level: LevelOff})
	if err != nil || tr != Nop {
		t.Fatalf("New(off) = %v, %v", tr, err)
	}
}
