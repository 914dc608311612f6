// Package trace records what the dotnetasm pipeline is doing.
//
// It is the structured log of the tool: every pipeline run, stage and tool
// invocation opens a span, and notable moments (cache hits, artifact writes)
// are recorded as points. Nothing is emitted unless a tracer is attached.
//
// # Usage
//
//	dotnetasm compile --trace=- --trace-level=stage Program.cs
//
// # Tracers
//
//   - Nop: zero-overhead tracer used when tracing is off
//   - StreamTracer: writes each event immediately (file or stderr)
//   - RingTracer: keeps the last N events in memory for crash dumps
//   - MultiTracer: fans out to several tracers
//
// # Levels and scopes
//
// A level admits every scope up to its depth:
//
//   - LevelStage: ScopeDriver and ScopeStage
//   - LevelDetail: adds ScopeTool (individual subprocess runs)
//   - LevelDebug: adds ScopeLine (per output line)
//
// # Context propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopeStage, "build", parentID)
//	defer span.End("")
package trace
