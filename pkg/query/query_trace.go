package query

import (
	"context"
	"sort"
	"sync"
)

type TraceEventKind string

const (
	TraceEventStrategyResult TraceEventKind = "strategy_result"
	TraceEventFusedChunkIDs  TraceEventKind = "fused_chunk_ids"
	TraceEventUsedSourceIDs  TraceEventKind = "used_source_ids"
)

// TraceEvent is an extensible event envelope for query tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	Strategy   string
	ChunkIDs   []string
	SourceIDs  []string
	DurationMs int64
	Error      string
}

// Tracer is a sink for query tracing events.
//
// Implementers can forward events to logs, telemetry, or custom post-processing
// pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

type tracerKey struct{}

// ContextWithTracer attaches a request scoped tracer to ctx.
func ContextWithTracer(ctx context.Context, t Tracer) context.Context {
	return context.WithValue(ctx, tracerKey{}, t)
}

// tracerFor combines base with the tracer carried by ctx.
func tracerFor(ctx context.Context, base Tracer) Tracer {
	t, _ := ctx.Value(tracerKey{}).(Tracer)
	switch {
	case t == nil:
		return base
	case base == nil:
		return t
	default:
		return MultiTracer{base, t}
	}
}

func RecordStrategyResult(t Tracer, strategy string, chunkIDs []string, durationMs int64, err error) {
	if t == nil {
		return
	}
	ev := TraceEvent{
		Kind:       TraceEventStrategyResult,
		Strategy:   strategy,
		ChunkIDs:   chunkIDs,
		DurationMs: durationMs,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	t.Record(ev)
}

func RecordFusedChunkIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventFusedChunkIDs, ChunkIDs: ids})
}

func RecordUsedSourceIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventUsedSourceIDs, SourceIDs: ids})
}

// QueryTrace collects what each retrieval strategy returned, which chunks
// survived fusion and which documents the answer was drawn from.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	strategyCounts map[string]int
	strategyErrors map[string]string
	fusedChunkIDs  []string
	usedSourceIDs  map[string]struct{}
}

type QueryTraceSnapshot struct {
	StrategyCounts map[string]int    `json:"strategy_counts"`
	StrategyErrors map[string]string `json:"strategy_errors,omitempty"`
	FusedChunkIDs  []string          `json:"fused_chunk_ids"`
	UsedSourceIDs  []string          `json:"used_source_ids"`
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		strategyCounts: make(map[string]int),
		strategyErrors: make(map[string]string),
		usedSourceIDs:  make(map[string]struct{}),
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventStrategyResult:
		t.strategyCounts[event.Strategy] += len(event.ChunkIDs)
		if event.Error != "" {
			t.strategyErrors[event.Strategy] = event.Error
		}
	case TraceEventFusedChunkIDs:
		// fused order is meaningful, keep it as recorded
		t.fusedChunkIDs = append(t.fusedChunkIDs[:0], event.ChunkIDs...)
	case TraceEventUsedSourceIDs:
		for _, id := range event.SourceIDs {
			if id == "" {
				continue
			}
			t.usedSourceIDs[id] = struct{}{}
		}
	default:
		return
	}
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := QueryTraceSnapshot{
		StrategyCounts: make(map[string]int, len(t.strategyCounts)),
		FusedChunkIDs:  append([]string(nil), t.fusedChunkIDs...),
		UsedSourceIDs:  make([]string, 0, len(t.usedSourceIDs)),
	}
	for k, v := range t.strategyCounts {
		s.StrategyCounts[k] = v
	}
	if len(t.strategyErrors) > 0 {
		s.StrategyErrors = make(map[string]string, len(t.strategyErrors))
		for k, v := range t.strategyErrors {
			s.StrategyErrors[k] = v
		}
	}
	for id := range t.usedSourceIDs {
		s.UsedSourceIDs = append(s.UsedSourceIDs, id)
	}
	sort.Strings(s.UsedSourceIDs)

	return s
}
