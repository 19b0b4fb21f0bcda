// Package engram provides the facade over the three memory stores: a flat
// record store, an episodic store and a semantic concept graph. The facade
// wires configuration, logging, metrics, tracing and the optional embedding
// collaborator; the stores themselves live in pkg/store.
package engram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/okvist/engram/pkg/embedding"
	"github.com/okvist/engram/pkg/metrics"
	"github.com/okvist/engram/pkg/store"
	"github.com/okvist/engram/pkg/trace"
)

// Config holds configuration for the memory engine.
// Zero values select the defaults noted per field.
type Config struct {
	// RecordCapacity bounds the flat record store (default 1000)
	RecordCapacity int

	// EpisodeCapacity bounds the number of episodes (default 100)
	EpisodeCapacity int

	// MemoriesPerEpisode bounds each episode's record list (default 50)
	MemoriesPerEpisode int

	// NodeCapacity bounds the semantic graph (default 10000)
	NodeCapacity int

	// Logger receives structured prune and operation logs (default: discard)
	Logger *slog.Logger

	// Metrics receives operation counters, stage durations and storage
	// gauges (default: no-op)
	Metrics metrics.Collector

	// Embedder, when set, populates Record.Embedding on Store. The engine
	// never computes embeddings itself and never scores on them.
	Embedder embedding.Embedder

	// TraceExporter, when set, receives a sanitized TraceRecord per facade
	// operation (ids and timings only, never content)
	TraceExporter trace.Exporter

	// EnableTrace turns on per-operation span capture in results
	EnableTrace bool
}

// Engram is the main entry point for the memory engine. The three stores
// are independent; cross-store operations on the facade are convenience
// only and provide no cross-store atomicity.
type Engram struct {
	cfg      Config
	records  *store.MemoryStore
	episodes *store.EpisodicMemory
	graph    *store.SemanticMemory
	metrics  metrics.Collector
	logger   *slog.Logger
	embedder embedding.Embedder
	exporter trace.Exporter
}

// New creates a new Engram instance.
func New(cfg Config) *Engram {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopCollector()
	}

	return &Engram{
		cfg:      cfg,
		records:  store.NewMemoryStore(cfg.RecordCapacity, cfg.Logger),
		episodes: store.NewEpisodicMemory(cfg.EpisodeCapacity, cfg.MemoriesPerEpisode, cfg.Logger),
		graph:    store.NewSemanticMemory(cfg.NodeCapacity, cfg.Logger),
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		embedder: cfg.Embedder,
		exporter: cfg.TraceExporter,
	}
}

// Records returns the flat record store.
func (g *Engram) Records() *store.MemoryStore { return g.records }

// Episodes returns the episodic store.
func (g *Engram) Episodes() *store.EpisodicMemory { return g.episodes }

// Graph returns the semantic graph store.
func (g *Engram) Graph() *store.SemanticMemory { return g.graph }

// Store writes a record to the flat store, populating its embedding first
// when an Embedder is configured. An embedding failure aborts the store so
// callers can re-invoke; nothing is written in that case.
func (g *Engram) Store(ctx context.Context, rec store.Record) error {
	started := time.Now()
	opTrace := newTrace()

	if g.embedder != nil && len(rec.Embedding) == 0 {
		st := newSpanTimer("embed", opTrace, g.cfg.EnableTrace)
		vec, err := g.embedder.Embed(ctx, rec.Content)
		st.finish(err == nil, err, nil)
		if err != nil {
			g.failOperation(ctx, "store", started, opTrace, err, map[string]interface{}{"recordId": rec.ID})
			return fmt.Errorf("embed record %s: %w", rec.ID, err)
		}
		rec.Embedding = vec
	}

	st := newSpanTimer("store-record", opTrace, g.cfg.EnableTrace)
	g.records.Store(rec)
	st.finish(true, nil, nil)

	g.finishOperation(ctx, "store", started, opTrace, map[string]interface{}{"recordId": rec.ID})
	g.metrics.SetStorageCount(ctx, "records", int64(g.records.Size()))
	return nil
}

// Retrieve reads a record from the flat store by id.
func (g *Engram) Retrieve(ctx context.Context, id string) (store.Record, bool) {
	started := time.Now()
	rec, ok := g.records.Retrieve(id)
	status := "miss"
	if ok {
		status = "success"
	}
	g.metrics.RecordOperation(ctx, "retrieve", status, time.Since(started).Milliseconds())
	return rec, ok
}

// SearchRecords searches the flat store.
func (g *Engram) SearchRecords(ctx context.Context, q store.Query, limit int) []store.Record {
	started := time.Now()
	results := g.records.Search(q, limit)
	g.metrics.RecordOperation(ctx, "search", "success", time.Since(started).Milliseconds())
	return results
}

// RecallQuery fans a recall out to all three stores. Empty predicate groups
// skip the corresponding store.
type RecallQuery struct {
	// Text matches record content (flat store) and episode content
	Text string

	// Tags is a match-any tag set for the flat store
	Tags []string

	// Context holds required episode context pairs
	Context map[string]string

	// Concept is an exact concept label for the semantic graph
	Concept string

	// Attributes holds required node attribute equalities
	Attributes map[string]string

	// Limit truncates each store's result list when > 0
	Limit int
}

// RecallResult aggregates per-store recall results. The three reads are not
// atomic with respect to each other.
type RecallResult struct {
	Records  []store.Record
	Episodes []store.EpisodeResult
	Nodes    []store.Node

	// Trace is populated when Config.EnableTrace is set
	Trace *OperationTrace
}

// Recall consults the flat, episodic and semantic stores in turn and
// aggregates their ranked results.
func (g *Engram) Recall(ctx context.Context, q RecallQuery) *RecallResult {
	started := time.Now()
	opTrace := newTrace()
	res := &RecallResult{}

	st := newSpanTimer("search-records", opTrace, g.cfg.EnableTrace)
	res.Records = g.records.Search(store.Query{Content: q.Text, Tags: q.Tags}, q.Limit)
	st.finish(true, nil, map[string]int64{"resultsReturned": int64(len(res.Records))})

	st = newSpanTimer("search-episodes", opTrace, g.cfg.EnableTrace)
	res.Episodes = g.episodes.Search(store.EpisodeQuery{Content: q.Text, Context: q.Context}, q.Limit)
	st.finish(true, nil, map[string]int64{"episodesReturned": int64(len(res.Episodes))})

	st = newSpanTimer("search-nodes", opTrace, g.cfg.EnableTrace)
	res.Nodes = g.graph.Search(store.NodeQuery{Concept: q.Concept, Attributes: q.Attributes}, q.Limit)
	st.finish(true, nil, map[string]int64{"nodesReturned": int64(len(res.Nodes))})

	if g.cfg.EnableTrace {
		res.Trace = opTrace
	}
	g.finishOperation(ctx, "recall", started, opTrace, nil)
	return res
}

// Stats reports current store sizes and refreshes the storage gauges.
type Stats struct {
	Records  int
	Episodes int
	Nodes    int
}

// Stats returns the current size of each store.
func (g *Engram) Stats(ctx context.Context) Stats {
	s := Stats{
		Records:  g.records.Size(),
		Episodes: g.episodes.EpisodeCount(),
		Nodes:    g.graph.NodeCount(),
	}
	g.metrics.SetStorageCount(ctx, "records", int64(s.Records))
	g.metrics.SetStorageCount(ctx, "episodes", int64(s.Episodes))
	g.metrics.SetStorageCount(ctx, "nodes", int64(s.Nodes))
	return s
}

// Close flushes the trace exporter, if any.
func (g *Engram) Close() error {
	if g.exporter != nil {
		return g.exporter.Close()
	}
	return nil
}

func (g *Engram) finishOperation(ctx context.Context, op string, started time.Time, opTrace *OperationTrace, ids map[string]interface{}) {
	durationMs := time.Since(started).Milliseconds()
	g.metrics.RecordOperation(ctx, op, "success", durationMs)
	for _, span := range opTrace.Spans {
		g.metrics.RecordStage(ctx, op, span.Name, span.DurationMs)
	}
	g.export(ctx, op, started, durationMs, "success", "", opTrace, ids)
}

func (g *Engram) failOperation(ctx context.Context, op string, started time.Time, opTrace *OperationTrace, err error, ids map[string]interface{}) {
	durationMs := time.Since(started).Milliseconds()
	errType := ClassifyError(err)
	g.metrics.RecordOperation(ctx, op, "error", durationMs)
	g.metrics.RecordError(ctx, op, errType)
	g.logger.Error("operation failed",
		slog.String("operation", op),
		slog.String("errorType", errType),
		slog.String("error", err.Error()))
	g.export(ctx, op, started, durationMs, "error", errType, opTrace, ids)
}

// export builds a sanitized TraceRecord and hands it to the exporter.
// Export failures are logged, never propagated to the caller.
func (g *Engram) export(ctx context.Context, op string, started time.Time, durationMs int64, status, errType string, opTrace *OperationTrace, ids map[string]interface{}) {
	if g.exporter == nil {
		return
	}

	spans := make([]trace.SpanRecord, 0, len(opTrace.Spans))
	for _, s := range opTrace.Spans {
		sr := trace.SpanRecord{
			Name:       s.Name,
			DurationMs: s.DurationMs,
			OK:         s.OK,
			Counters:   s.Counters,
		}
		if !s.OK {
			sr.ErrorType = errType
		}
		spans = append(spans, sr)
	}

	record := &trace.TraceRecord{
		Timestamp:   started,
		OperationID: uuid.New().String(),
		Operation:   op,
		DurationMs:  durationMs,
		Status:      status,
		Spans:       spans,
		ErrorType:   errType,
		IDs:         ids,
	}
	if err := g.exporter.Export(ctx, record); err != nil {
		g.logger.Warn("trace export failed", slog.String("error", err.Error()))
	}
}
