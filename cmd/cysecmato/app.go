package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/cysecmato/cysecmato/internal/audit"
	"github.com/cysecmato/cysecmato/internal/cache"
	"github.com/cysecmato/cysecmato/internal/catalog"
	"github.com/cysecmato/cysecmato/internal/config"
	"github.com/cysecmato/cysecmato/internal/embedding"
	"github.com/cysecmato/cysecmato/internal/embedding/providers"
	"github.com/cysecmato/cysecmato/internal/graph"
	"github.com/cysecmato/cysecmato/internal/llm"
	"github.com/cysecmato/cysecmato/internal/mapping"
	"github.com/cysecmato/cysecmato/internal/progress"
	"github.com/cysecmato/cysecmato/internal/rag"
	"github.com/cysecmato/cysecmato/internal/similarity"
)

// app holds the connections a command needs; build it with connect and
// release it with close
type app struct {
	cfg     *config.Config
	graph   *graph.Client
	closers []func() error
}

// connect validates the config for vctx and opens the graph
func connect(ctx context.Context, vctx config.ValidationContext) (*app, error) {
	result := cfg.Validate(vctx)
	for _, w := range result.Warnings {
		logger.Warn(w)
	}
	if err := result.Err(); err != nil {
		return nil, err
	}

	client, err := graph.NewClient(ctx, graph.ConnectOptions{
		URI:      cfg.Neo4j.URI,
		User:     cfg.Neo4j.User,
		Password: cfg.Neo4j.Password,
		Database: cfg.Neo4j.Database,
	})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, graph: client}, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.WithError(err).Debug("Close failed")
		}
	}
	_ = a.graph.Close(context.Background())
}

func (a *app) catalogs() *catalog.Repository {
	return catalog.NewRepository(a.graph)
}

func (a *app) similarityEngine() *similarity.Engine {
	return similarity.NewEngine(similarity.NewNeo4jStore(a.graph),
		similarity.WithMode(similarity.Mode(a.cfg.Similarity.Mode)),
		similarity.WithCosineFunction(a.cfg.Similarity.CosineFunction))
}

// mappingManager opens the audit trail; an unusable trail degrades to none
func (a *app) mappingManager(ctx context.Context) *mapping.Manager {
	trail, err := audit.Open(ctx, a.cfg.Audit)
	if err != nil {
		logger.WithError(err).Warn("Audit trail unavailable, transitions will not be recorded")
		trail = audit.Nop{}
	}
	a.closers = append(a.closers, trail.Close)
	return mapping.NewManager(mapping.NewNeo4jStore(a.graph), mapping.WithAudit(trail))
}

func (a *app) assembler(ctx context.Context) (*rag.Assembler, error) {
	client, err := llm.NewClient(ctx, a.cfg.LLM)
	if err != nil {
		return nil, err
	}
	logger.Debugf("Classifying with %s model %s", client.Provider(), client.Model())
	tmpl, err := rag.LoadPromptTemplate(a.cfg.RAG.PromptTemplate)
	if err != nil {
		return nil, err
	}
	return rag.NewAssembler(rag.NewNeo4jCandidateStore(a.graph), client, rag.WithPromptTemplate(tmpl)), nil
}

// embeddingPipeline wires model manager, encoder (with the vector cache
// when enabled) and the part store
func (a *app) embeddingPipeline() (*embedding.Pipeline, *embedding.Manager) {
	var managerOpts []embedding.ManagerOption
	if a.cfg.Embedding.MaxSeqLength > 0 {
		managerOpts = append(managerOpts, embedding.WithDefaultTokenLimit(a.cfg.Embedding.MaxSeqLength))
	}
	manager := embedding.NewManager(providers.NewLoader(a.cfg.Embedding), managerOpts...)

	var opts []embedding.EncoderOption
	if a.cfg.Cache.Enabled {
		store, err := cache.Open(a.cfg.Cache.Path)
		if err != nil {
			logger.WithError(err).Warn("Vector cache unavailable, encoding without it")
		} else {
			a.closers = append(a.closers, store.Close)
			opts = append(opts, embedding.WithCache(store))
		}
	}
	return embedding.NewPipeline(manager, embedding.NewEncoder(opts...), embedding.NewPartStore(a.graph)), manager
}

// displaySink renders events for an operator at a terminal, or as
// structured log lines when running unattended
func displaySink() progress.Sink {
	if config.DetectMode() == config.ModeCI {
		return progress.NewLogSink(nil)
	}
	return progress.Func(printEvent)
}

// withProgress runs fn with a sink whose events are rendered on a separate
// goroutine, so a slow terminal never holds up the operation. The returned
// recorder holds every event fn published.
func withProgress(fn func(progress.Sink) error) (*progress.Recorder, error) {
	ch := progress.NewChannelSink(256)
	display := displaySink()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ch.Events() {
			display.Publish(e)
		}
	}()

	rec := &progress.Recorder{}
	err := fn(progress.Multi(ch, rec))
	ch.Close()
	<-done
	if n := ch.Dropped(); n > 0 {
		logger.Debugf("%d progress events were not displayed", n)
	}
	return rec, err
}

func printEvent(e progress.Event) {
	entry := logger.WithField("stage", e.Stage)
	if e.Total > 0 {
		entry = entry.WithField("progress", fmt.Sprintf("%d/%d", e.Current, e.Total))
	}
	if e.Entity != "" {
		entry = entry.WithField("entity", e.Entity)
	}
	switch e.Level {
	case progress.LevelError:
		entry.Error(e.Message)
	case progress.LevelWarn:
		entry.Warn(e.Message)
	default:
		if e.Total > 0 && e.Current != e.Total {
			entry.Debug(e.Message)
			return
		}
		entry.Info(e.Message)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
