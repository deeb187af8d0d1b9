// Package metrics defines the Prometheus instruments for the mapping core
// and serves them over HTTP.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cysecmato"

var (
	// ModelLoads counts embedding model initializations by outcome (loaded, reused, failed)
	ModelLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_loads_total",
		Help:      "Embedding model initialization attempts by outcome.",
	}, []string{"outcome"})

	// Embeddings counts batch items by outcome (computed, skipped, invalid, failed)
	Embeddings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "embeddings_total",
		Help:      "Description parts processed by the embedding pipeline.",
	}, []string{"outcome"})

	// EmbeddingChunks observes how many chunks a text was split into (1 = direct)
	EmbeddingChunks = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "embedding_chunks",
		Help:      "Chunks per encoded text.",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
	})

	// VectorCache counts cache lookups by result (hit, miss)
	VectorCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "vector_cache_lookups_total",
		Help:      "Vector cache lookups by result.",
	}, []string{"result"})

	// SimilarityRows counts similarity rows returned or written per mode
	SimilarityRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "similarity_rows_total",
		Help:      "Similarity rows by mode and action.",
	}, []string{"mode", "action"})

	// SimilarityDuration observes similarity computation time per mode
	SimilarityDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "similarity_duration_seconds",
		Help:      "Similarity computation latency.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"mode"})

	// MappingTransitions counts lifecycle transitions by kind and outcome
	MappingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mapping_transitions_total",
		Help:      "Mapping lifecycle transitions.",
	}, []string{"transition", "outcome"})

	// LLMRequests counts completion calls by provider and outcome
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_requests_total",
		Help:      "LLM completion requests.",
	}, []string{"provider", "outcome"})

	// LLMLatency observes completion latency per provider
	LLMLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "llm_request_duration_seconds",
		Help:      "LLM completion latency.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
	}, []string{"provider"})

	// GraphQueries observes Neo4j query latency per operation and outcome
	GraphQueries = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "graph_query_duration_seconds",
		Help:      "Neo4j query latency by operation.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 4, 9),
	}, []string{"operation", "outcome"})

	// RAGOutcomes counts per-candidate results of batch proposals
	RAGOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rag_candidates_total",
		Help:      "RAG candidates by proposal outcome.",
	}, []string{"outcome"})
)

// Outcome returns "ok" or "error" for use as a label value
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler returns the exposition handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled
func Serve(ctx context.Context, addr string) error {
	logger := slog.Default().With("component", "metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
