package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jaseci-llmdocs/jacbench/executor"
	"github.com/jaseci-llmdocs/jacbench/store"
	"github.com/jaseci-llmdocs/jacbench/types"
)

const metricsNamespace = "jacbench"

var (
	// 100ms -> 10min
	modelTimeBuckets = []float64{
		0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300, 600,
	}

	modelCallCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "model_calls_total",
		Help:      "Number of model invocations by outcome",
	}, []string{"outcome"})

	modelTimeHist = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "model_call_seconds",
		Help:      "Histogram for model invocation time",
		Buckets:   modelTimeBuckets,
	})

	modelTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "model_tokens_total",
		Help:      "Token usage reported by the provider",
	}, []string{"kind"})

	artifactCount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "artifacts_written_total",
		Help:      "Number of run artifacts persisted",
	})

	evalCount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "eval_results_written_total",
		Help:      "Number of evaluation results persisted",
	})

	storeErrorCount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "store_errors_total",
		Help:      "Number of store write failures",
	})
)

func init() {
	prometheus.MustRegister(modelCallCount, modelTimeHist, modelTokens)
	prometheus.MustRegister(artifactCount, evalCount, storeErrorCount)
}

var _ executor.ModelClient = &metricsModelClient{}

type metricsModelClient struct {
	executor.ModelClient
}

func newMetricsModelClient(c executor.ModelClient) executor.ModelClient {
	return &metricsModelClient{c}
}

func (m *metricsModelClient) Invoke(ctx context.Context, req executor.InvokeRequest) (*executor.InvokeResult, error) {
	start := time.Now()
	res, err := m.ModelClient.Invoke(ctx, req)
	modelTimeHist.Observe(time.Since(start).Seconds())
	modelCallCount.WithLabelValues(outcome(err)).Inc()
	if res != nil {
		modelTokens.WithLabelValues("prompt").Add(float64(res.Usage.PromptTokens))
		modelTokens.WithLabelValues("completion").Add(float64(res.Usage.CompletionTokens))
	}
	return res, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case types.RateLimited(err):
		return "rate_limited"
	case types.Retryable(err):
		return "retryable"
	default:
		return "failed"
	}
}

var _ store.Store = &metricsStore{}

type metricsStore struct {
	store.Store
}

func newMetricsStore(s store.Store) store.Store {
	return &metricsStore{s}
}

func (m *metricsStore) WriteArtifact(a *types.Artifact) error {
	err := m.Store.WriteArtifact(a)
	if err != nil {
		storeErrorCount.Inc()
		return err
	}
	artifactCount.Inc()
	return nil
}

func (m *metricsStore) WriteEvalResult(r *types.EvalResult) error {
	err := m.Store.WriteEvalResult(r)
	if err != nil {
		storeErrorCount.Inc()
		return err
	}
	evalCount.Inc()
	return nil
}
