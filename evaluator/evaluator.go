// Package evaluator schedules scoring of completed run artifacts. It
// watches the global event stream for run completions, bounds concurrent
// evaluations with a semaphore and writes each result to the store keyed
// by artifact id. Evaluation is idempotent: a stored result is returned
// as-is and never recomputed.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/jaseci-llmdocs/jacbench/clock"
	"github.com/jaseci-llmdocs/jacbench/eventbus"
	"github.com/jaseci-llmdocs/jacbench/scorer"
	"github.com/jaseci-llmdocs/jacbench/store"
	"github.com/jaseci-llmdocs/jacbench/suite"
	"github.com/jaseci-llmdocs/jacbench/types"
)

// DefaultConcurrency bounds evaluations running at once.
const DefaultConcurrency = 2

// Config tunes the evaluator.
type Config struct {
	Concurrency int
}

// Evaluator scores artifacts produced by completed runs.
type Evaluator struct {
	scorer *scorer.Scorer
	store  store.Store
	bus    *eventbus.Bus
	suite  *suite.Suite
	clk    clock.Clock
	logger *zap.Logger
	sem    *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]chan struct{}
	failed   map[string]string
}

// New creates an evaluator over the full suite. Artifacts of filtered
// runs are scored against the sub-suite their response map covers.
func New(sc *scorer.Scorer, st store.Store, bus *eventbus.Bus, s *suite.Suite,
	clk clock.Clock, logger *zap.Logger, conf Config) *Evaluator {
	if conf.Concurrency <= 0 {
		conf.Concurrency = DefaultConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Evaluator{
		scorer:   sc,
		store:    st,
		bus:      bus,
		suite:    s,
		clk:      clk,
		logger:   logger,
		sem:      semaphore.NewWeighted(int64(conf.Concurrency)),
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]chan struct{}),
		failed:   make(map[string]string),
	}
}

// Start subscribes to the global stream and evaluates every completed
// run's artifact until Close.
func (e *Evaluator) Start() error {
	sub, err := e.bus.Subscribe(eventbus.TopicGlobal, 0)
	if err != nil {
		return err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer sub.Close()
		for {
			select {
			case <-e.ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if ev.Kind != eventbus.KindRunCompleted {
					continue
				}
				id, _ := ev.Payload["artifact_id"].(string)
				if id == "" {
					continue
				}
				e.wg.Add(1)
				go func(runID, artifactID string) {
					defer e.wg.Done()
					if _, err := e.evaluate(e.ctx, runID, artifactID); err != nil &&
						!errors.Is(err, context.Canceled) {
						e.logger.Error("evaluation failed",
							zap.String("artifactId", artifactID), zap.Error(err))
					}
				}(ev.RunID, id)
			}
		}
	}()
	return nil
}

// Close stops the watcher and waits for in-flight evaluations.
func (e *Evaluator) Close() {
	e.cancel()
	e.wg.Wait()
}

// Evaluate scores one artifact on demand. A stored result is returned
// without recomputation; concurrent calls for the same artifact coalesce
// onto one evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, artifactID string) (*types.EvalResult, error) {
	return e.evaluate(ctx, "", artifactID)
}

func (e *Evaluator) evaluate(ctx context.Context, runID, artifactID string) (*types.EvalResult, error) {
	if res, err := e.store.ReadEvalResult(artifactID); err == nil {
		return res, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	e.mu.Lock()
	if ch, ok := e.inflight[artifactID]; ok {
		e.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return e.store.ReadEvalResult(artifactID)
	}
	ch := make(chan struct{})
	e.inflight[artifactID] = ch
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.inflight, artifactID)
		e.mu.Unlock()
		close(ch)
	}()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.sem.Release(1)

	e.publish(eventbus.Event{
		Kind:    eventbus.KindEvalStarted,
		RunID:   runID,
		Payload: map[string]any{"artifact_id": artifactID},
	})

	res, err := e.score(ctx, artifactID)
	if err != nil {
		e.mu.Lock()
		e.failed[artifactID] = err.Error()
		e.mu.Unlock()
		e.publish(eventbus.Event{
			Kind:    eventbus.KindEvalFailed,
			RunID:   runID,
			Error:   err.Error(),
			Payload: map[string]any{"artifact_id": artifactID},
		})
		return nil, err
	}

	e.mu.Lock()
	delete(e.failed, artifactID)
	e.mu.Unlock()
	e.publish(eventbus.Event{
		Kind:  eventbus.KindEvalCompleted,
		RunID: runID,
		Payload: map[string]any{
			"artifact_id": artifactID,
			"total_score": res.Summary.TotalScore,
			"percentage":  res.Summary.Percentage,
		},
	})
	e.logger.Info("artifact evaluated",
		zap.String("artifactId", artifactID),
		zap.Float64("percentage", res.Summary.Percentage))
	return res, nil
}

func (e *Evaluator) score(ctx context.Context, artifactID string) (*types.EvalResult, error) {
	a, err := e.store.ReadArtifact(artifactID)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	runSuite, err := e.runSuite(a)
	if err != nil {
		return nil, err
	}

	res := e.scorer.Score(ctx, a, runSuite)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.EvaluatedAt = e.clk.Now()
	if err := e.store.WriteEvalResult(res); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorePersist, err)
	}
	return res, nil
}

// runSuite reconstructs the suite a filtered run executed against from
// the ids present in the artifact's response map.
func (e *Evaluator) runSuite(a *types.Artifact) (*suite.Suite, error) {
	if len(a.Responses) == e.suite.Len() {
		return e.suite, nil
	}
	ids := make([]string, 0, len(a.Responses))
	for id := range a.Responses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return e.suite.Filter(ids)
}

// Settled reports whether evaluation for the artifact has finished,
// either with a stored result or a recorded failure.
func (e *Evaluator) Settled(artifactID string) bool {
	if _, err := e.store.ReadEvalResult(artifactID); err == nil {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, failed := e.failed[artifactID]
	return failed
}

// publish emits to the global stream only. A run topic ends with the
// run's terminal event, so evaluation events must never appear there;
// they carry the run id in the event body instead.
func (e *Evaluator) publish(ev eventbus.Event) {
	e.bus.Publish(eventbus.TopicGlobal, ev)
}
