// Package coordinator owns a single benchmark run: it partitions the
// suite into batches, schedules batch executors under a concurrency cap,
// merges batch results into the run response map, persists the artifact
// and publishes run-scoped progress events.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/jaseci-llmdocs/jacbench/clock"
	"github.com/jaseci-llmdocs/jacbench/eventbus"
	"github.com/jaseci-llmdocs/jacbench/executor"
	"github.com/jaseci-llmdocs/jacbench/store"
	"github.com/jaseci-llmdocs/jacbench/suite"
	"github.com/jaseci-llmdocs/jacbench/types"
)

// Defaults for run scheduling.
const (
	DefaultBatchConcurrency = 4
	DefaultRunTimeout       = 30 * time.Minute
)

// Config tunes one run.
type Config struct {
	// BatchConcurrency bounds concurrently executing batches.
	BatchConcurrency int
	// RunTimeout is the soft wall clock limit; expiry cancels the run.
	RunTimeout time.Duration
	// MaxRetries per batch.
	MaxRetries int
}

func (c *Config) defaults() {
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = DefaultBatchConcurrency
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = DefaultRunTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = executor.DefaultMaxRetries
	}
}

// Snapshot is the externally visible run state.
type Snapshot struct {
	RunID            string                   `json:"run_id"`
	Status           types.RunStatus          `json:"status"`
	Model            string                   `json:"model"`
	Variant          string                   `json:"variant"`
	TotalBatches     int                      `json:"total_batches"`
	CompletedBatches int                      `json:"completed_batches"`
	FailedBatches    int                      `json:"failed_batches"`
	TotalTests       int                      `json:"total_tests"`
	Batches          []executor.BatchSnapshot `json:"batches"`
	ArtifactID       string                   `json:"artifact_id,omitempty"`
	Error            string                   `json:"error,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
}

// Coordinator drives one run to a terminal state. All mutation of run
// state happens on the coordinator's goroutines; readers get copies via
// Status.
type Coordinator struct {
	runID string
	req   types.RunRequest
	suite *suite.Suite
	doc   string

	exec   *executor.Executor
	store  store.Store
	bus    *eventbus.Bus
	clk    clock.Clock
	logger *zap.Logger
	conf   Config

	mu         sync.Mutex
	status     types.RunStatus
	batches    []*executor.Batch
	responses  map[string]string
	missing    []string
	artifactID string
	errDetail  string
	createdAt  time.Time

	runCtx  context.Context
	cancel  context.CancelFunc
	rerunWG sync.WaitGroup
	// sealed refuses new reruns once all batches finished and the run is
	// about to finalize.
	sealed bool
	done   chan struct{}
}

// New prepares a coordinator for one run. The request must already be
// validated and the suite filtered per the request.
func New(runID string, req types.RunRequest, s *suite.Suite, doc string,
	exec *executor.Executor, st store.Store, bus *eventbus.Bus, clk clock.Clock,
	logger *zap.Logger, conf Config) (*Coordinator, error) {
	conf.defaults()

	var (
		parts [][]string
		err   error
	)
	if len(req.BatchSizes) > 0 {
		parts, err = s.PartitionSizes(req.BatchSizes)
	} else {
		parts, err = s.Partition(req.BatchSize)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConfig, err)
	}

	c := &Coordinator{
		runID:     runID,
		req:       req,
		suite:     s,
		doc:       doc,
		exec:      exec,
		store:     st,
		bus:       bus,
		clk:       clk,
		logger:    logger.With(zap.String("runId", runID)),
		conf:      conf,
		status:    types.RunPending,
		responses: make(map[string]string),
		createdAt: clk.Now(),
		done:      make(chan struct{}),
	}
	for i, ids := range parts {
		cases := make([]suite.TestCase, 0, len(ids))
		for _, id := range ids {
			tc, _ := s.ByID(id)
			cases = append(cases, tc)
		}
		c.batches = append(c.batches, executor.NewBatch(i+1, cases, conf.MaxRetries))
	}
	return c, nil
}

// RunID returns the run identifier.
func (c *Coordinator) RunID() string { return c.runID }

// Done is closed when the run reaches a terminal state.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Start executes the run to completion. It blocks; callers run it on its
// own goroutine.
func (c *Coordinator) Start(ctx context.Context) {
	defer close(c.done)

	runCtx, cancel := context.WithTimeout(ctx, c.conf.RunTimeout)
	defer cancel()
	c.mu.Lock()
	c.runCtx = runCtx
	c.cancel = cancel
	c.status = types.RunRunning
	c.mu.Unlock()

	topic := eventbus.RunTopic(c.runID)
	c.bus.Publish(topic, eventbus.Event{
		Kind:  eventbus.KindRunStarted,
		RunID: c.runID,
		Payload: map[string]any{
			"model":       c.req.Model,
			"variant":     c.req.Variant,
			"num_batches": len(c.batches),
			"total_tests": c.suite.Len(),
		},
	})
	c.bus.Publish(eventbus.TopicGlobal, eventbus.Event{Kind: eventbus.KindRunStarted, RunID: c.runID})

	sem := semaphore.NewWeighted(int64(c.conf.BatchConcurrency))
	var wg sync.WaitGroup
	params := executor.Params{
		RunID:       c.runID,
		Topic:       topic,
		Model:       c.req.Model,
		Doc:         c.doc,
		Temperature: c.req.Temperature,
		MaxTokens:   c.req.MaxTokens,
	}

	completed := 0
	for _, b := range c.batches {
		wg.Add(1)
		go func(b *executor.Batch) {
			defer wg.Done()
			if err := sem.Acquire(runCtx, 1); err != nil {
				// Pending batch at cancellation time fails immediately.
				c.failPending(topic, b)
				return
			}
			defer sem.Release(1)

			err := c.exec.Run(runCtx, params, b)
			c.mu.Lock()
			if err == nil {
				completed++
			}
			n := completed
			c.mu.Unlock()
			if err == nil {
				c.bus.Publish(topic, eventbus.Event{
					Kind:  eventbus.KindRunProgress,
					RunID: c.runID,
					Batch: b.Num,
					Payload: map[string]any{
						"completed_batches": n,
						"total_batches":     len(c.batches),
					},
				})
			}
		}(b)
	}
	wg.Wait()
	// Seal under the mutex so a concurrent RerunBatch either registered
	// its rerun before the wait below or gets rejected.
	c.mu.Lock()
	c.sealed = true
	c.mu.Unlock()
	c.rerunWG.Wait()

	c.finalize(runCtx)
}

func (c *Coordinator) failPending(topic string, b *executor.Batch) {
	if !b.FailPending(types.ErrCancelled.Error()) {
		return
	}
	c.bus.Publish(topic, eventbus.Event{
		Kind:  eventbus.KindBatchFailed,
		RunID: c.runID,
		Batch: b.Num,
		Error: types.ErrCancelled.Error(),
	})
}

// finalize merges batch results, decides the terminal status, persists
// the artifact and publishes the terminal event. The terminal event is
// the last event on the run topic.
func (c *Coordinator) finalize(runCtx context.Context) {
	c.mu.Lock()
	anySuccess := false
	for _, b := range c.batches {
		snap := b.Snapshot()
		if snap.Status == types.BatchCompleted {
			anySuccess = true
		}
		for _, tc := range b.Cases {
			if code, ok := b.Responses[tc.ID]; ok && code != "" && snap.Status == types.BatchCompleted {
				if _, exists := c.responses[tc.ID]; !exists {
					c.responses[tc.ID] = code
				}
			}
		}
	}
	// One entry per suite id; ids without a response get the explicit
	// empty marker.
	for _, id := range c.suite.IDs() {
		if _, ok := c.responses[id]; !ok {
			c.responses[id] = ""
			c.missing = append(c.missing, id)
		}
	}

	cancelled := runCtx.Err() != nil
	var terminal types.RunStatus
	var detail string
	switch {
	case cancelled:
		terminal = types.RunCancelled
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			detail = "run timeout"
		}
	case anySuccess:
		terminal = types.RunCompleted
	default:
		terminal = types.RunFailed
		detail = "all batches failed"
	}

	var artifact *types.Artifact
	if terminal == types.RunCompleted {
		artifact = c.buildArtifactLocked()
	}
	c.mu.Unlock()

	if artifact != nil {
		if err := c.store.WriteArtifact(artifact); err != nil {
			c.logger.Error("artifact write failed", zap.Error(err))
			terminal = types.RunFailed
			detail = fmt.Errorf("%w: %v", types.ErrStorePersist, err).Error()
			artifact = nil
		}
	}

	c.mu.Lock()
	c.status = terminal
	c.errDetail = detail
	if artifact != nil {
		c.artifactID = artifact.ID
	}
	c.mu.Unlock()

	kind := map[types.RunStatus]eventbus.Kind{
		types.RunCompleted: eventbus.KindRunCompleted,
		types.RunFailed:    eventbus.KindRunFailed,
		types.RunCancelled: eventbus.KindRunCancelled,
	}[terminal]

	ev := eventbus.Event{Kind: kind, RunID: c.runID, Error: detail}
	if artifact != nil {
		ev.Payload = map[string]any{"artifact_id": artifact.ID}
	}
	c.bus.Publish(eventbus.RunTopic(c.runID), ev)
	c.bus.Publish(eventbus.TopicGlobal, ev)

	c.logger.Info("run finished",
		zap.String("status", string(terminal)),
		zap.String("artifactId", c.artifactID),
		zap.String("detail", detail))
}

func (c *Coordinator) buildArtifactLocked() *types.Artifact {
	now := c.clk.Now()
	responses := make(map[string]string, len(c.responses))
	for k, v := range c.responses {
		responses[k] = v
	}
	meta := types.Metadata{
		Model:       c.req.Model,
		Variant:     c.req.Variant,
		SuiteName:   c.suite.Name,
		TotalTests:  c.suite.Len(),
		Temperature: c.req.Temperature,
		MaxTokens:   c.req.MaxTokens,
		BatchSize:   c.req.BatchSize,
		BatchSizes:  c.req.BatchSizes,
		NumBatches:  len(c.batches),
		CreatedAt:   now,
	}
	return &types.Artifact{
		ID:        clock.ArtifactID(c.req.Model, c.req.Variant, now),
		RunID:     c.runID,
		Responses: responses,
		Missing:   append([]string(nil), c.missing...),
		Metadata:  meta,
	}
}

// Cancel requests cooperative cancellation: no new batch dispatch,
// pending batches fail immediately, in-flight executors abort at the next
// model client suspension point.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// RerunBatch schedules a manual rerun of one batch while the run is not
// yet terminal. On success the rerun's responses overwrite the batch's
// entries; events publish on the batch_rerun topic.
func (c *Coordinator) RerunBatch(num int) error {
	c.mu.Lock()
	if c.sealed || c.status.Terminal() || c.runCtx == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: run %s is not accepting reruns", types.ErrConfig, c.runID)
	}
	if num < 1 || num > len(c.batches) {
		c.mu.Unlock()
		return fmt.Errorf("%w: batch %d out of range [1, %d]", types.ErrConfig, num, len(c.batches))
	}
	orig := c.batches[num-1]
	runCtx := c.runCtx
	c.rerunWG.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.rerunWG.Done()
		fresh := executor.NewBatch(num, orig.Cases, c.conf.MaxRetries)
		params := executor.Params{
			RunID:       c.runID,
			Topic:       eventbus.RerunTopic(c.runID),
			Model:       c.req.Model,
			Doc:         c.doc,
			Temperature: c.req.Temperature,
			MaxTokens:   c.req.MaxTokens,
		}
		if err := c.exec.Run(runCtx, params, fresh); err != nil {
			c.logger.Warn("batch rerun failed", zap.Int("batch", num), zap.Error(err))
			return
		}
		c.mu.Lock()
		for _, tc := range fresh.Cases {
			if code, ok := fresh.Responses[tc.ID]; ok && code != "" {
				c.responses[tc.ID] = code
			}
		}
		c.mu.Unlock()
		// The original batch now counts as completed for the run's
		// terminal decision.
		orig.AdoptResult(fresh.Responses)
	}()
	return nil
}

// Status returns a copy of the run state.
func (c *Coordinator) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		RunID:      c.runID,
		Status:     c.status,
		Model:      c.req.Model,
		Variant:    c.req.Variant,
		TotalTests: c.suite.Len(),
		ArtifactID: c.artifactID,
		Error:      c.errDetail,
		CreatedAt:  c.createdAt,
	}
	for _, b := range c.batches {
		bs := b.Snapshot()
		snap.Batches = append(snap.Batches, bs)
		switch bs.Status {
		case types.BatchCompleted:
			snap.CompletedBatches++
		case types.BatchFailed:
			snap.FailedBatches++
		}
	}
	snap.TotalBatches = len(c.batches)
	return snap
}
