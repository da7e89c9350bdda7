// Package executor drives a single batch of test cases through the model
// client. Each batch is a small state machine (pending, running,
// retrying, completed, failed) with a per-batch timeout and a bounded
// retry policy; a retry re-issues the full batch prompt and replaces any
// partial result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jaseci-llmdocs/jacbench/eventbus"
	"github.com/jaseci-llmdocs/jacbench/suite"
	"github.com/jaseci-llmdocs/jacbench/types"
)

// Defaults for the retry policy.
const (
	DefaultBatchTimeout = 10 * time.Minute
	DefaultMaxRetries   = 3

	backoffBase   = time.Second
	backoffFactor = 2
	backoffCap    = 30 * time.Second
	backoffJitter = 0.2
)

// Config tunes batch execution.
type Config struct {
	// BatchTimeout is the wall clock limit for one model call.
	BatchTimeout time.Duration
	// MaxRetries bounds retry attempts after the first.
	MaxRetries int
}

func (c *Config) defaults() {
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
}

// Batch is the unit of model dispatch: a contiguous subset of the suite.
// Status transitions are performed only by the executor running it.
type Batch struct {
	Num        int
	Cases      []suite.TestCase
	Status     types.BatchStatus
	Retries    int
	MaxRetries int
	LastError  string
	// Responses holds the batch's share of the response map after a
	// successful attempt.
	Responses map[string]string

	mu sync.Mutex
}

// NewBatch creates a pending batch.
func NewBatch(num int, cases []suite.TestCase, maxRetries int) *Batch {
	return &Batch{
		Num:        num,
		Cases:      cases,
		Status:     types.BatchPending,
		MaxRetries: maxRetries,
	}
}

// IDs returns the test case ids assigned to the batch.
func (b *Batch) IDs() []string {
	ids := make([]string, len(b.Cases))
	for i, c := range b.Cases {
		ids[i] = c.ID
	}
	return ids
}

// Snapshot returns the externally visible batch state.
func (b *Batch) Snapshot() BatchSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BatchSnapshot{
		Num:        b.Num,
		Size:       len(b.Cases),
		Status:     b.Status,
		Retries:    b.Retries,
		MaxRetries: b.MaxRetries,
		LastError:  b.LastError,
	}
}

// BatchSnapshot is a copy of batch state safe to hand across goroutines.
type BatchSnapshot struct {
	Num        int               `json:"batch"`
	Size       int               `json:"size"`
	Status     types.BatchStatus `json:"status"`
	Retries    int               `json:"retries"`
	MaxRetries int               `json:"max_retries"`
	LastError  string            `json:"error,omitempty"`
}

// AdoptResult installs a successful rerun's responses, marking the batch
// completed regardless of its prior terminal state.
func (b *Batch) AdoptResult(responses map[string]string) {
	b.mu.Lock()
	b.Responses = responses
	b.Status = types.BatchCompleted
	b.LastError = ""
	b.mu.Unlock()
}

// FailPending marks a never-dispatched batch failed, for batches whose
// run was cancelled before they acquired an execution slot. It reports
// whether the transition happened.
func (b *Batch) FailPending(reason string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Status != types.BatchPending {
		return false
	}
	b.Status = types.BatchFailed
	b.LastError = reason
	return true
}

func (b *Batch) transition(st types.BatchStatus, lastErr string) {
	b.mu.Lock()
	b.Status = st
	if lastErr != "" {
		b.LastError = lastErr
	}
	b.mu.Unlock()
}

// Executor runs batches against one model client.
type Executor struct {
	client ModelClient
	bus    *eventbus.Bus
	logger *zap.Logger
	conf   Config

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an executor.
func New(client ModelClient, bus *eventbus.Bus, logger *zap.Logger, conf Config) *Executor {
	conf.defaults()
	return &Executor{
		client: client,
		bus:    bus,
		logger: logger,
		conf:   conf,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Params are the run-scoped inputs shared by all batches of one run.
type Params struct {
	RunID       string
	Topic       string
	Model       string
	Doc         string
	Temperature float64
	MaxTokens   int
}

// Run executes the batch to a terminal state. On success the batch holds
// its responses; on failure the returned error carries the terminal
// classification. There is at most one in-flight model call per batch.
func (e *Executor) Run(ctx context.Context, p Params, b *Batch) error {
	prompt := BuildPrompt(p.Doc, b.Cases)

	b.transition(types.BatchRunning, "")
	e.publish(p, eventbus.Event{Kind: eventbus.KindBatchStarted, RunID: p.RunID, Batch: b.Num})

	for attempt := 0; ; attempt++ {
		responses, err := e.attempt(ctx, p, prompt)
		if err == nil {
			b.mu.Lock()
			b.Responses = responses
			b.Status = types.BatchCompleted
			b.mu.Unlock()
			e.publish(p, eventbus.Event{Kind: eventbus.KindBatchCompleted, RunID: p.RunID, Batch: b.Num, Attempt: attempt})
			return nil
		}

		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", types.ErrCancelled, ctx.Err())
		}
		reason := err.Error()

		if !types.Retryable(err) || attempt >= b.MaxRetries {
			b.transition(types.BatchFailed, reason)
			e.publish(p, eventbus.Event{Kind: eventbus.KindBatchFailed, RunID: p.RunID, Batch: b.Num, Attempt: attempt, Error: reason})
			return err
		}

		b.mu.Lock()
		b.Status = types.BatchRetrying
		b.Retries = attempt + 1
		b.LastError = reason
		b.mu.Unlock()
		e.publish(p, eventbus.Event{Kind: eventbus.KindBatchRetry, RunID: p.RunID, Batch: b.Num, Attempt: attempt + 1, Error: reason})
		e.logger.Warn("batch retry",
			zap.String("runId", p.RunID),
			zap.Int("batch", b.Num),
			zap.Int("attempt", attempt+1),
			zap.String("reason", reason))

		if types.RateLimited(err) {
			if serr := e.sleep(ctx, backoffDelay(attempt)); serr != nil {
				b.transition(types.BatchFailed, serr.Error())
				e.publish(p, eventbus.Event{Kind: eventbus.KindBatchFailed, RunID: p.RunID, Batch: b.Num, Error: serr.Error()})
				return fmt.Errorf("%w: %v", types.ErrCancelled, serr)
			}
		}
		b.transition(types.BatchRunning, "")
	}
}

// attempt issues one model call under the per-batch timeout and parses
// the response map.
func (e *Executor) attempt(ctx context.Context, p Params, prompt string) (map[string]string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.conf.BatchTimeout)
	defer cancel()

	res, err := e.client.Invoke(callCtx, InvokeRequest{
		Model:       p.Model,
		Prompt:      prompt,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: batch timeout after %s", types.ErrTimeout, e.conf.BatchTimeout)
		}
		return nil, err
	}
	responses, err := ParseResponses(res.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidResponse, err)
	}
	return responses, nil
}

func (e *Executor) publish(p Params, ev eventbus.Event) {
	if e.bus != nil {
		e.bus.Publish(p.Topic, ev)
	}
}

// backoffDelay computes the rate-limit backoff before retry attempt+1:
// base 1s doubling per attempt, capped at 30s, with +-20% jitter.
func backoffDelay(attempt int) time.Duration {
	d := backoffBase
	for i := 0; i < attempt; i++ {
		d *= backoffFactor
		if d >= backoffCap {
			d = backoffCap
			break
		}
	}
	jitter := 1 - backoffJitter + 2*backoffJitter*rand.Float64()
	return time.Duration(float64(d) * jitter)
}
