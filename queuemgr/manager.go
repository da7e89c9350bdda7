// Package queuemgr owns every run in the process. A submit with queue
// size N spawns N run coordinators in parallel under a queue-wide
// concurrency cap; the manager aggregates per-run progress into a global
// view and routes cancel and rerun requests to the owning coordinator.
package queuemgr

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/jaseci-llmdocs/jacbench/clock"
	"github.com/jaseci-llmdocs/jacbench/coordinator"
	"github.com/jaseci-llmdocs/jacbench/eventbus"
	"github.com/jaseci-llmdocs/jacbench/executor"
	"github.com/jaseci-llmdocs/jacbench/store"
	"github.com/jaseci-llmdocs/jacbench/suite"
	"github.com/jaseci-llmdocs/jacbench/types"
)

// DefaultRunConcurrency bounds concurrently executing runs queue-wide.
const DefaultRunConcurrency = 4

// OverallStatus is the derived state of the whole queue.
type OverallStatus string

const (
	OverallIdle       OverallStatus = "idle"
	OverallRunning    OverallStatus = "running"
	OverallEvaluating OverallStatus = "evaluating"
	OverallCompleted  OverallStatus = "completed"
	OverallFailed     OverallStatus = "failed"
)

// DocResolver loads the documentation text for a variant name.
type DocResolver interface {
	Resolve(variant string) (string, error)
}

// EvalTracker reports whether evaluation for an artifact has settled
// (result written or evaluation failed terminally).
type EvalTracker interface {
	Settled(artifactID string) bool
}

// Config tunes the manager.
type Config struct {
	// RunConcurrency bounds runs executing at once across all submits.
	RunConcurrency int
	// Coordinator is applied to every spawned run.
	Coordinator coordinator.Config
}

// GlobalSnapshot aggregates progress across every known run.
type GlobalSnapshot struct {
	Overall          OverallStatus          `json:"overall_status"`
	TotalRuns        int                    `json:"total_runs"`
	ActiveRuns       int                    `json:"active_runs"`
	TotalBatches     int                    `json:"total_batches"`
	CompletedBatches int                    `json:"completed_batches"`
	FailedBatches    int                    `json:"failed_batches"`
	Runs             []coordinator.Snapshot `json:"runs"`
}

// Manager is the single owner of per-process run state.
type Manager struct {
	fullSuite *suite.Suite
	docs      DocResolver
	exec      *executor.Executor
	store     store.Store
	bus       *eventbus.Bus
	clk       clock.Clock
	evals     EvalTracker
	logger    *zap.Logger
	conf      Config

	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	wg     sync.WaitGroup

	mu   sync.Mutex
	runs map[string]*coordinator.Coordinator
	// order preserves submission order for listings.
	order []string
	shut  bool
}

// New creates a manager. evals may be nil when no evaluator is attached;
// the global status then never reports evaluating.
func New(s *suite.Suite, docs DocResolver, exec *executor.Executor, st store.Store,
	bus *eventbus.Bus, clk clock.Clock, evals EvalTracker, logger *zap.Logger, conf Config) *Manager {
	if conf.RunConcurrency <= 0 {
		conf.RunConcurrency = DefaultRunConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		fullSuite: s,
		docs:      docs,
		exec:      exec,
		store:     st,
		bus:       bus,
		clk:       clk,
		evals:     evals,
		logger:    logger,
		conf:      conf,
		ctx:       ctx,
		cancel:    cancel,
		sem:       semaphore.NewWeighted(int64(conf.RunConcurrency)),
		runs:      make(map[string]*coordinator.Coordinator),
	}
}

// Submit validates the request, resolves the variant and spawns
// req.QueueSize coordinators. It returns the new run ids immediately;
// runs execute asynchronously.
func (m *Manager) Submit(req types.RunRequest) ([]string, error) {
	runSuite := m.fullSuite
	if len(req.TestIDs) > 0 {
		var err error
		runSuite, err = m.fullSuite.Filter(req.TestIDs)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrConfig, err)
		}
	}
	if err := req.Validate(runSuite.Len()); err != nil {
		return nil, err
	}
	doc, err := m.docs.Resolve(req.Variant)
	if err != nil {
		return nil, fmt.Errorf("%w: variant %q: %v", types.ErrConfig, req.Variant, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shut {
		return nil, fmt.Errorf("%w: manager is shut down", types.ErrConfig)
	}

	ids := make([]string, 0, req.QueueSize)
	for i := 0; i < req.QueueSize; i++ {
		runID := clock.NewRunID()
		c, err := coordinator.New(runID, req, runSuite, doc,
			m.exec, m.store, m.bus, m.clk, m.logger, m.conf.Coordinator)
		if err != nil {
			return nil, err
		}
		m.runs[runID] = c
		m.order = append(m.order, runID)
		ids = append(ids, runID)

		m.wg.Add(1)
		go func(c *coordinator.Coordinator) {
			defer m.wg.Done()
			if err := m.sem.Acquire(m.ctx, 1); err != nil {
				// Shutdown before the run got a slot; run it anyway so it
				// reaches a terminal cancelled state through the normal path.
				c.Start(m.ctx)
				return
			}
			defer m.sem.Release(1)
			c.Start(m.ctx)
		}(c)
	}
	m.logger.Info("submit accepted",
		zap.String("model", req.Model),
		zap.String("variant", req.Variant),
		zap.Int("queueSize", req.QueueSize),
		zap.Strings("runIds", ids))
	return ids, nil
}

func (m *Manager) run(runID string) (*coordinator.Coordinator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown run %s", types.ErrBadRequest, runID)
	}
	return c, nil
}

// CancelRun cooperatively cancels one run.
func (m *Manager) CancelRun(runID string) error {
	c, err := m.run(runID)
	if err != nil {
		return err
	}
	c.Cancel()
	return nil
}

// CancelAll cancels every child run. Submits remain possible afterwards.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	cs := make([]*coordinator.Coordinator, 0, len(m.runs))
	for _, c := range m.runs {
		cs = append(cs, c)
	}
	m.mu.Unlock()
	for _, c := range cs {
		c.Cancel()
	}
}

// RerunBatch schedules a manual batch rerun on a non-terminal run.
func (m *Manager) RerunBatch(runID string, batch int) error {
	c, err := m.run(runID)
	if err != nil {
		return err
	}
	return c.RerunBatch(batch)
}

// RunStatus returns the snapshot of one run.
func (m *Manager) RunStatus(runID string) (coordinator.Snapshot, error) {
	c, err := m.run(runID)
	if err != nil {
		return coordinator.Snapshot{}, err
	}
	return c.Status(), nil
}

// ListRuns returns snapshots in submission order.
func (m *Manager) ListRuns() []coordinator.Snapshot {
	m.mu.Lock()
	order := append([]string(nil), m.order...)
	runs := make(map[string]*coordinator.Coordinator, len(m.runs))
	for id, c := range m.runs {
		runs[id] = c
	}
	m.mu.Unlock()

	out := make([]coordinator.Snapshot, 0, len(order))
	for _, id := range order {
		out = append(out, runs[id].Status())
	}
	return out
}

// GlobalStatus derives the cross-run aggregate: running while any run is
// active, evaluating once generation is done but evaluations are still
// outstanding, completed when every run succeeded, failed when any run
// failed and none remain active.
func (m *Manager) GlobalStatus() GlobalSnapshot {
	runs := m.ListRuns()

	g := GlobalSnapshot{Runs: runs, TotalRuns: len(runs)}
	var anyActive, anyFailed, allCompleted bool
	allCompleted = len(runs) > 0
	evaluating := false
	for _, r := range runs {
		g.TotalBatches += r.TotalBatches
		g.CompletedBatches += r.CompletedBatches
		g.FailedBatches += r.FailedBatches
		if !r.Status.Terminal() {
			anyActive = true
			g.ActiveRuns++
		}
		switch r.Status {
		case types.RunCompleted:
			if m.evals != nil && r.ArtifactID != "" && !m.evals.Settled(r.ArtifactID) {
				evaluating = true
			}
		case types.RunFailed, types.RunCancelled:
			anyFailed = true
			allCompleted = false
		default:
			allCompleted = false
		}
	}

	switch {
	case len(runs) == 0:
		g.Overall = OverallIdle
	case anyActive:
		g.Overall = OverallRunning
	case evaluating:
		g.Overall = OverallEvaluating
	case allCompleted:
		g.Overall = OverallCompleted
	case anyFailed:
		g.Overall = OverallFailed
	default:
		g.Overall = OverallCompleted
	}
	return g
}

// PruneTerminal drops topics and forgets runs that reached a terminal
// state before the cutoff index, keeping the newest keep runs. Used by
// the server's periodic sweep so long-lived processes do not accumulate
// unbounded run state.
func (m *Manager) PruneTerminal(keep int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	type done struct {
		id  string
		idx int
	}
	var terminal []done
	for i, id := range m.order {
		if m.runs[id].Status().Status.Terminal() {
			terminal = append(terminal, done{id, i})
		}
	}
	if len(terminal) <= keep {
		return 0
	}
	sort.Slice(terminal, func(i, j int) bool { return terminal[i].idx < terminal[j].idx })
	drop := terminal[:len(terminal)-keep]
	dropped := make(map[string]bool, len(drop))
	for _, d := range drop {
		delete(m.runs, d.id)
		dropped[d.id] = true
		m.bus.DropTopic(eventbus.RunTopic(d.id))
		m.bus.DropTopic(eventbus.RerunTopic(d.id))
	}
	order := m.order[:0]
	for _, id := range m.order {
		if !dropped[id] {
			order = append(order, id)
		}
	}
	m.order = order
	return len(drop)
}

// Shutdown cancels every run and waits for all coordinators to reach a
// terminal state or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shut = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
