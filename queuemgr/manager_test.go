package queuemgr

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/jaseci-llmdocs/jacbench/clock"
	"github.com/jaseci-llmdocs/jacbench/eventbus"
	"github.com/jaseci-llmdocs/jacbench/executor"
	"github.com/jaseci-llmdocs/jacbench/store"
	"github.com/jaseci-llmdocs/jacbench/suite"
	"github.com/jaseci-llmdocs/jacbench/types"
)

type staticDocs map[string]string

func (d staticDocs) Resolve(variant string) (string, error) {
	doc, ok := d[variant]
	if !ok {
		return "", fmt.Errorf("no such variant %q", variant)
	}
	return doc, nil
}

type funcClient struct {
	fn func(ctx context.Context, req executor.InvokeRequest) (*executor.InvokeResult, error)
}

func (c *funcClient) Invoke(ctx context.Context, req executor.InvokeRequest) (*executor.InvokeResult, error) {
	return c.fn(ctx, req)
}

func echoClient() *funcClient {
	return &funcClient{fn: func(_ context.Context, req executor.InvokeRequest) (*executor.InvokeResult, error) {
		var sb strings.Builder
		sb.WriteString("{")
		first := true
		for _, id := range []string{"t1", "t2"} {
			if !strings.Contains(req.Prompt, `"id": "`+id+`"`) {
				continue
			}
			if !first {
				sb.WriteString(",")
			}
			first = false
			sb.WriteString(`"` + id + `": "code"`)
		}
		sb.WriteString("}")
		return &executor.InvokeResult{Text: sb.String()}, nil
	}}
}

type settledSet struct {
	mu  sync.Mutex
	set map[string]bool
}

func (s *settledSet) Settled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set[id]
}

func (s *settledSet) mark(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set == nil {
		s.set = map[string]bool{}
	}
	s.set[id] = true
}

func newManager(t *testing.T, client executor.ModelClient, evals EvalTracker) (*Manager, store.Store) {
	t.Helper()
	s, err := suite.New("bench", []suite.TestCase{
		{ID: "t1", Level: 1, Category: "basic", Task: "a", Points: 5},
		{ID: "t2", Level: 1, Category: "basic", Task: "b", Points: 5},
	})
	if err != nil {
		t.Fatal(err)
	}
	logger := zaptest.NewLogger(t)
	bus := eventbus.New(0, 0)
	t.Cleanup(bus.Close)
	st := store.NewMemoryStore()
	exec := executor.New(client, bus, logger, executor.Config{BatchTimeout: 5 * time.Second})
	m := New(s, staticDocs{"full": "docs"}, exec, st, bus, clock.Real{}, evals, logger, Config{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m, st
}

func waitTerminal(t *testing.T, m *Manager, ids []string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		done := true
		for _, id := range ids {
			snap, err := m.RunStatus(id)
			if err != nil {
				t.Fatal(err)
			}
			if !snap.Status.Terminal() {
				done = false
			}
		}
		if done {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("runs did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func submit(queueSize int) types.RunRequest {
	return types.RunRequest{Model: "acme/m", Variant: "full", BatchSize: 1, QueueSize: queueSize}
}

func TestSubmitSpawnsQueueSizeRuns(t *testing.T) {
	m, st := newManager(t, echoClient(), nil)
	ids, err := m.Submit(submit(3))
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 {
		t.Fatalf("got %d run ids", len(ids))
	}
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate run id %s", id)
		}
		seen[id] = true
	}
	waitTerminal(t, m, ids)

	g := m.GlobalStatus()
	if g.Overall != OverallCompleted {
		t.Fatalf("overall = %s", g.Overall)
	}
	if g.TotalBatches != 6 || g.CompletedBatches != 6 {
		t.Fatalf("batches = %d/%d, want 6/6", g.CompletedBatches, g.TotalBatches)
	}
	arts, err := st.ListArtifacts()
	if err != nil {
		t.Fatal(err)
	}
	if len(arts) != 3 {
		t.Fatalf("artifacts = %d", len(arts))
	}
}

func TestSubmitRejectsBadRequests(t *testing.T) {
	m, _ := newManager(t, echoClient(), nil)

	for name, req := range map[string]types.RunRequest{
		"unknown variant": {Model: "m", Variant: "nope", BatchSize: 1},
		"temperature":     {Model: "m", Variant: "full", BatchSize: 1, Temperature: 2.5},
		"queue size":      {Model: "m", Variant: "full", BatchSize: 1, QueueSize: 21},
		"batch sizes sum": {Model: "m", Variant: "full", BatchSizes: []int{1, 2}},
		"unknown test id": {Model: "m", Variant: "full", BatchSize: 1, TestIDs: []string{"zz"}},
	} {
		if _, err := m.Submit(req); err == nil {
			t.Errorf("%s: submit accepted", name)
		}
	}
}

func TestCancelAllTerminatesEveryRun(t *testing.T) {
	started := make(chan struct{}, 8)
	client := &funcClient{fn: func(ctx context.Context, _ executor.InvokeRequest) (*executor.InvokeResult, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	m, st := newManager(t, client, nil)
	ids, err := m.Submit(submit(3))
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("nothing started")
	}
	m.CancelAll()
	waitTerminal(t, m, ids)

	for _, id := range ids {
		snap, _ := m.RunStatus(id)
		if snap.Status != types.RunCancelled {
			t.Errorf("run %s status = %s", id, snap.Status)
		}
	}
	arts, _ := st.ListArtifacts()
	if len(arts) != 0 {
		t.Errorf("cancelled runs produced %d artifacts", len(arts))
	}
}

func TestGlobalStatusEvaluating(t *testing.T) {
	evals := &settledSet{}
	m, _ := newManager(t, echoClient(), evals)
	ids, err := m.Submit(submit(1))
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, m, ids)

	if g := m.GlobalStatus(); g.Overall != OverallEvaluating {
		t.Fatalf("overall = %s, want evaluating before eval settles", g.Overall)
	}
	snap, _ := m.RunStatus(ids[0])
	evals.mark(snap.ArtifactID)
	if g := m.GlobalStatus(); g.Overall != OverallCompleted {
		t.Fatalf("overall = %s after eval settled", g.Overall)
	}
}

func TestUnknownRunErrors(t *testing.T) {
	m, _ := newManager(t, echoClient(), nil)
	if _, err := m.RunStatus("missing"); err == nil {
		t.Error("RunStatus accepted unknown run")
	}
	if err := m.CancelRun("missing"); err == nil {
		t.Error("CancelRun accepted unknown run")
	}
	if err := m.RerunBatch("missing", 1); err == nil {
		t.Error("RerunBatch accepted unknown run")
	}
}

func TestPruneTerminalKeepsNewest(t *testing.T) {
	m, _ := newManager(t, echoClient(), nil)
	ids, err := m.Submit(submit(3))
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, m, ids)

	if n := m.PruneTerminal(1); n != 2 {
		t.Fatalf("pruned %d, want 2", n)
	}
	if got := len(m.ListRuns()); got != 1 {
		t.Fatalf("runs left = %d", got)
	}
	if _, err := m.RunStatus(ids[2]); err != nil {
		t.Errorf("newest run pruned: %v", err)
	}
}
