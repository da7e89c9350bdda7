package evaluator

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/jaseci-llmdocs/jacbench/eventbus"
	"github.com/jaseci-llmdocs/jacbench/scorer"
	"github.com/jaseci-llmdocs/jacbench/store"
	"github.com/jaseci-llmdocs/jacbench/suite"
	"github.com/jaseci-llmdocs/jacbench/types"
)

// tickClock returns a strictly increasing time so cached results are
// distinguishable from recomputed ones.
type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *tickClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func benchSuite(t *testing.T) *suite.Suite {
	t.Helper()
	s, err := suite.New("bench", []suite.TestCase{
		{ID: "t1", Level: 1, Category: "basic", Task: "a", Required: []string{"print("}, Points: 10},
		{ID: "t2", Level: 2, Category: "oop", Task: "b", Required: []string{"obj "}, Points: 10},
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func artifact(id string) *types.Artifact {
	return &types.Artifact{
		ID:    id,
		RunID: "run1",
		Responses: map[string]string{
			"t1": `with entry { print("hi"); }`,
			"t2": `obj Point { has x: int; }`,
		},
		Metadata: types.Metadata{Model: "m", Variant: "full", TotalTests: 2},
	}
}

func newEvaluator(t *testing.T, st store.Store, bus *eventbus.Bus) *Evaluator {
	t.Helper()
	s := benchSuite(t)
	sc := scorer.New(scorer.Config{}, nil)
	return New(sc, st, bus, s, &tickClock{now: time.Unix(1700000000, 0)},
		zaptest.NewLogger(t), Config{})
}

func TestEvaluateWritesResult(t *testing.T) {
	st := store.NewMemoryStore()
	bus := eventbus.New(0, 0)
	defer bus.Close()
	if err := st.WriteArtifact(artifact("a1")); err != nil {
		t.Fatal(err)
	}
	e := newEvaluator(t, st, bus)

	res, err := e.Evaluate(context.Background(), "a1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.Percentage != 100 {
		t.Fatalf("percentage = %v", res.Summary.Percentage)
	}
	if res.EvaluatedAt.IsZero() {
		t.Fatal("EvaluatedAt not set")
	}
	stored, err := st.ReadEvalResult("a1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Summary.TotalScore != res.Summary.TotalScore {
		t.Fatal("stored result differs")
	}
	if !e.Settled("a1") {
		t.Fatal("evaluated artifact not settled")
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	bus := eventbus.New(0, 0)
	defer bus.Close()
	st.WriteArtifact(artifact("a1"))
	e := newEvaluator(t, st, bus)

	first, err := e.Evaluate(context.Background(), "a1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Evaluate(context.Background(), "a1")
	if err != nil {
		t.Fatal(err)
	}
	if !first.EvaluatedAt.Equal(second.EvaluatedAt) {
		t.Fatalf("recomputed: %v vs %v", first.EvaluatedAt, second.EvaluatedAt)
	}
}

func TestEvaluateMissingArtifactFails(t *testing.T) {
	st := store.NewMemoryStore()
	bus := eventbus.New(0, 0)
	defer bus.Close()
	e := newEvaluator(t, st, bus)

	if _, err := e.Evaluate(context.Background(), "nope"); err == nil {
		t.Fatal("expected error")
	}
	if !e.Settled("nope") {
		t.Fatal("failed evaluation should settle")
	}
}

func TestRunTopicEndsAtTerminalEvent(t *testing.T) {
	st := store.NewMemoryStore()
	bus := eventbus.New(0, 0)
	defer bus.Close()
	st.WriteArtifact(artifact("a1"))
	e := newEvaluator(t, st, bus)

	runSub, err := bus.Subscribe(eventbus.RunTopic("run1"), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer runSub.Close()
	globalSub, err := bus.Subscribe(eventbus.TopicGlobal, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer globalSub.Close()

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	terminal := eventbus.Event{
		Kind:    eventbus.KindRunCompleted,
		RunID:   "run1",
		Payload: map[string]any{"artifact_id": "a1"},
	}
	bus.Publish(eventbus.RunTopic("run1"), terminal)
	bus.Publish(eventbus.TopicGlobal, terminal)

	// Evaluation events arrive on the global stream.
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case ev := <-globalSub.Events():
			done = ev.Kind == eventbus.KindEvalCompleted
		case <-timeout:
			t.Fatal("evaluation.completed never arrived on global")
		}
	}

	// The run topic delivers its terminal event and then nothing more.
	select {
	case ev := <-runSub.Events():
		if ev.Kind != eventbus.KindRunCompleted {
			t.Fatalf("run topic delivered %q, want run.completed", ev.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("terminal event never delivered on run topic")
	}
	select {
	case ev := <-runSub.Events():
		t.Fatalf("event %q followed the terminal event on the run topic", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcherEvaluatesCompletedRuns(t *testing.T) {
	st := store.NewMemoryStore()
	bus := eventbus.New(0, 0)
	defer bus.Close()
	st.WriteArtifact(artifact("a1"))
	e := newEvaluator(t, st, bus)

	sub, err := bus.Subscribe(eventbus.TopicGlobal, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	bus.Publish(eventbus.TopicGlobal, eventbus.Event{
		Kind:    eventbus.KindRunCompleted,
		RunID:   "run1",
		Payload: map[string]any{"artifact_id": "a1"},
	})

	var started, completed bool
	timeout := time.After(5 * time.Second)
	for !completed {
		select {
		case ev := <-sub.Events():
			switch ev.Kind {
			case eventbus.KindEvalStarted:
				started = true
			case eventbus.KindEvalCompleted:
				completed = true
			}
		case <-timeout:
			t.Fatal("evaluation events never arrived")
		}
	}
	if !started {
		t.Error("no evaluation.started before evaluation.completed")
	}
	if _, err := st.ReadEvalResult("a1"); err != nil {
		t.Fatalf("result not stored: %v", err)
	}
}
