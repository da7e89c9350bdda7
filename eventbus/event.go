package eventbus

import "time"

// Kind enumerates the event kinds published by the harness.
type Kind string

const (
	KindRunStarted   Kind = "run.started"
	KindRunProgress  Kind = "run.progress"
	KindRunCompleted Kind = "run.completed"
	KindRunFailed    Kind = "run.failed"
	KindRunCancelled Kind = "run.cancelled"

	KindBatchStarted   Kind = "batch.started"
	KindBatchProgress  Kind = "batch.progress"
	KindBatchRetry     Kind = "batch.retry"
	KindBatchCompleted Kind = "batch.completed"
	KindBatchFailed    Kind = "batch.failed"

	KindEvalStarted   Kind = "evaluation.started"
	KindEvalCompleted Kind = "evaluation.completed"
	KindEvalFailed    Kind = "evaluation.failed"

	// KindLag marks a gap where a slow subscriber had events dropped.
	KindLag Kind = "lag"
)

// Terminal reports whether the kind ends a run topic. Terminal events are
// never dropped from subscriber queues.
func (k Kind) Terminal() bool {
	switch k {
	case KindRunCompleted, KindRunFailed, KindRunCancelled:
		return true
	}
	return false
}

// Event is a single progress notification. Seq is assigned by the bus and
// is monotonic per topic.
type Event struct {
	Kind    Kind           `json:"kind"`
	RunID   string         `json:"run_id,omitempty"`
	Batch   int            `json:"batch,omitempty"`
	Attempt int            `json:"attempt,omitempty"`
	Seq     uint64         `json:"seq"`
	Time    time.Time      `json:"time"`
	Error   string         `json:"error,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Topic names.
const TopicGlobal = "global"

// RunTopic returns the per-run topic name.
func RunTopic(runID string) string { return "run/" + runID }

// RerunTopic returns the manual batch rerun topic for a run.
func RerunTopic(runID string) string { return "batch_rerun/" + runID }
