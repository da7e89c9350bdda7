// Package types defines the data model shared by the benchmark harness
// components: run requests, artifacts, evaluation results and collections.
package types

import (
	"fmt"
	"regexp"
	"time"
)

// RunStatus is the lifecycle state of a run. Once terminal it never
// changes.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// BatchStatus is the lifecycle state of a single batch.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchRetrying  BatchStatus = "retrying"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// Limits on run requests.
const (
	MinQueueSize   = 1
	MaxQueueSize   = 20
	MaxTemperature = 2.0
)

// RunRequest is one benchmark submission. Either BatchSize or BatchSizes
// selects the partitioning; QueueSize runs spawn in parallel.
type RunRequest struct {
	Model       string   `json:"model"`
	Variant     string   `json:"variant"`
	Temperature float64  `json:"temperature"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	BatchSize   int      `json:"batch_size,omitempty"`
	BatchSizes  []int    `json:"batch_sizes,omitempty"`
	QueueSize   int      `json:"queue_size,omitempty"`
	TestIDs     []string `json:"test_ids,omitempty"`
}

// Validate rejects malformed requests before any run is created. suiteLen
// is the size of the (possibly filtered) suite the request will run
// against.
func (r *RunRequest) Validate(suiteLen int) error {
	if r.Model == "" {
		return fmt.Errorf("%w: model is required", ErrConfig)
	}
	if r.Variant == "" {
		return fmt.Errorf("%w: variant is required", ErrConfig)
	}
	if r.Temperature < 0 || r.Temperature > MaxTemperature {
		return fmt.Errorf("%w: temperature %.2f outside [0, %.0f]", ErrConfig, r.Temperature, MaxTemperature)
	}
	if r.QueueSize == 0 {
		r.QueueSize = 1
	}
	if r.QueueSize < MinQueueSize || r.QueueSize > MaxQueueSize {
		return fmt.Errorf("%w: queue size %d outside [%d, %d]", ErrConfig, r.QueueSize, MinQueueSize, MaxQueueSize)
	}
	if len(r.BatchSizes) > 0 {
		total := 0
		for i, n := range r.BatchSizes {
			if n < 1 {
				return fmt.Errorf("%w: batch size %d at index %d < 1", ErrConfig, n, i)
			}
			total += n
		}
		if total != suiteLen {
			return fmt.Errorf("%w: batch sizes sum to %d, suite has %d tests", ErrConfig, total, suiteLen)
		}
		return nil
	}
	if r.BatchSize < 1 {
		return fmt.Errorf("%w: batch size %d < 1", ErrConfig, r.BatchSize)
	}
	return nil
}

// Metadata describes the parameters a run executed with. Artifact and
// EvalResult carry identical copies of the originating run's metadata.
type Metadata struct {
	Model       string    `json:"model"`
	Variant     string    `json:"variant"`
	SuiteName   string    `json:"suite"`
	TotalTests  int       `json:"total_tests"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	BatchSize   int       `json:"batch_size,omitempty"`
	BatchSizes  []int     `json:"batch_sizes,omitempty"`
	NumBatches  int       `json:"num_batches"`
	CreatedAt   time.Time `json:"created_at"`
}

// Artifact is the immutable output of a completed run: the response map
// plus metadata. Ids listed in Missing had no response; their map entry is
// the empty string.
type Artifact struct {
	ID        string            `json:"artifact_id"`
	RunID     string            `json:"run_id"`
	Responses map[string]string `json:"responses"`
	Missing   []string          `json:"missing,omitempty"`
	Metadata  Metadata          `json:"metadata"`
}

var collectionNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidCollectionName reports whether a user-chosen collection name is
// acceptable.
func ValidCollectionName(name string) bool {
	return collectionNameRe.MatchString(name)
}

// Collection is a named ordered reference set of artifacts. Meta is the
// denormalized metadata of the first member at creation time.
type Collection struct {
	Name        string    `json:"name"`
	ArtifactIDs []string  `json:"artifact_ids"`
	CreatedAt   time.Time `json:"created_at"`
	Meta        Metadata  `json:"metadata"`
}
