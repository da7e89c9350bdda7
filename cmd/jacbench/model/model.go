// Package model defines the wire shapes of the REST surface and their
// conversions from internal state. Progress percentages are computed
// here, on read, so internal state never stores derived values.
package model

import (
	"math"

	"github.com/jaseci-llmdocs/jacbench/coordinator"
	"github.com/jaseci-llmdocs/jacbench/queuemgr"
	"github.com/jaseci-llmdocs/jacbench/types"
)

// SubmitRequest is the submit payload.
type SubmitRequest struct {
	Model       string   `json:"model"`
	Variant     string   `json:"variant"`
	Temperature float64  `json:"temperature"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	BatchSize   int      `json:"batch_size,omitempty"`
	BatchSizes  []int    `json:"batch_sizes,omitempty"`
	QueueSize   int      `json:"queue_size,omitempty"`
	TestIDs     []string `json:"test_ids,omitempty"`
}

// ToRunRequest converts the payload to the internal request.
func (r *SubmitRequest) ToRunRequest() types.RunRequest {
	return types.RunRequest{
		Model:       r.Model,
		Variant:     r.Variant,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
		BatchSize:   r.BatchSize,
		BatchSizes:  r.BatchSizes,
		QueueSize:   r.QueueSize,
		TestIDs:     r.TestIDs,
	}
}

// SubmitResponse returns the spawned run ids.
type SubmitResponse struct {
	RunIDs []string `json:"run_ids"`
}

// RunStatus is one run's externally visible state plus derived progress.
type RunStatus struct {
	coordinator.Snapshot
	Progress float64 `json:"progress"`
}

// ConvertRun derives the run's progress from its batch counts.
func ConvertRun(s coordinator.Snapshot) RunStatus {
	progress := 0.0
	if s.TotalBatches > 0 {
		done := s.CompletedBatches + s.FailedBatches
		progress = math.Round(float64(done)/float64(s.TotalBatches)*10000) / 100
	}
	return RunStatus{Snapshot: s, Progress: progress}
}

// GlobalStatus is the cross-run aggregate plus derived progress.
type GlobalStatus struct {
	queuemgr.GlobalSnapshot
	Progress float64     `json:"progress"`
	Runs     []RunStatus `json:"runs"`
}

// ConvertGlobal derives global progress across all runs.
func ConvertGlobal(g queuemgr.GlobalSnapshot) GlobalStatus {
	progress := 0.0
	if g.TotalBatches > 0 {
		done := g.CompletedBatches + g.FailedBatches
		progress = math.Round(float64(done)/float64(g.TotalBatches)*10000) / 100
	}
	out := GlobalStatus{GlobalSnapshot: g, Progress: progress}
	out.GlobalSnapshot.Runs = nil
	for _, r := range g.Runs {
		out.Runs = append(out.Runs, ConvertRun(r))
	}
	return out
}

// CollectionRequest creates or extends a collection.
type CollectionRequest struct {
	Name        string   `json:"name"`
	ArtifactIDs []string `json:"artifact_ids"`
}
