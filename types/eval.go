package types

import "time"

// Penalty kinds recorded per test. Applied in this fixed order so that
// scores are reproducible across runs.
const (
	PenaltyRequired  = "required"
	PenaltyForbidden = "forbidden"
	PenaltySyntax    = "syntax"
	PenaltyJacCheck  = "jac_check"
	PenaltyMissing   = "missing"
)

// Penalties records the points subtracted per kind for one test.
type Penalties struct {
	Required  float64 `json:"required,omitempty"`
	Forbidden float64 `json:"forbidden,omitempty"`
	Syntax    float64 `json:"syntax,omitempty"`
	JacCheck  float64 `json:"jac_check,omitempty"`
	Missing   float64 `json:"missing,omitempty"`
}

// TestScore is the scored outcome of a single test case.
type TestScore struct {
	TestID        string    `json:"test_id"`
	Category      string    `json:"category"`
	Level         int       `json:"level"`
	Score         float64   `json:"score"`
	MaxScore      int       `json:"max_score"`
	Percentage    float64   `json:"percentage"`
	RequiredFound int       `json:"required_found"`
	RequiredTotal int       `json:"required_total"`
	Penalties     Penalties `json:"penalties"`
	Feedback      []string  `json:"feedback,omitempty"`
}

// Breakdown aggregates scores over one grouping key (a category or a
// difficulty level).
type Breakdown struct {
	Score      float64 `json:"score"`
	Max        int     `json:"max"`
	Percentage float64 `json:"percentage"`
	Count      int     `json:"count"`
}

// LevelBreakdown pairs a difficulty level with its aggregate; summaries
// list levels in ascending numeric order.
type LevelBreakdown struct {
	Level int `json:"level"`
	Breakdown
}

// Summary is the run-level aggregate of an evaluation.
type Summary struct {
	TotalScore     float64              `json:"total_score"`
	TotalMax       int                  `json:"total_max"`
	Percentage     float64              `json:"overall_percentage"`
	TestsCompleted int                  `json:"tests_completed"`
	TestsTotal     int                  `json:"tests_total"`
	Categories     map[string]Breakdown `json:"category_breakdown"`
	Levels         []LevelBreakdown     `json:"level_breakdown"`
	TotalPenalties Penalties            `json:"total_penalties"`
}

// EvalResult is the immutable evaluation of one artifact.
type EvalResult struct {
	ArtifactID  string      `json:"artifact_id"`
	Tests       []TestScore `json:"tests"`
	Summary     Summary     `json:"summary"`
	Metadata    Metadata    `json:"metadata"`
	EvaluatedAt time.Time   `json:"evaluated_at"`
}
