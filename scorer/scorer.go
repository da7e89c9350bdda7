// Package scorer computes deterministic evaluation results for run
// artifacts. Scoring is a pure function of (artifact, suite) apart from
// the optional external syntax checker; penalties apply in a fixed order
// (required, forbidden, syntax, jac_check) so repeated evaluations of the
// same artifact produce identical results.
package scorer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/jaseci-llmdocs/jacbench/suite"
	"github.com/jaseci-llmdocs/jacbench/types"
)

// SyntaxChecker validates code with the external jac toolchain. A timeout
// or spawn failure counts as a failed check.
type SyntaxChecker interface {
	Check(ctx context.Context, code string) (ok bool, problems []string)
}

// Default penalty fractions.
const (
	DefaultForbiddenFraction = 0.25
	DefaultSyntaxFraction    = 0.05
	DefaultCompileFraction   = 1.0
)

// Config tunes the penalty fractions.
type Config struct {
	// ForbiddenFraction of points subtracted per forbidden-pattern match.
	ForbiddenFraction float64
	// SyntaxFraction of points subtracted per soft syntax violation.
	SyntaxFraction float64
	// CompileFraction of the remaining score subtracted when the external
	// syntax check fails.
	CompileFraction float64
}

// Scorer evaluates artifacts against a suite.
type Scorer struct {
	conf    Config
	checker SyntaxChecker
}

// New creates a scorer. checker may be nil, in which case the compile
// check is skipped.
func New(conf Config, checker SyntaxChecker) *Scorer {
	if conf.ForbiddenFraction <= 0 {
		conf.ForbiddenFraction = DefaultForbiddenFraction
	}
	if conf.SyntaxFraction <= 0 {
		conf.SyntaxFraction = DefaultSyntaxFraction
	}
	if conf.CompileFraction <= 0 {
		conf.CompileFraction = DefaultCompileFraction
	}
	return &Scorer{conf: conf, checker: checker}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Score evaluates every suite test against the artifact's response map and
// aggregates category and level breakdowns.
func (sc *Scorer) Score(ctx context.Context, a *types.Artifact, s *suite.Suite) *types.EvalResult {
	tests := make([]types.TestScore, 0, s.Len())
	raw := make([]float64, 0, s.Len())
	completed := 0

	for _, tc := range s.Cases {
		ts, score := sc.scoreTest(ctx, a, tc)
		if _, ok := a.Responses[tc.ID]; ok && a.Responses[tc.ID] != "" {
			completed++
		}
		tests = append(tests, ts)
		raw = append(raw, score)
	}

	// Aggregate with full precision, round only in the reported summary.
	var (
		totalScore float64
		totalPen   types.Penalties
		catScore   = map[string]float64{}
		catMax     = map[string]int{}
		catCount   = map[string]int{}
		lvlScore   = map[int]float64{}
		lvlMax     = map[int]int{}
		lvlCount   = map[int]int{}
	)
	for i, tc := range s.Cases {
		score := raw[i]
		totalScore += score
		catScore[tc.Category] += score
		catMax[tc.Category] += tc.Points
		catCount[tc.Category]++
		lvlScore[tc.Level] += score
		lvlMax[tc.Level] += tc.Points
		lvlCount[tc.Level]++

		p := tests[i].Penalties
		totalPen.Required += p.Required
		totalPen.Forbidden += p.Forbidden
		totalPen.Syntax += p.Syntax
		totalPen.JacCheck += p.JacCheck
		totalPen.Missing += p.Missing
	}

	categories := make(map[string]types.Breakdown, len(catScore))
	for cat, score := range catScore {
		categories[cat] = breakdown(score, catMax[cat], catCount[cat])
	}

	levels := make([]types.LevelBreakdown, 0, len(lvlScore))
	for lvl := range lvlScore {
		levels = append(levels, types.LevelBreakdown{
			Level:     lvl,
			Breakdown: breakdown(lvlScore[lvl], lvlMax[lvl], lvlCount[lvl]),
		})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Level < levels[j].Level })

	totalMax := s.TotalPoints()
	pct := 0.0
	if totalMax > 0 {
		pct = totalScore / float64(totalMax) * 100
	}

	return &types.EvalResult{
		ArtifactID: a.ID,
		Tests:      tests,
		Metadata:   a.Metadata,
		Summary: types.Summary{
			TotalScore:     round2(totalScore),
			TotalMax:       totalMax,
			Percentage:     round2(pct),
			TestsCompleted: completed,
			TestsTotal:     s.Len(),
			Categories:     categories,
			Levels:         levels,
			TotalPenalties: roundPenalties(totalPen),
		},
	}
}

func breakdown(score float64, max, count int) types.Breakdown {
	pct := 0.0
	if max > 0 {
		pct = score / float64(max) * 100
	}
	return types.Breakdown{
		Score:      round2(score),
		Max:        max,
		Percentage: round2(pct),
		Count:      count,
	}
}

func roundPenalties(p types.Penalties) types.Penalties {
	return types.Penalties{
		Required:  round2(p.Required),
		Forbidden: round2(p.Forbidden),
		Syntax:    round2(p.Syntax),
		JacCheck:  round2(p.JacCheck),
		Missing:   round2(p.Missing),
	}
}

// scoreTest returns the reported record and the full-precision score used
// for aggregation.
func (sc *Scorer) scoreTest(ctx context.Context, a *types.Artifact, tc suite.TestCase) (types.TestScore, float64) {
	points := float64(tc.Points)
	ts := types.TestScore{
		TestID:        tc.ID,
		Category:      tc.Category,
		Level:         tc.Level,
		MaxScore:      tc.Points,
		RequiredTotal: len(tc.Required),
	}

	code, ok := a.Responses[tc.ID]
	if !ok || code == "" {
		ts.Penalties.Missing = points
		ts.Feedback = append(ts.Feedback, "[FAIL] No response for test")
		return ts, 0
	}

	// Required patterns define the partial credit baseline.
	found := 0
	for _, pat := range tc.Required {
		if strings.Contains(code, pat) {
			found++
			ts.Feedback = append(ts.Feedback, fmt.Sprintf("[PASS] Found required element: %q", pat))
		} else {
			ts.Feedback = append(ts.Feedback, fmt.Sprintf("[FAIL] Missing required element: %q", pat))
		}
	}
	ts.RequiredFound = found
	partial := points
	if len(tc.Required) > 0 {
		partial = float64(found) / float64(len(tc.Required)) * points
	}
	ts.Penalties.Required = points - partial

	// Forbidden patterns: every occurrence subtracts a fixed fraction.
	matches := 0
	for _, pat := range tc.Forbidden {
		n := strings.Count(code, pat)
		if n > 0 {
			matches += n
			ts.Feedback = append(ts.Feedback, fmt.Sprintf("[FAIL] Contains forbidden element: %q (%d)", pat, n))
		} else {
			ts.Feedback = append(ts.Feedback, fmt.Sprintf("[PASS] Correctly avoided: %q", pat))
		}
	}
	forbiddenPen := float64(matches) * sc.conf.ForbiddenFraction * points
	ts.Penalties.Forbidden = forbiddenPen

	// Soft textual syntax rules.
	violations := CheckSyntax(code)
	syntaxPen := float64(len(violations)) * sc.conf.SyntaxFraction * points
	ts.Penalties.Syntax = syntaxPen
	ts.Feedback = append(ts.Feedback, violations...)

	remaining := math.Max(0, partial-forbiddenPen-syntaxPen)

	// Hard compile check applies to the post-subtraction remainder.
	if sc.checker != nil {
		ok, problems := sc.checker.Check(ctx, code)
		if !ok {
			pen := sc.conf.CompileFraction * remaining
			ts.Penalties.JacCheck = pen
			remaining = math.Max(0, remaining-pen)
			ts.Feedback = append(ts.Feedback, fmt.Sprintf("[FAIL] jac check failed: %d errors", len(problems)))
		} else {
			ts.Feedback = append(ts.Feedback, "[PASS] jac check passed")
		}
	}

	ts.Score = round2(remaining)
	if tc.Points > 0 {
		ts.Percentage = round2(remaining / points * 100)
	}
	ts.Penalties = roundPenalties(ts.Penalties)
	return ts, remaining
}
