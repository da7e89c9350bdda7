// Package collection aggregates statistics over named artifact
// collections. Membership itself lives in the store; this package
// computes per-collection summary statistics from the members' stored
// evaluation results and pairwise comparisons between collections.
package collection

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/jaseci-llmdocs/jacbench/store"
	"github.com/jaseci-llmdocs/jacbench/types"
)

// Stats summarizes one collection. Percentages are rounded to two
// decimals; the standard deviation uses the population formula and is
// reported as 0 below two evaluated members.
type Stats struct {
	Name          string             `json:"name"`
	Model         string             `json:"model"`
	Variant       string             `json:"variant"`
	ArtifactCount int                `json:"artifact_count"`
	Evaluated     int                `json:"evaluated"`
	MeanPct       float64            `json:"mean_percentage"`
	StddevPct     float64            `json:"stddev_percentage"`
	CategoryMeans map[string]float64 `json:"category_means"`
	Members       []MemberStats      `json:"members"`
}

// MemberStats is one artifact's contribution to the collection.
type MemberStats struct {
	ArtifactID string  `json:"artifact_id"`
	Pct        float64 `json:"percentage"`
	Evaluated  bool    `json:"evaluated"`
}

// Comparison is the pairwise result for two collections: per-category
// deltas are second minus first over the union of categories.
type Comparison struct {
	First          Stats              `json:"first"`
	Second         Stats              `json:"second"`
	MeanDelta      float64            `json:"mean_delta"`
	CategoryDeltas map[string]float64 `json:"category_deltas"`
}

// Aggregator computes collection statistics against one store.
type Aggregator struct {
	store  store.Store
	logger *zap.Logger
}

// New creates an aggregator.
func New(st store.Store, logger *zap.Logger) *Aggregator {
	return &Aggregator{store: st, logger: logger}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Stats loads the named collection and aggregates its members' stored
// evaluation results. Members without a result are counted but excluded
// from the statistics.
func (a *Aggregator) Stats(name string) (*Stats, error) {
	col, err := a.store.ReadCollection(name)
	if err != nil {
		return nil, err
	}

	st := &Stats{
		Name:          col.Name,
		Model:         col.Meta.Model,
		Variant:       col.Meta.Variant,
		ArtifactCount: len(col.ArtifactIDs),
		CategoryMeans: map[string]float64{},
	}

	var pcts []float64
	catSum := map[string]float64{}
	catN := map[string]int{}
	for _, id := range col.ArtifactIDs {
		res, err := a.store.ReadEvalResult(id)
		if err != nil {
			a.logger.Debug("collection member has no eval result",
				zap.String("collection", name), zap.String("artifactId", id))
			st.Members = append(st.Members, MemberStats{ArtifactID: id})
			continue
		}
		st.Evaluated++
		pcts = append(pcts, res.Summary.Percentage)
		st.Members = append(st.Members, MemberStats{
			ArtifactID: id,
			Pct:        res.Summary.Percentage,
			Evaluated:  true,
		})
		for cat, b := range res.Summary.Categories {
			catSum[cat] += b.Percentage
			catN[cat]++
		}
	}

	st.MeanPct = round2(mean(pcts))
	st.StddevPct = round2(populationStddev(pcts))
	for cat := range catSum {
		st.CategoryMeans[cat] = round2(catSum[cat] / float64(catN[cat]))
	}
	return st, nil
}

// Compare returns statistics for both collections plus per-category mean
// deltas (second minus first) over the union of their categories.
func (a *Aggregator) Compare(first, second string) (*Comparison, error) {
	if first == second {
		return nil, fmt.Errorf("%w: comparing %q with itself", types.ErrBadRequest, first)
	}
	s1, err := a.Stats(first)
	if err != nil {
		return nil, err
	}
	s2, err := a.Stats(second)
	if err != nil {
		return nil, err
	}

	cats := map[string]bool{}
	for c := range s1.CategoryMeans {
		cats[c] = true
	}
	for c := range s2.CategoryMeans {
		cats[c] = true
	}
	names := make([]string, 0, len(cats))
	for c := range cats {
		names = append(names, c)
	}
	sort.Strings(names)

	deltas := make(map[string]float64, len(names))
	for _, c := range names {
		deltas[c] = round2(s2.CategoryMeans[c] - s1.CategoryMeans[c])
	}
	return &Comparison{
		First:          *s1,
		Second:         *s2,
		MeanDelta:      round2(s2.MeanPct - s1.MeanPct),
		CategoryDeltas: deltas,
	}, nil
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// populationStddev is sqrt(mean of squared deviations); by convention 0
// below two samples.
func populationStddev(vs []float64) float64 {
	if len(vs) < 2 {
		return 0
	}
	m := mean(vs)
	sum := 0.0
	for _, v := range vs {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vs)))
}
