// Package suite defines the benchmark test suite loaded at startup.
// A suite is an ordered, immutable list of test cases with known total
// points; it is never mutated after loading.
package suite

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// TestCase is a single coding task. Pattern matching against responses is
// case-sensitive and literal.
type TestCase struct {
	ID        string   `json:"id" yaml:"id"`
	Level     int      `json:"level" yaml:"level"`
	Category  string   `json:"category" yaml:"category"`
	Task      string   `json:"task" yaml:"task"`
	Required  []string `json:"required_elements" yaml:"required_elements"`
	Forbidden []string `json:"forbidden_elements,omitempty" yaml:"forbidden_elements"`
	Points    int      `json:"points" yaml:"points"`
	Hints     []string `json:"hints,omitempty" yaml:"hints"`
}

// Suite is an ordered collection of test cases with unique ids.
type Suite struct {
	Name  string
	Cases []TestCase

	byID map[string]int
}

// New builds a suite after validating case ids, levels and points.
func New(name string, cases []TestCase) (*Suite, error) {
	byID := make(map[string]int, len(cases))
	for i, c := range cases {
		if c.ID == "" {
			return nil, fmt.Errorf("suite %s: case %d has empty id", name, i)
		}
		if _, ok := byID[c.ID]; ok {
			return nil, fmt.Errorf("suite %s: duplicate test id %q", name, c.ID)
		}
		if c.Level < 1 {
			return nil, fmt.Errorf("suite %s: test %s has level %d < 1", name, c.ID, c.Level)
		}
		if c.Points < 1 {
			return nil, fmt.Errorf("suite %s: test %s has points %d < 1", name, c.ID, c.Points)
		}
		byID[c.ID] = i
	}
	return &Suite{Name: name, Cases: cases, byID: byID}, nil
}

// Load reads a suite definition file. The file may be YAML or JSON; both
// parse through the same decoder.
func Load(name, path string) (*Suite, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load suite: %w", err)
	}
	var cases []TestCase
	if err := yaml.Unmarshal(b, &cases); err != nil {
		return nil, fmt.Errorf("parse suite %s: %w", path, err)
	}
	return New(name, cases)
}

// Len returns the number of test cases.
func (s *Suite) Len() int { return len(s.Cases) }

// ByID returns the test case with the given id.
func (s *Suite) ByID(id string) (TestCase, bool) {
	i, ok := s.byID[id]
	if !ok {
		return TestCase{}, false
	}
	return s.Cases[i], true
}

// IDs returns the case ids in suite order.
func (s *Suite) IDs() []string {
	ids := make([]string, len(s.Cases))
	for i, c := range s.Cases {
		ids[i] = c.ID
	}
	return ids
}

// TotalPoints returns the sum of points over all cases.
func (s *Suite) TotalPoints() int {
	total := 0
	for _, c := range s.Cases {
		total += c.Points
	}
	return total
}

// Filter returns a sub-suite containing the named cases in suite order.
// Unknown ids are an error.
func (s *Suite) Filter(ids []string) (*Suite, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := s.byID[id]; !ok {
			return nil, fmt.Errorf("filter: unknown test id %q", id)
		}
		want[id] = true
	}
	cases := make([]TestCase, 0, len(want))
	for _, c := range s.Cases {
		if want[c.ID] {
			cases = append(cases, c)
		}
	}
	return New(s.Name, cases)
}

// Partition cuts the suite into batches of batchSize cases in suite order,
// with at most one smaller remainder batch. batchSize >= len(cases) yields
// a single batch.
func (s *Suite) Partition(batchSize int) ([][]string, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("partition: batch size %d < 1", batchSize)
	}
	ids := s.IDs()
	var out [][]string
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		out = append(out, ids[start:end])
	}
	return out, nil
}

// PartitionSizes cuts the suite using an explicit size list. The sizes
// must each be >= 1 and sum to the suite size.
func (s *Suite) PartitionSizes(sizes []int) ([][]string, error) {
	total := 0
	for i, n := range sizes {
		if n < 1 {
			return nil, fmt.Errorf("partition: size %d at index %d < 1", n, i)
		}
		total += n
	}
	if total != s.Len() {
		return nil, fmt.Errorf("partition: sizes sum to %d, suite has %d tests", total, s.Len())
	}
	ids := s.IDs()
	out := make([][]string, 0, len(sizes))
	start := 0
	for _, n := range sizes {
		out = append(out, ids[start:start+n])
		start += n
	}
	return out, nil
}
