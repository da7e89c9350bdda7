package suite

import (
	"os"
	"path/filepath"
	"testing"
)

func mustSuite(t *testing.T, n int) *Suite {
	t.Helper()
	cases := make([]TestCase, n)
	for i := range cases {
		cases[i] = TestCase{
			ID:       string(rune('a'+i)) + "1",
			Level:    1 + i%3,
			Category: "Basic Syntax",
			Points:   5,
			Required: []string{"with entry"},
		}
	}
	s, err := New("test", cases)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNewRejectsBadCases(t *testing.T) {
	for _, tc := range []struct {
		name  string
		cases []TestCase
	}{
		{"empty id", []TestCase{{Level: 1, Points: 5}}},
		{"duplicate id", []TestCase{
			{ID: "x", Level: 1, Points: 5},
			{ID: "x", Level: 1, Points: 5},
		}},
		{"zero level", []TestCase{{ID: "x", Level: 0, Points: 5}}},
		{"zero points", []TestCase{{ID: "x", Level: 1, Points: 0}}},
	} {
		if _, err := New("bad", tc.cases); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestPartitionUniform(t *testing.T) {
	s := mustSuite(t, 7)
	for _, tc := range []struct {
		batchSize int
		wantLens  []int
	}{
		{1, []int{1, 1, 1, 1, 1, 1, 1}},
		{3, []int{3, 3, 1}},
		{7, []int{7}},
		{100, []int{7}},
	} {
		batches, err := s.Partition(tc.batchSize)
		if err != nil {
			t.Fatalf("batchSize=%d: %v", tc.batchSize, err)
		}
		if len(batches) != len(tc.wantLens) {
			t.Fatalf("batchSize=%d: got %d batches, want %d", tc.batchSize, len(batches), len(tc.wantLens))
		}
		seen := make(map[string]bool)
		total := 0
		for i, b := range batches {
			if len(b) != tc.wantLens[i] {
				t.Errorf("batchSize=%d batch %d: len %d, want %d", tc.batchSize, i, len(b), tc.wantLens[i])
			}
			for _, id := range b {
				if seen[id] {
					t.Errorf("id %q assigned twice", id)
				}
				seen[id] = true
				total++
			}
		}
		if total != s.Len() {
			t.Errorf("batchSize=%d: %d ids assigned, suite has %d", tc.batchSize, total, s.Len())
		}
	}
}

func TestPartitionSizes(t *testing.T) {
	s := mustSuite(t, 6)
	batches, err := s.PartitionSizes([]int{2, 3, 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 3 || len(batches[0]) != 2 || len(batches[1]) != 3 || len(batches[2]) != 1 {
		t.Fatalf("unexpected batch shape: %v", batches)
	}

	if _, err := s.PartitionSizes([]int{2, 3}); err == nil {
		t.Error("expected error for sizes summing below suite size")
	}
	if _, err := s.PartitionSizes([]int{2, 3, 1, 1}); err == nil {
		t.Error("expected error for sizes summing above suite size")
	}
	if _, err := s.PartitionSizes([]int{6, 0}); err == nil {
		t.Error("expected error for zero size")
	}
}

func TestFilterKeepsSuiteOrder(t *testing.T) {
	s := mustSuite(t, 5)
	ids := s.IDs()
	sub, err := s.Filter([]string{ids[3], ids[0]})
	if err != nil {
		t.Fatal(err)
	}
	if sub.Len() != 2 || sub.Cases[0].ID != ids[0] || sub.Cases[1].ID != ids[3] {
		t.Fatalf("filter did not preserve suite order: %v", sub.IDs())
	}
	if _, err := s.Filter([]string{"nope"}); err == nil {
		t.Error("expected error for unknown id")
	}
}

func TestLoadJSONAndYAML(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "tests.json")
	jsonBody := `[{"id":"basic_01","level":1,"category":"Basic Syntax","task":"print","required_elements":["with entry","print"],"points":5}]`
	if err := os.WriteFile(jsonPath, []byte(jsonBody), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load("full", jsonPath)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 1 || s.Cases[0].ID != "basic_01" || s.TotalPoints() != 5 {
		t.Fatalf("unexpected suite: %+v", s.Cases)
	}

	yamlPath := filepath.Join(dir, "tests.yaml")
	yamlBody := "- id: obj_01\n  level: 2\n  category: Objects\n  task: object\n  required_elements: [\"obj Person\"]\n  points: 10\n"
	if err := os.WriteFile(yamlPath, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err = Load("full", yamlPath)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 1 || s.Cases[0].Points != 10 {
		t.Fatalf("unexpected suite: %+v", s.Cases)
	}
}
