package store

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jaseci-llmdocs/jacbench/types"
)

func testArtifact(id string) *types.Artifact {
	return &types.Artifact{
		ID:    id,
		RunID: "run-" + id,
		Responses: map[string]string{
			"basic_01": "with entry { print(\"hi\"); }",
			"basic_02": "",
		},
		Missing: []string{"basic_02"},
		Metadata: types.Metadata{
			Model:      "openai/gpt-4o",
			Variant:    "condensed",
			SuiteName:  "full",
			TotalTests: 2,
			NumBatches: 1,
			CreatedAt:  time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC),
		},
	}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	local, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return map[string]Store{"local": local, "memory": NewMemoryStore()}
}

func TestArtifactRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			a := testArtifact("m-v-20250314_150926")
			if err := s.WriteArtifact(a); err != nil {
				t.Fatal(err)
			}
			got, err := s.ReadArtifact(a.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.RunID != a.RunID || got.Responses["basic_01"] != a.Responses["basic_01"] {
				t.Errorf("artifact mismatch: %+v", got)
			}
			if !reflect.DeepEqual(got.Metadata, a.Metadata) {
				t.Errorf("metadata not preserved: %+v vs %+v", got.Metadata, a.Metadata)
			}
			ids, err := s.ListArtifacts()
			if err != nil {
				t.Fatal(err)
			}
			if len(ids) != 1 || ids[0] != a.ID {
				t.Errorf("list = %v", ids)
			}
		})
	}
}

func TestReadMissingArtifact(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.ReadArtifact("nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestEvalResultRequiresArtifact(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			r := &types.EvalResult{ArtifactID: "missing"}
			if err := s.WriteEvalResult(r); !errors.Is(err, ErrNotFound) {
				t.Errorf("err = %v, want ErrNotFound", err)
			}

			a := testArtifact("m-v-20250314_000000")
			if err := s.WriteArtifact(a); err != nil {
				t.Fatal(err)
			}
			r = &types.EvalResult{
				ArtifactID: a.ID,
				Metadata:   a.Metadata,
				Summary:    types.Summary{TotalScore: 5, TotalMax: 10, Percentage: 50},
			}
			if err := s.WriteEvalResult(r); err != nil {
				t.Fatal(err)
			}
			got, err := s.ReadEvalResult(a.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.Summary.Percentage != 50 || !reflect.DeepEqual(got.Metadata, a.Metadata) {
				t.Errorf("eval mismatch: %+v", got)
			}
		})
	}
}

func TestCollectionLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			a1 := testArtifact("m-v-20250314_010101")
			a2 := testArtifact("m-v-20250314_020202")
			for _, a := range []*types.Artifact{a1, a2} {
				if err := s.WriteArtifact(a); err != nil {
					t.Fatal(err)
				}
			}

			c, err := s.CreateCollection("baseline", []string{a1.ID})
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(c.Meta, a1.Metadata) {
				t.Error("collection metadata not denormalized from first member")
			}
			if _, err := s.CreateCollection("baseline", []string{a1.ID}); !errors.Is(err, ErrExists) {
				t.Errorf("duplicate create err = %v", err)
			}
			if _, err := s.CreateCollection("bad name!", []string{a1.ID}); !errors.Is(err, types.ErrConfig) {
				t.Errorf("bad name err = %v", err)
			}

			if err := s.AddToCollection("baseline", []string{a2.ID}); err != nil {
				t.Fatal(err)
			}
			got, err := s.ReadCollection("baseline")
			if err != nil {
				t.Fatal(err)
			}
			if len(got.ArtifactIDs) != 2 {
				t.Fatalf("members = %v", got.ArtifactIDs)
			}

			// Referenced artifacts cannot be deleted.
			if err := s.DeleteArtifact(a1.ID); !errors.Is(err, ErrReferenced) {
				t.Errorf("delete referenced err = %v", err)
			}
			if err := s.RemoveFromCollection("baseline", []string{a1.ID}); err != nil {
				t.Fatal(err)
			}
			if err := s.DeleteArtifact(a1.ID); err != nil {
				t.Errorf("delete after removal: %v", err)
			}

			cols, err := s.ListCollections()
			if err != nil {
				t.Fatal(err)
			}
			if len(cols) != 1 || cols[0].Name != "baseline" {
				t.Errorf("collections = %+v", cols)
			}
			if err := s.DeleteCollection("baseline"); err != nil {
				t.Fatal(err)
			}
			if _, err := s.ReadCollection("baseline"); !errors.Is(err, ErrNotFound) {
				t.Errorf("read deleted err = %v", err)
			}
		})
	}
}
