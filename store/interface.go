// Package store persists run artifacts, evaluation results and
// collections. Artifacts are written once on run completion and immutable
// afterwards; readers never observe partial writes.
package store

import (
	"errors"

	"github.com/jaseci-llmdocs/jacbench/types"
)

var (
	// ErrNotFound is returned when an artifact, eval result or collection
	// does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when creating a collection whose name is taken.
	ErrExists = errors.New("already exists")
	// ErrReferenced refuses artifact deletion while a collection still
	// references the artifact.
	ErrReferenced = errors.New("artifact referenced by collection")
)

// Store defines the persistence backend for the harness.
type Store interface {
	WriteArtifact(a *types.Artifact) error
	ReadArtifact(id string) (*types.Artifact, error)
	ListArtifacts() ([]string, error)
	// DeleteArtifact removes an artifact and its eval result. It fails
	// with ErrReferenced while any collection holds the id.
	DeleteArtifact(id string) error

	WriteEvalResult(r *types.EvalResult) error
	ReadEvalResult(artifactID string) (*types.EvalResult, error)

	CreateCollection(name string, artifactIDs []string) (*types.Collection, error)
	AddToCollection(name string, artifactIDs []string) error
	RemoveFromCollection(name string, artifactIDs []string) error
	DeleteCollection(name string) error
	ReadCollection(name string) (*types.Collection, error)
	ListCollections() ([]types.Collection, error)
}
