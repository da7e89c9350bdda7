// Package clock provides the time source and identifier generation used
// across the benchmark harness.
package clock

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Clock defines the monotonic time source used by schedulers so that
// tests can substitute a fake.
type Clock interface {
	Now() time.Time
	Since(time.Time) time.Duration
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time                  { return time.Now() }
func (Real) Since(t time.Time) time.Duration { return time.Since(t) }

// NewRunID generates an opaque 16-byte identifier rendered as 32 hex
// characters.
func NewRunID() string {
	u := uuid.New()
	return strings.ReplaceAll(u.String(), "-", "")
}

// ArtifactID derives the artifact identifier from model, variant and
// creation time: <model-slug>-<variant>-YYYYMMDD_HHMMSS.
func ArtifactID(model, variant string, t time.Time) string {
	return ModelSlug(model) + "-" + variant + "-" + t.Format("20060102_150405")
}

// ModelSlug converts a provider model id (e.g. "openai/gpt-4o") into a
// filesystem safe slug.
func ModelSlug(model string) string {
	var b strings.Builder
	b.Grow(len(model))
	for _, r := range model {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
