package analyzer

import (
	"context"

	"github.com/emlsentry/emlsentry/internal/eml"
)

// Job carries the facets a provider may consume: the raw message bytes and
// the parsed artifact. It is shared read-only by all provider goroutines.
type Job struct {
	Raw []byte
	Eml *eml.Eml
}

// Provider is a single analysis capability. Analyze must be safe to call
// concurrently with other providers working on the same Job.
type Provider interface {
	// Name returns the verdict name the provider reports under.
	Name() string
	// Analyze inspects the job and returns one verdict, or an error that
	// excludes this provider from the composite result.
	Analyze(ctx context.Context, job *Job) (Verdict, error)
}
