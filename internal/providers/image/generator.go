// Package image adapts the configured image backend to a single generator
// contract used by the task orchestrator.
package image

import (
	"context"

	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/imagegen"
)

// ReferenceMode tells the orchestrator how a backend wants reference images.
type ReferenceMode int

const (
	// ReferenceInline sends reference bytes inside the request.
	ReferenceInline ReferenceMode = iota
	// ReferenceURL sends publicly reachable reference URLs.
	ReferenceURL
)

// Request is one composite generation.
type Request struct {
	TaskID     string
	Spec       imagegen.PromptSpec
	References []domain.ReferenceAsset
}

// ProgressFunc receives percentages in [0,100]. Backends without progress
// reporting never call it.
type ProgressFunc func(int)

// Generator is the contract implemented by every image backend.
type Generator interface {
	Name() string
	// Ready fails with domain.ErrConfiguration before any network call when
	// the backend cannot run.
	Ready() error
	ReferenceMode() ReferenceMode
	Generate(ctx context.Context, req Request, onProgress ProgressFunc) (domain.GeneratedAsset, error)
}

func report(fn ProgressFunc, pct int) {
	if fn != nil {
		fn(pct)
	}
}
