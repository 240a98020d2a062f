package ports

import "context"

// Build reasons recorded in history.
const (
	ReasonInitial = "initial"
	ReasonChange  = "change"
	ReasonConfig  = "config"
	ReasonManual  = "manual"
)

// BuildRequest describes why a build is being run.
type BuildRequest struct {
	Reason string
	// Reinit asks the builder to discard any cached state before building,
	// e.g. because the site configuration changed.
	Reinit bool
	// Changes is the number of change notifications folded into this build.
	Changes int
}

// Builder runs the site build. Build blocks until the build finished or ctx
// was cancelled.
type Builder interface {
	Build(ctx context.Context, req BuildRequest) error
}
