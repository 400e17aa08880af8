package refiner

import "context"

// Request describes one refinement call. Prior holds the most recently
// displayed text so the model keeps style and grammar continuous across
// sentence boundaries. WholeText marks the final cleanup pass over the
// full transcript at commit time.
type Request struct {
	SessionID string
	Text      string
	Prior     string
	WholeText bool
	TraceID   string
}

// Refiner is the contract for the text refinement backend.
type Refiner interface {
	Refine(ctx context.Context, req Request) (string, error)
}
