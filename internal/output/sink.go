// Package output delivers committed text to the paste collaborator.
package output

import (
	"context"
	"log/slog"

	"github.com/kotoba-labs/kotoba-core/internal/config"
)

// Sink places final text into the user's active context, e.g. by
// handing it to a clipboard or typing tool.
type Sink interface {
	Deliver(ctx context.Context, sessionID, text string) error
}

// FromConfig selects a sink by configured mode.
func FromConfig(cfg config.OutputConfig, logger *slog.Logger) (Sink, error) {
	switch cfg.Mode {
	case "exec":
		return NewExecSink(cfg.Command)
	default:
		return NewMockSink(logger), nil
	}
}
