package output

import (
	"context"
	"log/slog"
)

type mockSink struct {
	logger *slog.Logger
}

func NewMockSink(logger *slog.Logger) Sink {
	return &mockSink{logger: logger.With(slog.String("component", "output-mock"))}
}

func (m *mockSink) Deliver(_ context.Context, sessionID, text string) error {
	m.logger.Info("final text delivered",
		slog.String("session_id", sessionID), slog.Int("chars", len([]rune(text))))
	return nil
}
