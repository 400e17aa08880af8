package output

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/kotoba-labs/kotoba-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFromConfigDefaultsToMock(t *testing.T) {
	sink, err := FromConfig(config.OutputConfig{Mode: "mock"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sink.Deliver(context.Background(), "s1", "最終テキスト。"); err != nil {
		t.Fatalf("mock delivery should not fail: %v", err)
	}
}

func TestExecSinkRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecSink(""); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExecSinkRunsCommand(t *testing.T) {
	sink, err := NewExecSink("cat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sink.Deliver(context.Background(), "s1", "hello"); err != nil {
		t.Fatalf("expected cat to accept stdin: %v", err)
	}
}
