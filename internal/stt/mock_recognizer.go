package stt

import (
	"context"
	"fmt"
)

type mockRecognizer struct{}

func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(_ context.Context, pcm []byte, _, _ int, final bool) (Result, error) {
	kind := "partial"
	if final {
		kind = "final"
	}
	return Result{
		Text: fmt.Sprintf("[%s transcript length=%d]", kind, len(pcm)),
	}, nil
}
