package stt

import "context"

// Result captures recognizer output for one transcription pass.
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts the speech-to-text backend.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int, final bool) (Result, error)
}
