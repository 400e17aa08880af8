package protocol

import "time"

// AudioFrame represents PCM audio data streamed from a capture device.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Transcript represents one recognizer fragment broadcast on the bus.
// Partial fragments are preview-only; final fragments feed segmentation.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// DisplayUpdate carries the in-order display state after a drain, or a
// live preview of an interim fragment.
type DisplayUpdate struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Preview   string    `json:"preview,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FlushCommand asks a session to commit: drain the sentence buffer, run
// the whole-text refinement pass and emit the final text.
type FlushCommand struct {
	SessionID string    `json:"session_id"`
	TraceID   string    `json:"trace_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FinalText is the committed output handed to the paste collaborator.
type FinalText struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	TraceID   string    `json:"trace_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix  = "audio.frame"
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectDisplayUpdate     = "display.update"
	SubjectSessionFlush      = "session.flush"
	SubjectOutputFinal       = "output.text.final"
)
