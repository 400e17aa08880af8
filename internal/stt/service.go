package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kotoba-labs/kotoba-core/internal/bus"
	"github.com/kotoba-labs/kotoba-core/internal/config"
	"github.com/kotoba-labs/kotoba-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service bridges raw audio frames on the bus to transcript fragments.
// It buffers PCM per capture session, runs the recognizer on a throttle
// for interim previews and once more when the utterance ends, and
// publishes the resulting fragments for the session manager.
type Service struct {
	cfg        config.STTConfig
	bus        *bus.Client
	recognizer Recognizer
	logger     *slog.Logger

	mu       sync.Mutex
	captures map[string]*captureState

	ctx    context.Context
	cancel context.CancelFunc
	sub    *nats.Subscription
	wg     sync.WaitGroup
	ready  bool
}

type captureState struct {
	pcm          []byte
	lastPartial  time.Time
	inflight     bool
	pendingFinal bool
}

func NewService(parent context.Context, cfg config.STTConfig, busClient *bus.Client, recognizer Recognizer, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:        cfg,
		bus:        busClient,
		recognizer: recognizer,
		logger:     logger.With(slog.String("component", "stt-service")),
		captures:   make(map[string]*captureState),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := s.bus.Conn().Subscribe(subject, s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.logger.Warn("failed to decode audio frame", slogError(err))
		return
	}

	s.mu.Lock()
	state := s.captures[frame.SessionID]
	if state == nil {
		state = &captureState{}
		s.captures[frame.SessionID] = state
	}
	state.pcm = append(state.pcm, frame.PCM...)
	s.mu.Unlock()

	if frame.Final {
		s.transcribe(frame.SessionID, true)
		return
	}
	if s.cfg.PublishInterim && s.partialDue(frame.SessionID) {
		s.transcribe(frame.SessionID, false)
	}
}

// partialDue rate-limits interim passes so the recognizer is not run on
// every frame.
func (s *Service) partialDue(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.captures[sessionID]
	if state == nil || state.inflight {
		return false
	}
	interval := time.Duration(s.cfg.PartialEveryMS) * time.Millisecond
	if interval <= 0 {
		return false
	}
	if state.lastPartial.IsZero() || time.Since(state.lastPartial) >= interval {
		state.lastPartial = time.Now()
		return true
	}
	return false
}

func (s *Service) transcribe(sessionID string, final bool) {
	s.mu.Lock()
	state := s.captures[sessionID]
	if state == nil {
		s.mu.Unlock()
		return
	}
	if state.inflight {
		// A final frame arriving mid-pass is remembered and replayed
		// once the running pass finishes.
		if final {
			state.pendingFinal = true
		}
		s.mu.Unlock()
		return
	}
	pcm := append([]byte(nil), state.pcm...)
	state.inflight = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 45*time.Second)
		defer cancel()

		result, err := s.recognizer.Transcribe(ctx, pcm, s.cfg.SampleRate, s.cfg.Channels, final)
		if err != nil {
			s.logger.Warn("transcription failed", slogError(err))
		} else {
			s.publishTranscript(sessionID, result, final)
		}

		s.mu.Lock()
		var replayFinal bool
		if state := s.captures[sessionID]; state != nil {
			state.inflight = false
			replayFinal = state.pendingFinal
			if final {
				delete(s.captures, sessionID)
			} else {
				state.lastPartial = time.Now()
			}
		}
		s.mu.Unlock()

		if replayFinal && !final {
			s.transcribe(sessionID, true)
		}
	}()
}

func (s *Service) publishTranscript(sessionID string, result Result, final bool) {
	if result.Text == "" {
		return
	}
	subject := protocol.SubjectTranscriptPartial
	if final {
		subject = protocol.SubjectTranscriptFinal
	}
	msg := protocol.Transcript{
		SessionID:  sessionID,
		Text:       result.Text,
		Partial:    !final,
		Timestamp:  time.Now().UTC(),
		Confidence: result.Confidence,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal transcript", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish transcript", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
