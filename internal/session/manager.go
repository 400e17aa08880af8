// Package session orchestrates one pipeline per dictation session:
// final transcript fragments flow through the segmenter into the
// refinement pipeline, interim fragments become live previews, and a
// flush command commits the session's text to the output sink.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kotoba-labs/kotoba-core/internal/bus"
	"github.com/kotoba-labs/kotoba-core/internal/config"
	"github.com/kotoba-labs/kotoba-core/internal/eventstore"
	"github.com/kotoba-labs/kotoba-core/internal/output"
	"github.com/kotoba-labs/kotoba-core/internal/pipeline"
	"github.com/kotoba-labs/kotoba-core/internal/protocol"
	"github.com/kotoba-labs/kotoba-core/internal/refiner"
	"github.com/kotoba-labs/kotoba-core/internal/segmenter"
	"github.com/nats-io/nats.go"
)

const flushTimeout = 90 * time.Second

type Manager struct {
	cfg     config.PipelineConfig
	bus     *bus.Client
	refiner refiner.Refiner
	sink    output.Sink
	store   *eventstore.Store
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*state

	ctx        context.Context
	cancel     context.CancelFunc
	subFinal   *nats.Subscription
	subPartial *nats.Subscription
	subFlush   *nats.Subscription
	wg         sync.WaitGroup
}

type state struct {
	splitter *segmenter.Splitter
	pipe     *pipeline.Pipeline
}

func NewManager(parent context.Context, cfg config.PipelineConfig, busClient *bus.Client, ref refiner.Refiner, sink output.Sink, store *eventstore.Store, logger *slog.Logger) *Manager {
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		cfg:      cfg,
		bus:      busClient,
		refiner:  ref,
		sink:     sink,
		store:    store,
		logger:   logger.With(slog.String("component", "session-manager")),
		sessions: make(map[string]*state),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (m *Manager) Start() error {
	sub, err := m.bus.Conn().Subscribe(protocol.SubjectTranscriptFinal, m.handleFinal)
	if err != nil {
		return fmt.Errorf("subscribe final transcripts: %w", err)
	}
	m.subFinal = sub

	subPartial, err := m.bus.Conn().Subscribe(protocol.SubjectTranscriptPartial, m.handlePartial)
	if err != nil {
		m.subFinal.Drain()
		return fmt.Errorf("subscribe partial transcripts: %w", err)
	}
	m.subPartial = subPartial

	subFlush, err := m.bus.Conn().Subscribe(protocol.SubjectSessionFlush, m.handleFlush)
	if err != nil {
		m.subFinal.Drain()
		m.subPartial.Drain()
		return fmt.Errorf("subscribe flush commands: %w", err)
	}
	m.subFlush = subFlush
	return nil
}

func (m *Manager) Close() {
	m.cancel()
	for _, sub := range []*nats.Subscription{m.subFinal, m.subPartial, m.subFlush} {
		if sub != nil {
			_ = sub.Drain()
		}
	}
	m.wg.Wait()

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*state)
	m.mu.Unlock()
	for _, st := range sessions {
		st.pipe.Close()
	}
}

func (m *Manager) Healthy() bool {
	return m.subFinal != nil && m.subPartial != nil && m.subFlush != nil
}

// session returns the state for the ID, creating it on first use.
func (m *Manager) session(sessionID string) *state {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.sessions[sessionID]
	if st != nil {
		return st
	}

	pipe := pipeline.New(m.ctx, m.cfg, sessionID, m.refiner, m.logger)
	pipe.OnUpdate(func(text string) {
		m.publishDisplay(sessionID, text, "")
	})
	pipe.OnSkip(func(seq int64) {
		m.recordEvent(sessionID, "", eventstore.TypeSkip, fmt.Sprintf("seq=%d", seq))
	})
	st = &state{
		splitter: segmenter.New(),
		pipe:     pipe,
	}
	m.sessions[sessionID] = st

	if err := m.store.AppendSession(m.ctx, sessionID); err != nil {
		m.logger.Warn("failed to record session", slogError(err))
	}
	return st
}

func (m *Manager) handleFinal(msg *nats.Msg) {
	var transcript protocol.Transcript
	if err := json.Unmarshal(msg.Data, &transcript); err != nil {
		m.logger.Warn("failed to decode transcript", slogError(err))
		return
	}
	if transcript.Text == "" || transcript.SessionID == "" {
		return
	}

	st := m.session(transcript.SessionID)

	m.recordEvent(transcript.SessionID, "", eventstore.TypeTranscriptFinal, transcript.Text)

	for _, sentence := range st.splitter.Ingest(transcript.Text) {
		m.recordEvent(transcript.SessionID, "", eventstore.TypeSentence, sentence)
		st.pipe.Dispatch(sentence)
	}
}

// handlePartial forwards interim fragments as live previews. They never
// enter the segmenter; ordering guarantees apply to final text only.
func (m *Manager) handlePartial(msg *nats.Msg) {
	var transcript protocol.Transcript
	if err := json.Unmarshal(msg.Data, &transcript); err != nil {
		m.logger.Warn("failed to decode partial transcript", slogError(err))
		return
	}
	if transcript.Text == "" || transcript.SessionID == "" {
		return
	}

	m.mu.Lock()
	st := m.sessions[transcript.SessionID]
	m.mu.Unlock()
	displayed := ""
	if st != nil {
		displayed = st.pipe.Snapshot()
	}
	m.publishDisplay(transcript.SessionID, displayed, transcript.Text)
}

func (m *Manager) handleFlush(msg *nats.Msg) {
	var cmd protocol.FlushCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		m.logger.Warn("failed to decode flush command", slogError(err))
		return
	}
	if cmd.SessionID == "" {
		return
	}
	if cmd.TraceID == "" {
		cmd.TraceID = uuid.NewString()
	}

	m.mu.Lock()
	st := m.sessions[cmd.SessionID]
	delete(m.sessions, cmd.SessionID)
	m.mu.Unlock()
	if st == nil {
		m.logger.Warn("flush for unknown session", slog.String("session_id", cmd.SessionID))
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(m.ctx, flushTimeout)
		defer cancel()

		if remainder := st.splitter.Flush(); remainder != "" {
			st.pipe.Dispatch(remainder)
		}
		final := st.pipe.Flush(ctx)
		st.pipe.Close()

		m.publishFinal(cmd.SessionID, final, cmd.TraceID)
		m.recordEvent(cmd.SessionID, cmd.TraceID, eventstore.TypeFlush, final)

		if err := m.sink.Deliver(ctx, cmd.SessionID, final); err != nil {
			m.logger.Warn("output delivery failed", slogError(err))
		}
		m.logger.Info("session flushed",
			slog.String("session_id", cmd.SessionID),
			slog.Int("chars", len([]rune(final))))
	}()
}

func (m *Manager) publishDisplay(sessionID, text, preview string) {
	msg := protocol.DisplayUpdate{
		SessionID: sessionID,
		Text:      text,
		Preview:   preview,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Warn("failed to marshal display update", slogError(err))
		return
	}
	if err := m.bus.Conn().Publish(protocol.SubjectDisplayUpdate, data); err != nil {
		m.logger.Warn("failed to publish display update", slogError(err))
	}
}

func (m *Manager) publishFinal(sessionID, text, traceID string) {
	msg := protocol.FinalText{
		SessionID: sessionID,
		Text:      text,
		TraceID:   traceID,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Warn("failed to marshal final text", slogError(err))
		return
	}
	if err := m.bus.Conn().Publish(protocol.SubjectOutputFinal, data); err != nil {
		m.logger.Warn("failed to publish final text", slogError(err))
	}
}

func (m *Manager) recordEvent(sessionID, traceID, eventType, payload string) {
	evt := eventstore.Event{
		SessionID: sessionID,
		TraceID:   traceID,
		Type:      eventType,
		Payload:   []byte(payload),
	}
	if err := m.store.AppendEvent(m.ctx, evt); err != nil {
		m.logger.Warn("failed to record event", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
