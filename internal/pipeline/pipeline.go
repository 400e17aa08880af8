// Package pipeline implements the ordered, concurrent sentence
// refinement pipeline: sentences are dispatched to the refiner as they
// arrive, refinements complete in any order, and results are drained
// into the display strictly in dispatch order. A stuck refinement is
// eventually skipped so a single hung call cannot stall the session.
package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kotoba-labs/kotoba-core/internal/config"
	"github.com/kotoba-labs/kotoba-core/internal/refiner"
)

const refineCallTimeout = 60 * time.Second

// Pipeline owns the reorder state for one dictation session. All map
// and cursor mutation happens under mu; the drain itself additionally
// coalesces concurrent triggers through the draining/drainAgain pair so
// completion storms collapse into single passes.
type Pipeline struct {
	cfg       config.PipelineConfig
	refiner   refiner.Refiner
	logger    *slog.Logger
	sessionID string
	clock     func() time.Time
	metrics   *pipelineMetrics

	onUpdate func(text string)
	onSkip   func(seq int64)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	nextSeq    int64
	cursor     int64
	pending    map[int64]time.Time
	completed  map[int64]string
	guard      *recencyGuard
	display    string
	draining   bool
	drainAgain bool
}

func New(parent context.Context, cfg config.PipelineConfig, sessionID string, ref refiner.Refiner, logger *slog.Logger) *Pipeline {
	ctx, cancel := context.WithCancel(parent)
	return &Pipeline{
		cfg:       cfg,
		refiner:   ref,
		logger:    logger.With(slog.String("component", "pipeline"), slog.String("session_id", sessionID)),
		sessionID: sessionID,
		clock:     time.Now,
		metrics:   newPipelineMetrics(),
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[int64]time.Time),
		completed: make(map[int64]string),
		guard: newRecencyGuard(
			time.Duration(cfg.DedupeWindowMS)*time.Millisecond,
			cfg.DedupeMaxEntries,
		),
	}
}

// OnUpdate registers the callback invoked with the full display text
// after every drain that changed it. Must be set before dispatching.
func (p *Pipeline) OnUpdate(fn func(text string)) {
	p.onUpdate = fn
}

// OnSkip registers the callback invoked with each sequence number the
// drain gives up on. Must be set before dispatching.
func (p *Pipeline) OnSkip(fn func(seq int64)) {
	p.onSkip = fn
}

// Close stops accepting work and waits for in-flight refinements.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}

// Dispatch allocates the next sequence number for the sentence and
// launches its refinement without blocking. Duplicate sentence text
// within the recency window is dropped before a number is consumed.
func (p *Pipeline) Dispatch(text string) {
	sentence := strings.TrimSpace(text)
	if sentence == "" {
		return
	}
	p.mu.Lock()
	now := p.clock()
	if !p.guard.Admit(sentence, now) {
		p.mu.Unlock()
		p.metrics.duplicates.Add(p.ctx, 1)
		p.logger.Debug("duplicate sentence dropped", slog.String("text", sentence))
		return
	}
	seq := p.nextSeq
	p.nextSeq++
	p.pending[seq] = now
	prior := tailRunes(p.display, p.cfg.ContextChars)
	p.mu.Unlock()

	p.metrics.dispatched.Add(p.ctx, 1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(p.ctx, refineCallTimeout)
		defer cancel()

		start := time.Now()
		result, err := p.refiner.Refine(ctx, refiner.Request{
			SessionID: p.sessionID,
			Text:      sentence,
			Prior:     prior,
		})
		result = stripNewlines(strings.TrimSpace(result))
		if err != nil || result == "" {
			// Content is never lost: the original sentence stands in
			// for a failed or empty refinement.
			if err != nil {
				p.logger.Warn("refinement failed, using original text",
					slog.Int64("seq", seq), slog.String("error", err.Error()))
			}
			p.metrics.fallbacks.Add(p.ctx, 1)
			result = sentence
		} else {
			p.logger.Debug("sentence refined",
				slog.Int64("seq", seq), slog.Duration("latency", time.Since(start)))
		}
		p.complete(seq, result)
	}()
}

// complete stores a finished refinement and triggers a drain. Results
// for sequences the cursor has already skipped are discarded.
func (p *Pipeline) complete(seq int64, text string) {
	p.mu.Lock()
	if seq < p.cursor {
		p.mu.Unlock()
		p.logger.Debug("late result discarded", slog.Int64("seq", seq))
		return
	}
	p.completed[seq] = text
	p.enforceCompletedCapLocked()
	p.mu.Unlock()

	p.drain()
}

// drain moves completed in-order results into the display. Reentrant
// triggers mark drainAgain and return; the active pass loops until no
// retry is requested.
func (p *Pipeline) drain() {
	for {
		p.mu.Lock()
		if p.draining {
			p.drainAgain = true
			p.mu.Unlock()
			return
		}
		p.draining = true

		now := p.clock()
		drained := 0
		skips := 0
		var skippedSeqs []int64
	sequential:
		for {
			if text, ok := p.completed[p.cursor]; ok {
				delete(p.completed, p.cursor)
				delete(p.pending, p.cursor)
				p.display += text
				p.cursor++
				drained++
				skips = 0
				continue
			}
			if skips >= p.cfg.MaxSkipRetries {
				p.logger.Warn("skip budget exhausted, waiting for next trigger",
					slog.Int64("cursor", p.cursor))
				break
			}
			gap := (p.nextSeq - 1) - p.cursor
			dispatchedAt, hasPending := p.pending[p.cursor]
			switch {
			case hasPending && gap > int64(p.cfg.GapThreshold) &&
				now.Sub(dispatchedAt) > time.Duration(p.cfg.StuckTimeoutMS)*time.Millisecond:
				// Lost to a hung refinement call.
			case !hasPending && gap > int64(2*p.cfg.GapThreshold):
				// No dispatch record at all; dropped upstream.
			default:
				break sequential
			}
			p.logger.Warn("skipping stuck sequence",
				slog.Int64("seq", p.cursor), slog.Int64("gap", gap))
			delete(p.pending, p.cursor)
			skippedSeqs = append(skippedSeqs, p.cursor)
			p.cursor++
			skips++
		}

		p.enforceCompletedCapLocked()
		snapshot := p.display
		changed := drained > 0
		p.draining = false
		again := p.drainAgain
		p.drainAgain = false
		p.mu.Unlock()

		if drained > 0 {
			p.metrics.drained.Add(p.ctx, int64(drained))
		}
		if len(skippedSeqs) > 0 {
			p.metrics.skipped.Add(p.ctx, int64(len(skippedSeqs)))
			if p.onSkip != nil {
				for _, seq := range skippedSeqs {
					p.onSkip(seq)
				}
			}
		}
		if changed && p.onUpdate != nil {
			p.onUpdate(snapshot)
		}
		if !again {
			return
		}
	}
}

// enforceCompletedCapLocked bounds the waiting-results map, keeping the
// highest-numbered entries and dropping timestamps orphaned with them.
func (p *Pipeline) enforceCompletedCapLocked() {
	if len(p.completed) <= p.cfg.CompletedCap {
		return
	}
	seqs := make([]int64, 0, len(p.completed))
	for seq := range p.completed {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, seq := range seqs[:len(seqs)-p.cfg.CompletedCap] {
		delete(p.completed, seq)
		delete(p.pending, seq)
	}
}

// Flush waits a bounded grace period for in-flight refinements, runs
// one whole-text refinement pass over the drained display and returns
// the final text. The pre-flush display text is returned unchanged when
// the final pass fails; a commit never comes back empty because of a
// failed last call.
func (p *Pipeline) Flush(ctx context.Context) string {
	if grace := time.Duration(p.cfg.FlushGraceMS) * time.Millisecond; grace > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(grace):
		}
	}
	p.drain()

	p.mu.Lock()
	text := p.display
	p.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return text
	}

	refined, err := p.refiner.Refine(ctx, refiner.Request{
		SessionID: p.sessionID,
		Text:      text,
		WholeText: true,
	})
	refined = stripNewlines(strings.TrimSpace(refined))
	if err != nil || refined == "" {
		if err != nil {
			p.logger.Warn("whole-text refinement failed, keeping display text",
				slog.String("error", err.Error()))
		}
		return text
	}

	p.mu.Lock()
	p.display = refined
	p.mu.Unlock()
	return refined
}

// Snapshot returns the current display text.
func (p *Pipeline) Snapshot() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.display
}

// SetDisplay replaces the display text, e.g. after a manual user edit.
// Subsequent drains append after the edited text.
func (p *Pipeline) SetDisplay(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.display = text
}

func tailRunes(text string, n int) string {
	if n <= 0 || text == "" {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[len(runes)-n:])
}

func stripNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r", "")
	return strings.ReplaceAll(text, "\n", "")
}
