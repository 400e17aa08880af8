package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kotoba-labs/kotoba-core/internal/config"
	"github.com/kotoba-labs/kotoba-core/internal/refiner"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.PipelineConfig {
	cfg := config.Default().Pipeline
	cfg.FlushGraceMS = 0
	return cfg
}

type fakeRefiner struct {
	mu    sync.Mutex
	calls []refiner.Request
	fn    func(req refiner.Request) (string, error)
}

func (f *fakeRefiner) Refine(ctx context.Context, req refiner.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeRefiner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestPipeline(t *testing.T, cfg config.PipelineConfig, fake *fakeRefiner) *Pipeline {
	t.Helper()
	p := New(context.Background(), cfg, "session-test", fake, newLogger())
	t.Cleanup(p.Close)
	return p
}

func waitForSnapshot(t *testing.T, p *Pipeline, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Snapshot() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("snapshot never reached %q, got %q", want, p.Snapshot())
}

func TestDrainKeepsDispatchOrder(t *testing.T) {
	release := make(chan struct{})
	fake := &fakeRefiner{fn: func(req refiner.Request) (string, error) {
		if req.Text == "一文目。" {
			<-release
		}
		return req.Text + "✦", nil
	}}
	p := newTestPipeline(t, testConfig(), fake)

	p.Dispatch("一文目。")
	p.Dispatch("二文目。")

	// The second sentence finishes first but must not display early.
	time.Sleep(50 * time.Millisecond)
	if got := p.Snapshot(); got != "" {
		t.Fatalf("expected empty display while sequence 0 pending, got %q", got)
	}

	close(release)
	waitForSnapshot(t, p, "一文目。✦二文目。✦")
}

func TestDuplicateSentenceDroppedBeforeDispatch(t *testing.T) {
	fake := &fakeRefiner{fn: func(req refiner.Request) (string, error) {
		return req.Text, nil
	}}
	p := newTestPipeline(t, testConfig(), fake)

	p.Dispatch("テストです。")
	p.Dispatch("テストです。")

	waitForSnapshot(t, p, "テストです。")
	if got := fake.callCount(); got != 1 {
		t.Fatalf("expected 1 refinement call, got %d", got)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nextSeq != 1 {
		t.Fatalf("expected one sequence number consumed, got %d", p.nextSeq)
	}
}

func TestRefinementFailureFallsBackToOriginal(t *testing.T) {
	fake := &fakeRefiner{fn: func(req refiner.Request) (string, error) {
		return "", errors.New("upstream unavailable")
	}}
	p := newTestPipeline(t, testConfig(), fake)

	p.Dispatch("そのままの文。")
	waitForSnapshot(t, p, "そのままの文。")
}

func TestEmptyRefinementFallsBackToOriginal(t *testing.T) {
	fake := &fakeRefiner{fn: func(req refiner.Request) (string, error) {
		return "  \n ", nil
	}}
	p := newTestPipeline(t, testConfig(), fake)

	p.Dispatch("空応答の文。")
	waitForSnapshot(t, p, "空応答の文。")
}

func TestPriorContextCarriedAcrossSentences(t *testing.T) {
	fake := &fakeRefiner{fn: func(req refiner.Request) (string, error) {
		return req.Text, nil
	}}
	p := newTestPipeline(t, testConfig(), fake)

	p.Dispatch("前の文。")
	waitForSnapshot(t, p, "前の文。")
	p.Dispatch("次の文。")
	waitForSnapshot(t, p, "前の文。次の文。")

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.calls[1].Prior != "前の文。" {
		t.Fatalf("expected prior context from display, got %q", fake.calls[1].Prior)
	}
}

func TestStuckSequenceSkippedAfterTimeout(t *testing.T) {
	gate := make(chan struct{})
	fake := &fakeRefiner{fn: func(req refiner.Request) (string, error) {
		if req.Text == "s0。" {
			<-gate
		}
		return req.Text + "✦", nil
	}}
	p := newTestPipeline(t, testConfig(), fake)

	skips := make(chan int64, 8)
	p.OnSkip(func(seq int64) { skips <- seq })

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p.mu.Lock()
	p.clock = func() time.Time { return base }
	p.mu.Unlock()

	p.Dispatch("s0。")

	p.mu.Lock()
	p.clock = func() time.Time { return base.Add(31 * time.Second) }
	p.mu.Unlock()

	var want strings.Builder
	for i := 1; i <= 6; i++ {
		sentence := fmt.Sprintf("s%d。", i)
		p.Dispatch(sentence)
		want.WriteString(sentence + "✦")
	}

	waitForSnapshot(t, p, want.String())

	select {
	case seq := <-skips:
		if seq != 0 {
			t.Fatalf("expected sequence 0 skipped, got %d", seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a skip notification")
	}

	// The skipped sequence's late result is discarded, not appended.
	close(gate)
	time.Sleep(100 * time.Millisecond)
	if got := p.Snapshot(); got != want.String() {
		t.Fatalf("late result should be discarded, got %q", got)
	}
}

func TestSkipBoundedPerDrain(t *testing.T) {
	cfg := testConfig()
	cfg.GapThreshold = 1
	cfg.MaxSkipRetries = 2
	fake := &fakeRefiner{fn: func(req refiner.Request) (string, error) {
		return req.Text, nil
	}}
	p := newTestPipeline(t, cfg, fake)

	stale := time.Now().Add(-time.Hour)
	p.mu.Lock()
	p.nextSeq = 10
	for i := int64(0); i < 10; i++ {
		p.pending[i] = stale
	}
	p.mu.Unlock()

	p.drain()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cursor != 2 {
		t.Fatalf("expected cursor advanced by the skip budget, got %d", p.cursor)
	}
}

func TestCompletedResultsCapped(t *testing.T) {
	cfg := testConfig()
	cfg.CompletedCap = 3
	fake := &fakeRefiner{fn: func(req refiner.Request) (string, error) {
		return req.Text, nil
	}}
	p := newTestPipeline(t, cfg, fake)

	// Sequence 0 never completes so nothing drains.
	for seq := int64(1); seq <= 5; seq++ {
		p.complete(seq, fmt.Sprintf("r%d", seq))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.completed) > 3 {
		t.Fatalf("expected at most 3 buffered results, got %d", len(p.completed))
	}
	if _, ok := p.completed[5]; !ok {
		t.Fatal("highest-numbered result should be retained")
	}
	if _, ok := p.completed[1]; ok {
		t.Fatal("lowest-numbered result should be evicted")
	}
}

func TestFlushEmptyPipeline(t *testing.T) {
	fake := &fakeRefiner{fn: func(req refiner.Request) (string, error) {
		return req.Text, nil
	}}
	p := newTestPipeline(t, testConfig(), fake)

	if got := p.Flush(context.Background()); got != "" {
		t.Fatalf("expected empty flush, got %q", got)
	}
	if fake.callCount() != 0 {
		t.Fatal("whole-text pass should be skipped for empty display")
	}
}

func TestFlushRunsWholeTextPass(t *testing.T) {
	fake := &fakeRefiner{fn: func(req refiner.Request) (string, error) {
		if req.WholeText {
			return "整形\n済みの全文。", nil
		}
		return req.Text, nil
	}}
	p := newTestPipeline(t, testConfig(), fake)

	p.Dispatch("こんにちは。")
	waitForSnapshot(t, p, "こんにちは。")

	got := p.Flush(context.Background())
	if got != "整形済みの全文。" {
		t.Fatalf("expected whole-text result with newlines stripped, got %q", got)
	}
	if p.Snapshot() != got {
		t.Fatalf("display should hold the flushed text, got %q", p.Snapshot())
	}
}

func TestFlushFallsBackWhenWholeTextFails(t *testing.T) {
	fake := &fakeRefiner{fn: func(req refiner.Request) (string, error) {
		if req.WholeText {
			return "", errors.New("model offline")
		}
		return req.Text, nil
	}}
	p := newTestPipeline(t, testConfig(), fake)

	p.Dispatch("残す文。")
	waitForSnapshot(t, p, "残す文。")

	if got := p.Flush(context.Background()); got != "残す文。" {
		t.Fatalf("expected pre-flush text on failure, got %q", got)
	}
}

func TestOnUpdatePublishesDrainedText(t *testing.T) {
	fake := &fakeRefiner{fn: func(req refiner.Request) (string, error) {
		return req.Text, nil
	}}
	p := newTestPipeline(t, testConfig(), fake)

	updates := make(chan string, 8)
	p.OnUpdate(func(text string) { updates <- text })

	p.Dispatch("一行目。")
	select {
	case got := <-updates:
		if got != "一行目。" {
			t.Fatalf("unexpected update %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no display update received")
	}
}
