package segmenter

import (
	"reflect"
	"testing"
)

func TestIngestAccumulatesUntilTerminal(t *testing.T) {
	s := New()

	got := s.Ingest("こんにちは。")
	if !reflect.DeepEqual(got, []string{"こんにちは。"}) {
		t.Fatalf("expected one sentence, got %v", got)
	}

	got = s.Ingest("元気です")
	if got != nil {
		t.Fatalf("expected no sentence before terminal punctuation, got %v", got)
	}

	got = s.Ingest("か？")
	if !reflect.DeepEqual(got, []string{"元気ですか？"}) {
		t.Fatalf("expected buffered sentence completed, got %v", got)
	}

	if s.Pending() != "" {
		t.Fatalf("expected empty buffer, got %q", s.Pending())
	}
}

func TestIngestSplitsMultipleSentences(t *testing.T) {
	s := New()

	got := s.Ingest("おはよう。寒いですね！今日は")
	want := []string{"おはよう。", "寒いですね！"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if s.Pending() != "今日は" {
		t.Fatalf("expected remainder buffered, got %q", s.Pending())
	}
}

func TestIngestHalfWidthPunctuation(t *testing.T) {
	s := New()

	got := s.Ingest("Hello there. How are you?")
	want := []string{"Hello there.", "How are you?"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestIngestDropsEmptyUnits(t *testing.T) {
	s := New()

	if got := s.Ingest(""); got != nil {
		t.Fatalf("expected no-op for empty fragment, got %v", got)
	}
	if got := s.Ingest("。。！"); got != nil {
		t.Fatalf("expected punctuation-only run dropped, got %v", got)
	}
	got := s.Ingest("はい。 。")
	if !reflect.DeepEqual(got, []string{"はい。"}) {
		t.Fatalf("expected whitespace-only unit dropped, got %v", got)
	}
}

func TestFlushDrainsRemainder(t *testing.T) {
	s := New()

	s.Ingest("まだ途中")
	if got := s.Flush(); got != "まだ途中" {
		t.Fatalf("expected remainder, got %q", got)
	}
	if got := s.Flush(); got != "" {
		t.Fatalf("expected empty flush after drain, got %q", got)
	}
}
