package pipeline

import (
	"sort"
	"time"
)

// recencyGuard remembers recently dispatched sentence text so a
// recognizer re-emitting the same finalized utterance does not get
// refined and displayed twice. Entries age out after the configured
// window; when the count cap is exceeded only the most recent half is
// retained. Callers hold the pipeline lock.
type recencyGuard struct {
	window time.Duration
	cap    int
	seen   map[string]time.Time
}

func newRecencyGuard(window time.Duration, cap int) *recencyGuard {
	return &recencyGuard{
		window: window,
		cap:    cap,
		seen:   make(map[string]time.Time),
	}
}

// Admit reports whether the text is new within the recency window and
// records it for future checks.
func (g *recencyGuard) Admit(text string, now time.Time) bool {
	g.pruneAge(now)
	if first, ok := g.seen[text]; ok && now.Sub(first) < g.window {
		return false
	}
	g.seen[text] = now
	g.pruneCount()
	return true
}

func (g *recencyGuard) pruneAge(now time.Time) {
	for text, first := range g.seen {
		if now.Sub(first) >= g.window {
			delete(g.seen, text)
		}
	}
}

func (g *recencyGuard) pruneCount() {
	if len(g.seen) <= g.cap {
		return
	}
	type entry struct {
		text  string
		first time.Time
	}
	entries := make([]entry, 0, len(g.seen))
	for text, first := range g.seen {
		entries = append(entries, entry{text, first})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].first.Before(entries[j].first)
	})
	keep := g.cap / 2
	for _, e := range entries[:len(entries)-keep] {
		delete(g.seen, e.text)
	}
}

func (g *recencyGuard) Len() int {
	return len(g.seen)
}
