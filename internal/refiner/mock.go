package refiner

import (
	"context"
	"strings"
	"time"
)

type mockRefiner struct {
	delay time.Duration
}

func NewMockRefiner() Refiner { return &mockRefiner{delay: 10 * time.Millisecond} }

func (m *mockRefiner) Refine(ctx context.Context, req Request) (string, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.delay):
		}
	}
	return strings.TrimSpace(req.Text), nil
}
