package output

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

// execSink pipes the final text to an external command's stdin, e.g.
// wl-copy or a typing helper.
type execSink struct {
	cmd []string
	mu  sync.Mutex
}

func NewExecSink(command string) (Sink, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse output command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("output command empty")
	}
	return &execSink{cmd: args}, nil
}

func (e *execSink) Deliver(ctx context.Context, _ string, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = strings.NewReader(text)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("output command failed: %w", err)
	}
	return nil
}
