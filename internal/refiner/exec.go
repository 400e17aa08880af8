package refiner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execRefiner struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Text      string `json:"text"`
	Prior     string `json:"prior,omitempty"`
	WholeText bool   `json:"whole_text,omitempty"`
}

type execResponse struct {
	Text string `json:"text"`
}

// NewExecRefiner runs an external command per refinement: the request is
// written to stdin as JSON, the corrected text is read back as JSON.
func NewExecRefiner(command string) (Refiner, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse refiner command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("refiner command empty")
	}
	return &execRefiner{cmd: args}, nil
}

func (r *execRefiner) Refine(ctx context.Context, req Request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	input, err := json.Marshal(execRequest{
		Text:      req.Text,
		Prior:     req.Prior,
		WholeText: req.WholeText,
	})
	if err != nil {
		return "", err
	}

	base := r.cmd[0]
	args := append([]string{}, r.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("refiner exec command failed: %w", err)
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return "", fmt.Errorf("decode refiner exec response: %w", err)
	}
	result := strings.TrimSpace(resp.Text)
	if result == "" {
		return "", fmt.Errorf("refiner exec returned empty text")
	}
	return result, nil
}
