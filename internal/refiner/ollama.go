package refiner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kotoba-labs/kotoba-core/internal/config"
)

const sentenceSystemPrompt = "You clean up dictated text. Fix recognition " +
	"mistakes, punctuation and phrasing without changing the meaning. " +
	"Reply with the corrected text only."

const wholeTextSystemPrompt = "You clean up a full dictated transcript. " +
	"Make wording and style consistent across sentences without changing " +
	"the meaning. Reply with the corrected text only."

type ollamaRefiner struct {
	endpoint    string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
}

func NewOllamaRefiner(cfg config.RefinerConfig) Refiner {
	return &ollamaRefiner{
		endpoint:    cfg.Endpoint,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		},
	}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (r *ollamaRefiner) Refine(ctx context.Context, req Request) (string, error) {
	system := sentenceSystemPrompt
	if req.WholeText {
		system = wholeTextSystemPrompt
	}

	var prompt strings.Builder
	if req.Prior != "" && !req.WholeText {
		prompt.WriteString("Preceding text:\n")
		prompt.WriteString(req.Prior)
		prompt.WriteString("\n\nText to correct:\n")
	}
	prompt.WriteString(req.Text)

	payload := ollamaRequest{
		Model:  r.model,
		Prompt: prompt.String(),
		System: system,
		Stream: false,
		Options: ollamaOptions{
			Temperature: r.temperature,
			NumPredict:  r.maxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama returned status %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var decoded ollamaResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	result := strings.TrimSpace(decoded.Response)
	if result == "" {
		return "", fmt.Errorf("ollama returned empty completion")
	}
	return result, nil
}
