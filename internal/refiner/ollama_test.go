package refiner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kotoba-labs/kotoba-core/internal/config"
)

func ollamaConfig(endpoint string) config.RefinerConfig {
	cfg := config.Default().Refiner
	cfg.Mode = "ollama"
	cfg.Endpoint = endpoint
	return cfg
}

func TestOllamaRefineDecodesResponse(t *testing.T) {
	var captured ollamaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(ollamaResponse{Response: " 直した文。 ", Done: true})
	}))
	t.Cleanup(server.Close)

	r := NewOllamaRefiner(ollamaConfig(server.URL))
	got, err := r.Refine(context.Background(), Request{Text: "なおすぶん。", Prior: "前の文。"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "直した文。" {
		t.Fatalf("expected trimmed refinement, got %q", got)
	}
	if captured.Stream {
		t.Fatal("refinement requests should not stream")
	}
	if captured.System == "" {
		t.Fatal("expected a system prompt")
	}
}

func TestOllamaRefineEmptyCompletionIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(ollamaResponse{Response: "", Done: true})
	}))
	t.Cleanup(server.Close)

	r := NewOllamaRefiner(ollamaConfig(server.URL))
	if _, err := r.Refine(context.Background(), Request{Text: "ぶん。"}); err == nil {
		t.Fatal("expected error for empty completion")
	}
}

func TestOllamaRefineStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	r := NewOllamaRefiner(ollamaConfig(server.URL))
	if _, err := r.Refine(context.Background(), Request{Text: "ぶん。"}); err == nil {
		t.Fatal("expected error for non-2xx status")
	}
}

func TestMockRefinerEchoes(t *testing.T) {
	r := NewMockRefiner()
	got, err := r.Refine(context.Background(), Request{Text: " そのまま。 "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "そのまま。" {
		t.Fatalf("expected trimmed echo, got %q", got)
	}
}
