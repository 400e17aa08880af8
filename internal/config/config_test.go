package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Pipeline.GapThreshold != 5 {
		t.Fatalf("expected default gap threshold, got %d", cfg.Pipeline.GapThreshold)
	}
	if cfg.Refiner.Mode != "mock" {
		t.Fatalf("expected mock refiner default, got %s", cfg.Refiner.Mode)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KOTOBA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("KOTOBA_BUS_USERNAME", "alice")
	t.Setenv("KOTOBA_BUS_PASSWORD", "secret")
	t.Setenv("KOTOBA_PIPELINE_GAP_THRESHOLD", "8")
	t.Setenv("KOTOBA_PIPELINE_STUCK_TIMEOUT_MS", "10000")
	t.Setenv("KOTOBA_PIPELINE_COMPLETED_CAP", "50")
	t.Setenv("KOTOBA_REFINER_MODE", "ollama")
	t.Setenv("KOTOBA_REFINER_ENDPOINT", "http://model-host:11434")
	t.Setenv("KOTOBA_REFINER_TEMPERATURE", "0.9")
	t.Setenv("KOTOBA_OUTPUT_MODE", "exec")
	t.Setenv("KOTOBA_OUTPUT_COMMAND", "wl-copy")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Pipeline.GapThreshold != 8 {
		t.Fatalf("expected gap threshold override, got %d", cfg.Pipeline.GapThreshold)
	}
	if cfg.Pipeline.StuckTimeoutMS != 10000 {
		t.Fatalf("expected stuck timeout override, got %d", cfg.Pipeline.StuckTimeoutMS)
	}
	if cfg.Pipeline.CompletedCap != 50 {
		t.Fatalf("expected completed cap override, got %d", cfg.Pipeline.CompletedCap)
	}
	if cfg.Refiner.Mode != "ollama" {
		t.Fatalf("expected refiner mode override, got %s", cfg.Refiner.Mode)
	}
	if cfg.Refiner.Endpoint != "http://model-host:11434" {
		t.Fatalf("expected refiner endpoint override, got %s", cfg.Refiner.Endpoint)
	}
	if cfg.Refiner.Temperature != 0.9 {
		t.Fatalf("expected temperature override, got %f", cfg.Refiner.Temperature)
	}
	if cfg.Output.Mode != "exec" || cfg.Output.Command != "wl-copy" {
		t.Fatalf("expected output override, got %s %s", cfg.Output.Mode, cfg.Output.Command)
	}
}

func TestValidateRejectsBadModes(t *testing.T) {
	t.Setenv("KOTOBA_REFINER_MODE", "telepathy")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for unknown refiner mode")
	}
}

func TestValidateRequiresExecCommands(t *testing.T) {
	t.Setenv("KOTOBA_OUTPUT_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for exec output without command")
	}
}
