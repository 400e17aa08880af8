package refiner

import "github.com/kotoba-labs/kotoba-core/internal/config"

// FromConfig selects a backend by configured mode.
func FromConfig(cfg config.RefinerConfig) (Refiner, error) {
	switch cfg.Mode {
	case "ollama":
		return NewOllamaRefiner(cfg), nil
	case "exec":
		return NewExecRefiner(cfg.Command)
	default:
		return NewMockRefiner(), nil
	}
}
