package privacy

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/raaihank/case-sentinel/internal/config"
)

// NewFromConfig builds an Anonymizer from the privacy section of the
// service configuration.
func NewFromConfig(cfg config.PrivacyConfig, log *zap.Logger) (*Anonymizer, error) {
	reg := DefaultRegistry()
	if cfg.PatternFile != "" {
		loaded, err := LoadRegistryFile(cfg.PatternFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load pattern file: %w", err)
		}
		reg = loaded
	}

	detector, err := NewDetector(reg, cfg.Detectors, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create PII detector: %w", err)
	}

	direct, err := ParseDirectIdentifiers(cfg.DirectIdentifiers)
	if err != nil {
		return nil, fmt.Errorf("invalid direct identifiers: %w", err)
	}
	return New(detector, direct, log), nil
}
