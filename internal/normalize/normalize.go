// Package normalize is the single boundary between untrusted extraction
// payloads and the canonical record types. Nothing raw leaks past it.
package normalize

import (
	"fmt"

	"github.com/cornermap/sync-service/internal/config"
)

// Confidence flag values assigned from the completeness score.
const (
	ConfidenceHigh = 1.0
	ConfidenceLow  = 0.7
)

// Normalizer converts raw extraction output into scored, deduplicated
// canonical records.
type Normalizer struct {
	eventThreshold int
	spotThreshold  int
	isItemURL      func(string) bool
	tagRules       []TagRule
}

// New builds a Normalizer. isItemURL decides whether an event URL matches the
// expected item-page pattern; tag classification rules come from the optional
// YAML override in cfg, falling back to the built-in set.
func New(cfg config.Sync, isItemURL func(string) bool) (*Normalizer, error) {
	rules := defaultTagRules
	if cfg.TagRulesPath != "" {
		loaded, err := LoadTagRules(cfg.TagRulesPath)
		if err != nil {
			return nil, fmt.Errorf("load tag rules: %w", err)
		}
		rules = loaded
	}
	for i := range rules {
		rules[i].compiled()
	}

	eventThreshold := cfg.EventScoreThreshold
	if eventThreshold <= 0 {
		eventThreshold = 6
	}
	spotThreshold := cfg.SpotScoreThreshold
	if spotThreshold <= 0 {
		spotThreshold = 4
	}

	return &Normalizer{
		eventThreshold: eventThreshold,
		spotThreshold:  spotThreshold,
		isItemURL:      isItemURL,
		tagRules:       rules,
	}, nil
}
