package classify

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Rules post-processes raw predictions: a confidence floor drops weak
// suggestions and an optional category map rewrites model labels to
// canonical 311 service names.
type Rules struct {
	// MinConfidence drops predictions below this floor. Zero keeps all.
	MinConfidence float64 `yaml:"min_confidence"`

	// Categories maps predicted labels to canonical service names. Labels
	// without an entry pass through unchanged.
	Categories map[string]string `yaml:"categories"`
}

// LoadRules reads the rules file. A missing or unreadable file degrades to
// passthrough rules with a warning; the classifier keeps running either way.
func LoadRules(path string, logger *slog.Logger) *Rules {
	if path == "" {
		return &Rules{}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Suggestion rules file unavailable, using passthrough",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return &Rules{}
	}

	rules, err := ParseRules(data)
	if err != nil {
		logger.Warn("Suggestion rules file invalid, using passthrough",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return &Rules{}
	}

	logger.Info("Loaded suggestion rules",
		slog.String("path", path),
		slog.Int("categories", len(rules.Categories)),
		slog.Float64("min_confidence", rules.MinConfidence),
	)

	return rules
}

// ParseRules decodes rules from YAML.
func ParseRules(data []byte) (*Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse suggestion rules: %w", err)
	}

	if rules.MinConfidence < 0 || rules.MinConfidence > 1 {
		return nil, fmt.Errorf("min_confidence must be in [0,1], got %g", rules.MinConfidence)
	}

	return &rules, nil
}

// Apply maps a raw prediction through the rules. The boolean is false when
// the prediction should be discarded.
func (r *Rules) Apply(prediction *Prediction) (Prediction, bool) {
	if prediction == nil || prediction.Category == "" {
		return Prediction{}, false
	}

	if prediction.Confidence < r.MinConfidence {
		return Prediction{}, false
	}

	result := *prediction

	if canonical, ok := r.Categories[result.Category]; ok {
		result.Category = canonical
	}

	return result, true
}
