package rules

import (
	_ "embed"
	"fmt"

	"github.com/opensource-finance/creditsight/internal/domain"
)

//go:embed default_rules.yaml
var defaultRules []byte

// BuiltinRules returns the embedded default rule set.
func BuiltinRules() ([]domain.Rule, error) {
	rules, err := Parse(defaultRules, FormatYAML)
	if err != nil {
		return nil, fmt.Errorf("embedded rules: %w", err)
	}
	return rules, nil
}
