package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/creditsight/internal/domain"
)

// Format is the encoding of a rule definition document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// document is the on-disk shape: {"version": "...", "rules": [...]}.
type document struct {
	Version string        `json:"version" yaml:"version"`
	Rules   []domain.Rule `json:"rules" yaml:"rules"`
}

// FormatFromPath infers the document format from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// LoadFile reads and validates a rule definition file.
// Every failure is a *domain.ConfigurationError.
func LoadFile(path string) ([]domain.Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &domain.ConfigurationError{Source: path, Err: err}
	}
	defer f.Close()

	rules, err := Load(f, FormatFromPath(path))
	if err != nil {
		var cerr *domain.ConfigurationError
		if errors.As(err, &cerr) {
			cerr.Source = path
			return nil, cerr
		}
		return nil, &domain.ConfigurationError{Source: path, Err: err}
	}
	return rules, nil
}

// Load decodes and validates rules from r.
func Load(r io.Reader, format Format) ([]domain.Rule, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &domain.ConfigurationError{Err: fmt.Errorf("failed to read rules: %w", err)}
	}
	return Parse(data, format)
}

// Parse decodes and validates rules from data. JSON documents may also be a
// bare array of rules.
func Parse(data []byte, format Format) ([]domain.Rule, error) {
	var doc document

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, &domain.ConfigurationError{Err: fmt.Errorf("failed to parse YAML rules: %w", err)}
		}
	case FormatJSON, "":
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			if err := json.Unmarshal(trimmed, &doc.Rules); err != nil {
				return nil, &domain.ConfigurationError{Err: fmt.Errorf("failed to parse JSON rules: %w", err)}
			}
			break
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, &domain.ConfigurationError{Err: fmt.Errorf("failed to parse JSON rules: %w", err)}
		}
	default:
		return nil, &domain.ConfigurationError{Err: fmt.Errorf("unsupported rule format: %s", format)}
	}

	if err := Validate(doc.Rules); err != nil {
		return nil, err
	}
	return doc.Rules, nil
}

// Validate checks the structural integrity of a rule set. Unknown groups and
// priorities are accepted: they route through the fallback and map to
// medium severity respectively.
func Validate(rules []domain.Rule) error {
	if len(rules) == 0 {
		return &domain.ConfigurationError{Err: domain.ErrNoRules}
	}

	seen := make(map[string]int, len(rules))
	for i, r := range rules {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			return &domain.ConfigurationError{Err: fmt.Errorf("rule at index %d has no id", i)}
		}
		if prev, ok := seen[id]; ok {
			return &domain.ConfigurationError{Err: fmt.Errorf("duplicate rule id %q at index %d and %d", id, prev, i)}
		}
		seen[id] = i

		if r.Group != "" && !r.Group.IsKnown() {
			slog.Warn("rule has unknown group, using fallback routing", "rule_id", id, "group", r.Group)
		}
		if domain.SeverityFromPriority(r.Priority) == domain.SeverityMedium &&
			!strings.EqualFold(strings.TrimSpace(r.Priority), string(domain.SeverityMedium)) {
			slog.Warn("rule has unknown priority, using medium", "rule_id", id, "priority", r.Priority)
		}
	}
	return nil
}

// Encode serializes rules into a definition document.
func Encode(rules []domain.Rule, format Format) ([]byte, error) {
	doc := document{Rules: rules}
	if format == FormatYAML {
		return yaml.Marshal(doc)
	}
	return json.MarshalIndent(doc, "", "  ")
}
