// Package config loads the budget-rule document the Budget Checker
// consumes. The document is a YAML mapping from pattern to rule bounds;
// declaration order is preserved into the resulting rule slice so glob
// precedence (first-declared-wins) matches what the user wrote.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/scigolib/structaudit/internal/model"
	"github.com/scigolib/structaudit/internal/utils"
)

// ruleDoc mirrors the YAML shape of a single rule's bounds.
type ruleDoc struct {
	MaxSize           *uint64  `yaml:"max_size"`
	MaxPadding        *uint64  `yaml:"max_padding"`
	MaxPaddingPercent *float64 `yaml:"max_padding_percent"`
}

// LoadRules parses a YAML document of the form:
//
//	Order:
//	  max_size: 64
//	"Order*":
//	  max_padding_percent: 10
//
// into an ordered []model.BudgetRule. yaml.v3 decodes a mapping node's keys
// in document order via yaml.Node, which this uses instead of a plain Go
// map (whose key order is not guaranteed) to preserve glob precedence.
func LoadRules(data []byte) ([]model.BudgetRule, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, utils.WrapError("parsing budget YAML", err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("budget document root must be a mapping")
	}

	var rules []model.BudgetRule
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		keyNode := mapping.Content[i]
		valNode := mapping.Content[i+1]

		var doc ruleDoc
		if err := valNode.Decode(&doc); err != nil {
			return nil, utils.WrapError(fmt.Sprintf("decoding rule %q", keyNode.Value), err)
		}
		if doc.MaxPaddingPercent != nil && (*doc.MaxPaddingPercent < 0 || *doc.MaxPaddingPercent > 100) {
			return nil, fmt.Errorf("rule %q: max_padding_percent must be in [0, 100]", keyNode.Value)
		}

		rules = append(rules, model.BudgetRule{
			Pattern:           keyNode.Value,
			IsGlob:            isGlobPattern(keyNode.Value),
			MaxSize:           doc.MaxSize,
			MaxPaddingBytes:   doc.MaxPadding,
			MaxPaddingPercent: doc.MaxPaddingPercent,
		})
	}

	return rules, nil
}

func isGlobPattern(pattern string) bool {
	for _, r := range pattern {
		switch r {
		case '*', '?', '[':
			return true
		}
	}
	return false
}
