// Package budget matches records against user-declared size/padding rules
// and emits violations. Exact-name rules always outrank glob rules; among
// glob rules, the first one declared wins.
package budget

import (
	"path/filepath"

	"github.com/scigolib/structaudit/internal/model"
)

// Check evaluates every record in records against rules, in declaration
// order for glob precedence, and returns the full violation list. The
// process-level exit intent is simply len(violations) > 0, left to the
// command collaborator to act on.
func Check(records []model.RecordLayout, rules []model.BudgetRule) []model.Violation {
	exact := make(map[string]model.BudgetRule)
	var globs []model.BudgetRule
	for _, r := range rules {
		if r.IsGlob {
			globs = append(globs, r)
		} else {
			exact[r.Pattern] = r
		}
	}

	var violations []model.Violation
	for _, rec := range records {
		rule, ok := match(rec.Name, exact, globs)
		if !ok {
			continue
		}
		violations = append(violations, checkRecord(rec, rule)...)
	}
	return violations
}

func match(name string, exact map[string]model.BudgetRule, globs []model.BudgetRule) (model.BudgetRule, bool) {
	if r, ok := exact[name]; ok {
		return r, true
	}
	for _, r := range globs {
		if ok, _ := filepath.Match(r.Pattern, name); ok {
			return r, true
		}
	}
	return model.BudgetRule{}, false
}

func checkRecord(rec model.RecordLayout, rule model.BudgetRule) []model.Violation {
	var out []model.Violation

	if rule.MaxSize != nil && rec.Size > *rule.MaxSize {
		out = append(out, model.Violation{
			Record: rec.Name, Rule: rule.Pattern, Kind: model.SizeExceeded,
			Actual: float64(rec.Size), Max: float64(*rule.MaxSize),
		})
	}
	if rule.MaxPaddingBytes != nil && rec.Metrics.PaddingBytes > *rule.MaxPaddingBytes {
		out = append(out, model.Violation{
			Record: rec.Name, Rule: rule.Pattern, Kind: model.PaddingBytesExceeded,
			Actual: float64(rec.Metrics.PaddingBytes), Max: float64(*rule.MaxPaddingBytes),
		})
	}
	if rule.MaxPaddingPercent != nil && rec.Metrics.PaddingPercent > *rule.MaxPaddingPercent {
		out = append(out, model.Violation{
			Record: rec.Name, Rule: rule.Pattern, Kind: model.PaddingPercentExceeded,
			Actual: rec.Metrics.PaddingPercent, Max: *rule.MaxPaddingPercent,
		})
	}
	return out
}
