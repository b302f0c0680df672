package config

import (
	"fmt"

	"github.com/devblac/watch-tower/internal/expr"
)

// validateExpressions parses every expression attached to a monitor's
// match_conditions so a typo in the predicate language fails fast at
// startup rather than silently never matching once blocks start
// arriving (spec §4.3, §7: configuration errors are fatal at startup).
func validateExpressions(m Monitor) error {
	for _, c := range m.MatchConditions.Functions {
		if err := validateOne(c.Expression, "function", c.Signature); err != nil {
			return err
		}
	}
	for _, c := range m.MatchConditions.Events {
		if err := validateOne(c.Expression, "event", c.Signature); err != nil {
			return err
		}
	}
	for i, c := range m.MatchConditions.Transactions {
		if err := validateOne(c.Expression, "transaction", fmt.Sprintf("#%d", i)); err != nil {
			return err
		}
	}
	return nil
}

func validateOne(expression, kind, label string) error {
	if expression == "" {
		return nil
	}
	if _, err := expr.Parse(expression); err != nil {
		return fmt.Errorf("%s condition %s: %w", kind, label, err)
	}
	return nil
}
