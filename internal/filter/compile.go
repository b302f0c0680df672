// Package filter is the Filter Engine: a stateless transformer turning
// a (block, monitors) pair into Monitor Matches (spec §4.2), decoded
// via each network's chain-family source.Decoder and evaluated with
// internal/expr. Grounded structurally on the teacher's
// internal/source/{evm,algorand}/matcher.go RuleMatcher, generalized
// from chain-specific rule_kind matching into the uniform
// match_conditions.{functions,events,transactions} model and a single
// chain-agnostic Engine.
package filter

import (
	"fmt"

	"github.com/devblac/watch-tower/internal/config"
	"github.com/devblac/watch-tower/internal/expr"
	"github.com/devblac/watch-tower/internal/model"
)

// CompiledCondition is one function/event match_conditions entry with
// its expression parsed once at startup (spec §9 Design Notes:
// "parsing is done once per monitor at startup, not per block").
type CompiledCondition struct {
	Signature string
	Expr      *expr.Expr // nil if the entry carries no expression
}

// CompiledTxCondition is one transaction-level match_conditions entry.
type CompiledTxCondition struct {
	Status model.TxStatus
	Expr   *expr.Expr
}

// CompiledMonitor is a config.Monitor with its expressions pre-parsed
// and its watched addresses indexed for fast lookup.
type CompiledMonitor struct {
	Monitor      config.Monitor
	Networks     map[string]struct{}
	Addresses    map[string]struct{} // empty means "no address filter"
	Functions    []CompiledCondition
	Events       []CompiledCondition
	Transactions []CompiledTxCondition
}

// Compile parses every expression in m.MatchConditions once, returning
// errors with the offending signature so misconfigured monitors are
// caught at startup rather than mid-run (internal/config's own
// validateExpressions already calls expr.Parse for the same reason at
// config-load time; Compile is the second, filter-engine-owned copy
// that the Block Watcher actually evaluates against).
func Compile(m config.Monitor) (*CompiledMonitor, error) {
	cm := &CompiledMonitor{
		Monitor:   m,
		Networks:  toSet(m.Networks),
		Addresses: make(map[string]struct{}, len(m.Addresses)),
	}
	for _, a := range m.Addresses {
		cm.Addresses[normalizeAddress(a.Address)] = struct{}{}
	}

	for _, c := range m.MatchConditions.Functions {
		cc, err := compileCondition(c)
		if err != nil {
			return nil, fmt.Errorf("monitor %s: function %s: %w", m.Name, c.Signature, err)
		}
		cm.Functions = append(cm.Functions, cc)
	}
	for _, c := range m.MatchConditions.Events {
		cc, err := compileCondition(c)
		if err != nil {
			return nil, fmt.Errorf("monitor %s: event %s: %w", m.Name, c.Signature, err)
		}
		cm.Events = append(cm.Events, cc)
	}
	for _, c := range m.MatchConditions.Transactions {
		tc := CompiledTxCondition{Status: normalizeStatus(c.Status)}
		if c.Expression != "" {
			e, err := expr.Parse(c.Expression)
			if err != nil {
				return nil, fmt.Errorf("monitor %s: transaction condition: %w", m.Name, err)
			}
			tc.Expr = e
		}
		cm.Transactions = append(cm.Transactions, tc)
	}

	return cm, nil
}

func compileCondition(c config.ConditionSpec) (CompiledCondition, error) {
	cc := CompiledCondition{Signature: c.Signature}
	if c.Expression != "" {
		e, err := expr.Parse(c.Expression)
		if err != nil {
			return cc, err
		}
		cc.Expr = e
	}
	return cc, nil
}

func normalizeStatus(s string) model.TxStatus {
	switch s {
	case "Success", "success":
		return model.StatusSuccess
	case "Failure", "failure":
		return model.StatusFailure
	default:
		return model.StatusAny
	}
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

// normalizeAddress lowercases 0x-prefixed EVM hex addresses for
// case-insensitive comparison. Stellar (base32 G... accounts/contracts)
// and Algorand (decimal application IDs) addresses are case-sensitive
// or case-irrelevant respectively and are left untouched.
func normalizeAddress(addr string) string {
	if len(addr) < 2 || addr[0] != '0' || (addr[1] != 'x' && addr[1] != 'X') {
		return addr
	}
	out := make([]byte, len(addr))
	for i := 0; i < len(addr); i++ {
		c := addr[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
