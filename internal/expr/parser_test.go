package expr

import (
	"errors"
	"testing"
	"time"
)

func TestParseAndEval_Comparisons(t *testing.T) {
	cases := []struct {
		name string
		src  string
		args map[string]any
		want bool
	}{
		{"int gt", "amount > 1000", map[string]any{"amount": "1500"}, true},
		{"int gt false", "amount > 1000", map[string]any{"amount": "500"}, false},
		{"int eq big", "amount == 1000000000000000000", map[string]any{"amount": "1000000000000000000"}, true},
		{"address eq case insensitive", `to == '0xAbC0000000000000000000000000000000000d'`, map[string]any{"to": "0xabc0000000000000000000000000000000000d"}, true},
		{"string contains", `memo CONTAINS 'alert'`, map[string]any{"memo": "critical alert raised"}, true},
		{"starts with", `symbol STARTS_WITH 'US'`, map[string]any{"symbol": "USDC"}, true},
		{"ends with", `symbol ENDS_WITH 'DC'`, map[string]any{"symbol": "USDC"}, true},
		{"in list", "status IN ('ok', 'pending')", map[string]any{"status": "pending"}, true},
		{"in list miss", "status IN ('ok', 'pending')", map[string]any{"status": "failed"}, false},
		{"not", "NOT (amount > 1000)", map[string]any{"amount": "1"}, true},
		{"and", "amount > 100 AND amount < 200", map[string]any{"amount": "150"}, true},
		{"or", "amount > 1000 OR amount < 10", map[string]any{"amount": "5"}, true},
		{"hex literal", "selector == 0xa9059cbb", map[string]any{"selector": "0xA9059CBB"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := Parse(tc.src)
			if err != nil {
				t.Fatalf("parse %q: %v", tc.src, err)
			}
			got, err := e.Eval(Env{Args: tc.args})
			if err != nil {
				t.Fatalf("eval %q: %v", tc.src, err)
			}
			if got != tc.want {
				t.Fatalf("eval %q = %v, want %v", tc.src, got, tc.want)
			}
		})
	}
}

func TestEval_MissingIdentifierReturnsDistinguishableError(t *testing.T) {
	e, err := Parse("amount > 1000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, err = e.Eval(Env{})
	if !errors.Is(err, ErrUnresolvedIdent) {
		t.Fatalf("eval with no matching identifier: err = %v, want ErrUnresolvedIdent", err)
	}
}

func TestEval_OrShortCircuitsBeforeUnresolvedRightBranch(t *testing.T) {
	e, err := Parse("amount > 1000 OR no_such_field == 1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, err := e.Eval(Env{Args: map[string]any{"amount": "2000"}})
	if err != nil {
		t.Fatalf("eval: %v, want nil (left side already satisfied the OR)", err)
	}
	if !got {
		t.Fatalf("expected the left branch alone to satisfy the OR")
	}
}

func TestParseAndEval_Precedence(t *testing.T) {
	// AND binds tighter than OR.
	e, err := Parse("a == 1 OR a == 2 AND b == 99")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, err := e.Eval(Env{Args: map[string]any{"a": "1", "b": "0"}})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if !got {
		t.Fatalf("expected a==1 branch alone to satisfy the OR")
	}
}

func TestParse_Errors(t *testing.T) {
	bad := []string{
		"",
		"amount >",
		"amount >> 10",
		"(amount > 10",
		"amount 10",
		"amount IN (1, 2",
	}
	for _, src := range bad {
		if _, err := Parse(src); err == nil {
			t.Fatalf("expected error parsing %q", src)
		}
	}
}

func TestExpr_String(t *testing.T) {
	const src = "amount > 10 AND status == 'ok'"
	e, err := Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if e.String() != src {
		t.Fatalf("String() = %q, want %q", e.String(), src)
	}
}

func TestTokenBucket(t *testing.T) {
	tb := NewTokenBucket(2, 1) // capacity=2, 1 token/sec
	now := time.Now()

	if !tb.Allow(now) || !tb.Allow(now) {
		t.Fatalf("expected initial tokens available")
	}
	if tb.Allow(now) {
		t.Fatalf("expected third call to be rate-limited")
	}

	now = now.Add(1500 * time.Millisecond)
	if !tb.Allow(now) {
		t.Fatalf("expected token after refill")
	}
}

func TestErrorLimiters_PerKey(t *testing.T) {
	l := NewErrorLimiters(1, 0)
	now := time.Now()

	if !l.Allow("monitor-a:expr-x", now) {
		t.Fatalf("expected first call for a key to be allowed")
	}
	if l.Allow("monitor-a:expr-x", now) {
		t.Fatalf("expected second call for the same key to be rate-limited")
	}
	if !l.Allow("monitor-b:expr-y", now) {
		t.Fatalf("expected a different key to have its own bucket")
	}
}
