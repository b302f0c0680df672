package expr

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// ErrUnresolvedIdent is returned (wrapped, naming the identifier) by
// Eval when an expression references an identifier present in neither
// decoded args nor the ambient field set. Per spec §4.3/§7 this is a
// distinguishable evaluation error the caller logs and treats as a
// non-match, not a silently-false comparison.
var ErrUnresolvedIdent = errors.New("expr: unresolved identifier")

// Env is the identifier namespace an expression evaluates against:
// decoded function/event args first, then the ambient fields the Filter
// Engine makes available for every match (spec §4.3).
type Env struct {
	Args    map[string]any
	Ambient map[string]any
}

func (e Env) lookup(ident string) (any, bool) {
	if v, ok := e.Args[ident]; ok {
		return v, true
	}
	if v, ok := e.Ambient[ident]; ok {
		return v, true
	}
	return nil, false
}

// Eval evaluates the compiled expression against env. A reference to an
// identifier absent from both Args and Ambient returns ErrUnresolvedIdent
// (wrapped); per spec §4.3/§7 the caller treats this as a non-match and
// logs it rate-limited, rather than aborting the whole block's
// evaluation.
func (e *Expr) Eval(env Env) (bool, error) {
	return evalNode(e.root, env)
}

func evalNode(n *Node, env Env) (bool, error) {
	switch n.Kind {
	case NodeOr:
		l, err := evalNode(n.Left, env)
		if err != nil {
			return false, err
		}
		if l {
			return true, nil
		}
		return evalNode(n.Right, env)
	case NodeAnd:
		l, err := evalNode(n.Left, env)
		if err != nil {
			return false, err
		}
		if !l {
			return false, nil
		}
		return evalNode(n.Right, env)
	case NodeNot:
		v, err := evalNode(n.Operand, env)
		if err != nil {
			return false, err
		}
		return !v, nil
	case NodeCompare:
		return evalCompare(n, env)
	case NodeIdent:
		v, ok := env.lookup(n.Ident)
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrUnresolvedIdent, n.Ident)
		}
		b, ok := v.(bool)
		return ok && b, nil
	case NodeLiteral:
		return n.LitKind == LitBool && n.LitBool2, nil
	default:
		return false, fmt.Errorf("expr: cannot evaluate node kind %d as boolean", n.Kind)
	}
}

func evalCompare(n *Node, env Env) (bool, error) {
	lhs, err := resolveValue(n.Term1, env)
	if err != nil {
		return false, err
	}

	switch n.CmpOp {
	case OpIn:
		for _, item := range n.Term2.Items {
			rhs, err := resolveValue(item, env)
			if err != nil {
				if errors.Is(err, ErrUnresolvedIdent) {
					// One unresolved entry in a literal/ident list
					// just can't match; the `in` condition itself
					// only errors if its own subject (lhs) is
					// unresolved.
					continue
				}
				return false, err
			}
			eq, err := compareEqual(lhs, rhs)
			if err != nil {
				return false, err
			}
			if eq {
				return true, nil
			}
		}
		return false, nil
	case OpContains, OpStartsWith, OpEndsWith:
		rhs, err := resolveValue(n.Term2, env)
		if err != nil {
			return false, err
		}
		ls, rs := fmt.Sprint(lhs), fmt.Sprint(rhs)
		switch n.CmpOp {
		case OpContains:
			return strings.Contains(ls, rs), nil
		case OpStartsWith:
			return strings.HasPrefix(ls, rs), nil
		default:
			return strings.HasSuffix(ls, rs), nil
		}
	default:
		rhs, err := resolveValue(n.Term2, env)
		if err != nil {
			return false, err
		}
		return compareOrdered(lhs, rhs, n.CmpOp)
	}
}

// resolveValue reduces an ident or literal term to a comparable Go
// value. An unresolved identifier returns ErrUnresolvedIdent wrapped
// with its name; a malformed literal returns a plain parse error.
func resolveValue(n *Node, env Env) (any, error) {
	switch n.Kind {
	case NodeIdent:
		v, ok := env.lookup(n.Ident)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnresolvedIdent, n.Ident)
		}
		return v, nil
	case NodeLiteral:
		switch n.LitKind {
		case LitInt:
			i, ok := new(big.Int).SetString(n.LitRaw, 10)
			if !ok {
				return nil, fmt.Errorf("expr: invalid integer literal %q", n.LitRaw)
			}
			return i, nil
		case LitHex, LitAddress:
			return normalizeHex(n.LitRaw), nil
		case LitString:
			return n.LitRaw, nil
		case LitBool:
			return n.LitBool2, nil
		}
	}
	return nil, fmt.Errorf("expr: cannot resolve node kind %d", n.Kind)
}

// normalizeHex lower-cases a 0x-prefixed literal and strips the prefix,
// matching the case-insensitive hex/address comparison semantics
// evaluated below.
func normalizeHex(raw string) string {
	s := strings.ToLower(raw)
	s = strings.TrimPrefix(s, "0x")
	return s
}

// toBigInt coerces a decoded arg value (big.Int, the fixed-width int
// kinds go-ethereum's abi package and the algorand client return, or a
// numeric string) into a *big.Int for exact comparison.
func toBigInt(v any) (*big.Int, bool) {
	switch t := v.(type) {
	case *big.Int:
		return t, true
	case big.Int:
		cp := t
		return &cp, true
	case int64:
		return big.NewInt(t), true
	case int:
		return big.NewInt(int64(t)), true
	case uint64:
		return new(big.Int).SetUint64(t), true
	case uint:
		return new(big.Int).SetUint64(uint64(t)), true
	case string:
		i, ok := new(big.Int).SetString(strings.TrimSpace(t), 10)
		return i, ok
	default:
		return nil, false
	}
}

// asHexString reduces a value (string or []byte address/hex) to a
// lower-cased, 0x-stripped form for case-insensitive comparison.
func asHexString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return normalizeHex(t), true
	case []byte:
		return strings.ToLower(strings.TrimPrefix(fmt.Sprintf("%x", t), "0x")), true
	case fmt.Stringer:
		return normalizeHex(t.String()), true
	default:
		return "", false
	}
}

func compareEqual(lhs, rhs any) (bool, error) {
	if li, ok := toBigInt(lhs); ok {
		if ri, ok := toBigInt(rhs); ok {
			return li.Cmp(ri) == 0, nil
		}
	}
	if lh, ok := asHexString(lhs); ok {
		if rh, ok := asHexString(rhs); ok && looksHex(lh) && looksHex(rh) {
			return lh == rh, nil
		}
	}
	if lb, ok := lhs.(bool); ok {
		if rb, ok := rhs.(bool); ok {
			return lb == rb, nil
		}
	}
	return fmt.Sprint(lhs) == fmt.Sprint(rhs), nil
}

func looksHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

func compareOrdered(lhs, rhs any, op Op) (bool, error) {
	li, lok := toBigInt(lhs)
	ri, rok := toBigInt(rhs)
	if lok && rok {
		c := li.Cmp(ri)
		return applyOrd(c, op), nil
	}

	eq, err := compareEqual(lhs, rhs)
	if err != nil {
		return false, err
	}
	switch op {
	case OpEq:
		return eq, nil
	case OpNeq:
		return !eq, nil
	default:
		ls, rs := fmt.Sprint(lhs), fmt.Sprint(rhs)
		c := strings.Compare(ls, rs)
		return applyOrd(c, op), nil
	}
}

func applyOrd(c int, op Op) bool {
	switch op {
	case OpEq:
		return c == 0
	case OpNeq:
		return c != 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	default:
		return false
	}
}

// ParseLiteralInt exposes integer-literal parsing for callers (e.g. the
// trigger condition runner) that need the same big.Int semantics
// outside a full expression.
func ParseLiteralInt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "-0x") {
		neg := strings.HasPrefix(s, "-")
		hex := strings.TrimPrefix(strings.TrimPrefix(s, "-"), "0x")
		i, ok := new(big.Int).SetString(hex, 16)
		if !ok {
			return nil, fmt.Errorf("invalid hex integer literal: %s", s)
		}
		if neg {
			i.Neg(i)
		}
		return i, nil
	}
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer literal: %s", s)
	}
	return i, nil
}

// TokenBucket is a per-(monitor,signature) rate limiter for
// evaluation-error logging, so a persistently misconfigured expression
// cannot flood the logs once per block forever.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	rate       float64
	tokens     float64
	lastUpdate time.Time
}

// NewTokenBucket creates a token bucket with capacity and refill rate
// (tokens per second).
func NewTokenBucket(capacity, rate float64) *TokenBucket {
	return &TokenBucket{capacity: capacity, rate: rate, tokens: capacity}
}

// Allow consumes one token if available, refilling based on elapsed
// time since the previous call.
func (b *TokenBucket) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastUpdate.IsZero() {
		b.lastUpdate = now
	}
	if elapsed := now.Sub(b.lastUpdate).Seconds(); elapsed > 0 {
		b.tokens = minFloat(b.capacity, b.tokens+elapsed*b.rate)
		b.lastUpdate = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// ErrorLimiters indexes a TokenBucket per caller-supplied key (the
// Filter Engine uses "monitor:signature") so evaluation-error logging
// degrades gracefully under a
// persistently broken expression.
type ErrorLimiters struct {
	mu       sync.Mutex
	buckets  map[string]*TokenBucket
	capacity float64
	rate     float64
}

// NewErrorLimiters creates an ErrorLimiters with the given bucket shape
// applied lazily to each new key.
func NewErrorLimiters(capacity, rate float64) *ErrorLimiters {
	return &ErrorLimiters{buckets: make(map[string]*TokenBucket), capacity: capacity, rate: rate}
}

// Allow reports whether a log line should be emitted for key right now.
func (l *ErrorLimiters) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = NewTokenBucket(l.capacity, l.rate)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.Allow(now)
}
