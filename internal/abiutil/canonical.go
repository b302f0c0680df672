// Package abiutil canonicalises ABI-style function/event signatures so
// that monitors can match regardless of incidental whitespace or the
// caller's choice of "uint" vs "uint256".
package abiutil

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// Canonicalize normalises a signature like "transfer(address, uint )"
// into "transfer(address,uint256)": whitespace stripped, bare integer
// types expanded to their 256-bit form, array suffixes preserved.
func Canonicalize(signature string) (string, error) {
	name, args, err := splitSignature(signature)
	if err != nil {
		return "", err
	}

	parts := splitArgs(args)
	norm := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		t, err := canonicalType(p)
		if err != nil {
			return "", fmt.Errorf("canonicalize %q: %w", signature, err)
		}
		norm = append(norm, t)
	}

	return fmt.Sprintf("%s(%s)", name, strings.Join(norm, ",")), nil
}

// CanonicalizeType normalises a single ABI type fragment, e.g. "uint"
// into "uint256", without the enclosing "name(...)" signature syntax.
func CanonicalizeType(t string) (string, error) {
	return canonicalType(t)
}

// Topic0 returns the Keccak-256 hash of the canonical event signature,
// matching the EVM convention for topics[0].
func Topic0(signature string) ([32]byte, error) {
	canon, err := Canonicalize(signature)
	if err != nil {
		return [32]byte{}, err
	}
	return crypto.Keccak256Hash([]byte(canon)), nil
}

func splitSignature(signature string) (name string, args string, err error) {
	signature = strings.TrimSpace(signature)
	l := strings.Index(signature, "(")
	r := strings.LastIndex(signature, ")")
	if l <= 0 || r <= l {
		return "", "", fmt.Errorf("invalid signature: %s", signature)
	}
	return strings.TrimSpace(signature[:l]), signature[l+1 : r], nil
}

// splitArgs splits a comma list at depth 0, respecting nested tuples.
func splitArgs(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	if strings.TrimSpace(s[start:]) != "" || len(out) > 0 {
		out = append(out, s[start:])
	}
	return out
}

// canonicalType expands bare integer aliases and recurses into tuples,
// preserving any trailing array suffix ("[]", "[3]", "[][2]", ...).
func canonicalType(t string) (string, error) {
	t = strings.TrimSpace(t)

	base, suffix := splitArraySuffix(t)

	if strings.HasPrefix(base, "(") && strings.HasSuffix(base, ")") {
		inner := base[1 : len(base)-1]
		parts := splitArgs(inner)
		norm := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			ct, err := canonicalType(p)
			if err != nil {
				return "", err
			}
			norm = append(norm, ct)
		}
		return "(" + strings.Join(norm, ",") + ")" + suffix, nil
	}

	switch base {
	case "uint":
		base = "uint256"
	case "int":
		base = "int256"
	case "fixed":
		base = "fixed128x18"
	case "ufixed":
		base = "ufixed128x18"
	}

	// Validate against go-ethereum's own type table; this also rejects
	// nonsense types at startup, before any block is ever polled.
	if _, err := abi.NewType(base+suffix, "", nil); err != nil {
		return "", err
	}

	return base + suffix, nil
}

func splitArraySuffix(t string) (base string, suffix string) {
	i := strings.Index(t, "[")
	if i < 0 {
		return t, ""
	}
	return t[:i], t[i:]
}
