package rediskv

import "testing"

func TestCursorKey(t *testing.T) {
	got := cursorKey("ethereum_mainnet")
	want := "watch-tower:cursor:ethereum_mainnet"
	if got != want {
		t.Fatalf("cursorKey = %q, want %q", got, want)
	}
}

func TestParseCursor_RoundTrip(t *testing.T) {
	height, hash, err := parseCursor("12345:0xabc")
	if err != nil {
		t.Fatalf("parse cursor: %v", err)
	}
	if height != 12345 || hash != "0xabc" {
		t.Fatalf("got (%d, %q)", height, hash)
	}
}

func TestParseCursor_HashContainsColon(t *testing.T) {
	// Stellar ledger hashes and algorand digests can't contain ':', but
	// guard against a malformed value splitting on the wrong boundary.
	height, hash, err := parseCursor("1:a:b")
	if err != nil {
		t.Fatalf("parse cursor: %v", err)
	}
	if height != 1 || hash != "a:b" {
		t.Fatalf("got (%d, %q)", height, hash)
	}
}

func TestParseCursor_Malformed(t *testing.T) {
	if _, _, err := parseCursor("not-a-cursor"); err == nil {
		t.Fatalf("expected an error for a value with no separator")
	}
	if _, _, err := parseCursor("notanumber:hash"); err == nil {
		t.Fatalf("expected an error for a non-numeric height")
	}
}
