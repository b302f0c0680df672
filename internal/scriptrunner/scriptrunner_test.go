package scriptrunner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gate.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestRun_TrailingTrueApproves(t *testing.T) {
	path := writeScript(t, "#!/usr/bin/env bash\ncat >/dev/null\necho true\n")
	spec := Spec{Path: path, Language: "bash", Timeout: 2 * time.Second}
	if err := Run(context.Background(), spec, []byte(`{"tx_hash":"0x1"}`), nil); err != nil {
		t.Fatalf("expected approval, got %v", err)
	}
}

func TestRun_TrailingFalseVetoes(t *testing.T) {
	path := writeScript(t, "#!/usr/bin/env bash\ncat >/dev/null\necho false\n")
	spec := Spec{Path: path, Language: "bash", Timeout: 2 * time.Second}
	err := Run(context.Background(), spec, []byte(`{}`), nil)
	if !errors.Is(err, ErrVetoed) {
		t.Fatalf("expected ErrVetoed, got %v", err)
	}
}

func TestRun_NonZeroExitVetoes(t *testing.T) {
	path := writeScript(t, "#!/usr/bin/env bash\nexit 1\n")
	spec := Spec{Path: path, Language: "bash", Timeout: 2 * time.Second}
	err := Run(context.Background(), spec, []byte(`{}`), nil)
	if !errors.Is(err, ErrVetoed) {
		t.Fatalf("expected ErrVetoed, got %v", err)
	}
}

func TestRun_TimeoutVetoes(t *testing.T) {
	path := writeScript(t, "#!/usr/bin/env bash\nsleep 5\necho true\n")
	spec := Spec{Path: path, Language: "bash", Timeout: 50 * time.Millisecond}
	err := Run(context.Background(), spec, []byte(`{}`), nil)
	if !errors.Is(err, ErrVetoed) {
		t.Fatalf("expected ErrVetoed on timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected a timeout veto's error chain to contain context.DeadlineExceeded (so callers can distinguish it from other veto reasons), got %v", err)
	}
}

func TestRun_StdinCarriesCandidate(t *testing.T) {
	path := writeScript(t, "#!/usr/bin/env bash\nread -r line\nif [[ \"$line\" == *tx_hash* ]]; then echo true; else echo false; fi\n")
	spec := Spec{Path: path, Language: "bash", Timeout: 2 * time.Second}
	if err := Run(context.Background(), spec, []byte(`{"tx_hash":"0xabc"}`), nil); err != nil {
		t.Fatalf("expected approval when stdin carries the candidate, got %v", err)
	}
}

func TestScrubEnv_RemovesSecretShapedNames(t *testing.T) {
	got := ScrubEnv([]string{
		"PATH=/usr/bin",
		"SLACK_BOT_TOKEN=xoxb-123",
		"DB_PASSWORD=hunter2",
		"API_KEY=abc",
		"HOME=/root",
	})
	want := []string{"PATH=/usr/bin", "HOME=/root"}
	if len(got) != len(want) {
		t.Fatalf("ScrubEnv = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ScrubEnv = %v, want %v", got, want)
		}
	}
}

func TestRun_UnsupportedLanguage(t *testing.T) {
	spec := Spec{Path: "/dev/null", Language: "ruby"}
	if err := Run(context.Background(), spec, nil, nil); err == nil {
		t.Fatalf("expected an error for an unsupported language")
	}
}
