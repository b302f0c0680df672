package config

import (
	"os"
	"path/filepath"
	"testing"
)

// writeConfigDir lays out the networks/, monitors/ and triggers/
// directories Load reads, one JSON file each, referencing ${RPC_URL}
// and ${SLACK_HOOK}.
func writeConfigDir(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	files := map[string]string{
		"networks/evm_main.json": `{"slug":"evm_main","chain_family":"evm","endpoints":[{"url":"${RPC_URL}"}],"poll_interval_ms":1000,"max_block_range":10,"request_timeout_ms":1000}`,
		"monitors/r1.json":       `{"name":"r1","networks":["evm_main"],"match_conditions":{"events":[{"signature":"E()"}]},"triggers":["sink1"]}`,
		"triggers/sink1.json":    `{"name":"sink1","type":"slack","url":"${SLACK_HOOK}"}`,
	}
	for rel, body := range files {
		path := filepath.Join(tmp, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	return tmp
}

func TestLoadInterpolatesEnvAndValidates(t *testing.T) {
	dir := writeConfigDir(t)

	t.Setenv("RPC_URL", "http://example-rpc")
	t.Setenv("SLACK_HOOK", "https://hooks.slack.test")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("expected load to succeed: %v", err)
	}

	if got := cfg.Networks[0].Endpoints[0].URL; got != "http://example-rpc" {
		t.Fatalf("endpoint url not interpolated, got %q", got)
	}
}

func TestLoadFailsOnMissingEnv(t *testing.T) {
	dir := writeConfigDir(t)

	if _, err := Load(dir); err == nil {
		t.Fatalf("expected missing env to fail")
	}
}
