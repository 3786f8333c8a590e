package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseJSONConfigSuccess(t *testing.T) {
	path := writeTempConfig(t, `{"localaddr":":1080","remoteaddr":"vps:8388","target":"example.com:80","password":"secret","method":"rc4","timeout":15}`)

	var cfg Config
	if err := parseJSONConfig(&cfg, path); err != nil {
		t.Fatalf("parseJSONConfig returned error: %v", err)
	}

	if cfg.LocalAddr != ":1080" || cfg.RemoteAddr != "vps:8388" || cfg.Target != "example.com:80" {
		t.Fatalf("unexpected addresses: %+v", cfg)
	}

	if cfg.Key != "secret" || cfg.Method != "rc4" || cfg.Timeout != 15 {
		t.Fatalf("unexpected fields: %+v", cfg)
	}
}

func TestParseJSONConfigMissingFile(t *testing.T) {
	var cfg Config
	missing := filepath.Join(t.TempDir(), "missing.json")
	if err := parseJSONConfig(&cfg, missing); err == nil {
		t.Fatalf("parseJSONConfig expected error for missing file")
	}
}

func TestConfigFillFrom(t *testing.T) {
	cli := Config{Target: "cli.example:22", Method: "chacha20"}
	file := Config{
		LocalAddr:  ":2022",
		RemoteAddr: "vps:8388",
		Target:     "file.example:22",
		Key:        "from-file",
		Method:     "rc4",
	}

	cli.fillFrom(&file)

	if cli.Target != "cli.example:22" || cli.Method != "chacha20" {
		t.Fatalf("command line values were overridden: %+v", cli)
	}
	if cli.LocalAddr != ":2022" || cli.RemoteAddr != "vps:8388" || cli.Key != "from-file" {
		t.Fatalf("unset fields were not filled: %+v", cli)
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}
