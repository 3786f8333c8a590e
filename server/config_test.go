package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseJSONConfigSuccess(t *testing.T) {
	path := writeTempConfig(t, `{"server":["0.0.0.0","::"],"server_port":"8388","password":"secret","method":"rc4","timeout":30,"quiet":true}`)

	var cfg Config
	if err := parseJSONConfig(&cfg, path); err != nil {
		t.Fatalf("parseJSONConfig returned error: %v", err)
	}

	if len(cfg.Server) != 2 || cfg.Server[0] != "0.0.0.0" || cfg.ServerPort != "8388" {
		t.Fatalf("unexpected addresses: %+v", cfg)
	}

	if cfg.Key != "secret" || cfg.Method != "rc4" {
		t.Fatalf("expected key and method to be populated: %+v", cfg)
	}

	if cfg.Timeout != 30 || !cfg.Quiet {
		t.Fatalf("unexpected numeric or boolean fields: %+v", cfg)
	}
}

func TestParseJSONConfigMissingFile(t *testing.T) {
	var cfg Config
	missing := filepath.Join(t.TempDir(), "missing.json")
	if err := parseJSONConfig(&cfg, missing); err == nil {
		t.Fatalf("parseJSONConfig expected error for missing file")
	}
}

// Command-line values must win over the config file; the file only
// fills what the command line left unset.
func TestConfigFillFrom(t *testing.T) {
	cli := Config{ServerPort: "9000", Method: "chacha20"}
	file := Config{
		Server:     []string{"10.0.0.1"},
		ServerPort: "8388",
		Key:        "from-file",
		Method:     "rc4",
		Timeout:    30,
	}

	cli.fillFrom(&file)

	if cli.ServerPort != "9000" || cli.Method != "chacha20" {
		t.Fatalf("command line values were overridden: %+v", cli)
	}
	if len(cli.Server) != 1 || cli.Key != "from-file" || cli.Timeout != 30 {
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
