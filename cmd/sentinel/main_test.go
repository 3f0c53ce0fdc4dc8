package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonny/sentinel/internal/config"
)

func TestBuildLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.log")
	logger, closer := buildLogger(config.LoggingConfig{Level: "debug", Format: "json", Output: path, MaxSizeMB: 1})
	logger.Debug("hello", "k", "v")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log file = %s", data)
	}
}

func TestBuildLogger_LevelFilter(t *testing.T) {
	logger, _ := buildLogger(config.LoggingConfig{Level: "warn", Format: "text", Output: "stderr"})
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be disabled at warn level")
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--json"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), `"version":"dev"`) {
		t.Errorf("output = %s", out.String())
	}
}

func TestMigrateAndSeed(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := "api:\n  tokens:\n    - token: t\ndatabase:\n  sqlite:\n    path: " + filepath.Join(dir, "s.db") + "\n"
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	run := func(args ...string) string {
		t.Helper()
		cmd := newRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs(append(args, "--config", cfgPath))
		if err := cmd.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		return out.String()
	}

	if got := run("migrate"); !strings.Contains(got, "applied migration 001") {
		t.Errorf("first migrate = %q", got)
	}
	if got := run("migrate"); !strings.Contains(got, "up to date") {
		t.Errorf("second migrate = %q", got)
	}
	got := run("honeytoken", "seed", "--type", "email", "--table", "users", "--column", "email", "--value", "trap@example.com")
	if !strings.Contains(got, "users.email") || !strings.Contains(got, "trap@example.com") {
		t.Errorf("seed = %q", got)
	}
}
