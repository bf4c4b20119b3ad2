package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// executeValidateCmd runs the validate command with the given arguments
// and returns captured stdout and any error.
func executeValidateCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	// capture stdout
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	rootCmd.SetArgs(append([]string{"validate"}, args...))
	err := rootCmd.Execute()

	// restore stdout
	_ = w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)

	return buf.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestRunValidate_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
port: 8080
session_id: abc123
osc:
  host: 127.0.0.1
  port: 9001
chatbox_cooldown: 5s
`)

	output, err := executeValidateCmd(t, "-c", configPath, "--print=false")
	if err != nil {
		t.Fatalf("validate command error = %v", err)
	}

	expectedPhrases := []string{
		"Config is valid!",
		"Port:       8080",
		"Session:    abc123",
		"OSC target: 127.0.0.1:9001",
		"Cooldown:   5s",
	}

	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("output missing %q\nGot: %s", phrase, output)
		}
	}
	if strings.Contains(output, "---") {
		t.Errorf("output should not include effective config without --print\nGot: %s", output)
	}
}

func TestRunValidate_NoSession(t *testing.T) {
	configPath := writeConfig(t, "port: 0\n")

	output, err := executeValidateCmd(t, "-c", configPath, "--print=false")
	if err != nil {
		t.Fatalf("validate command error = %v", err)
	}
	if !strings.Contains(output, "waiting for /api/session") {
		t.Errorf("output should note the idle start\nGot: %s", output)
	}
}

func TestRunValidate_PrintEffective(t *testing.T) {
	configPath := writeConfig(t, "session_id: abc123\n")

	output, err := executeValidateCmd(t, "-c", configPath, "--print")
	if err != nil {
		t.Fatalf("validate command error = %v", err)
	}

	for _, phrase := range []string{
		"---",
		"session_id: abc123",
		"watchdog_interval: 1m0s",
		"liveness_interval: 30s",
		"restart_delay: 3s",
		"host: localhost",
	} {
		if !strings.Contains(output, phrase) {
			t.Errorf("output missing %q\nGot: %s", phrase, output)
		}
	}
}

func TestRunValidate_InvalidConfig(t *testing.T) {
	configPath := writeConfig(t, `
port: 8080
liveness_interval: 10ms
`)

	_, err := executeValidateCmd(t, "-c", configPath, "--print=false")
	if err == nil {
		t.Fatal("validate command expected error for invalid config, got nil")
	}

	if !strings.Contains(err.Error(), "liveness_interval must be at least") {
		t.Errorf("error should mention the liveness interval, got: %v", err)
	}
}

func TestRunValidate_MissingFile(t *testing.T) {
	_, err := executeValidateCmd(t, "-c", "/nonexistent/path/config.yaml", "--print=false")
	if err == nil {
		t.Fatal("validate command expected error for missing file, got nil")
	}

	if !strings.Contains(err.Error(), "failed to read") {
		t.Errorf("error should mention 'failed to read', got: %v", err)
	}
}
