package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/Keksclan/goRawrStash/internal/config"
)

func TestNewDefaultsToStdout(t *testing.T) {
	logger, err := New(config.LogConfig{Level: "info"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatal("logger without file should write to stdout")
	}
	if logger.GetLevel() != logrus.InfoLevel {
		t.Fatalf("level = %v, want info", logger.GetLevel())
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "loud"}); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
}

func TestNewWritesJSONToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "rawrstash.log")
	logger, err := New(config.LogConfig{Level: "debug", FilePath: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = Closer(logger).Close() })

	logger.WithField("action", "test").Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file: %v", err)
	}
	line := strings.TrimSpace(string(data))
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, line)
	}
	if entry["msg"] != "hello" || entry["action"] != "test" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewFallsBackWhenDirectoryBlocked(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	// A regular file in the path makes MkdirAll fail, even as root.
	logger, err := New(config.LogConfig{Level: "info", FilePath: filepath.Join(blocker, "sub", "x.log")})
	if err != nil {
		t.Fatalf("New should not fail: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatal("fallback should write to stdout")
	}
}
