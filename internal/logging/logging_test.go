package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fetchledger/internal/config"
	"fetchledger/internal/logging"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Format = "json"
	cfg.Logging.Level = "info"

	logger, err := logging.NewFromConfig(&cfg, false)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	logger = logging.NewComponentLogger(logger, "scheduler")
	logger.Info("unit completed", logging.String(logging.FieldArtifactKey, "pkgA"), logging.Int64("bytes", 42))
	logger.Debug("suppressed")

	data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, logging.LogFileName))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), data)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["component"] != "scheduler" || payload["artifact_key"] != "pkgA" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload["level"] != "info" {
		t.Fatalf("expected lower-case level, got %v", payload["level"])
	}
}

func TestConsoleFormatSubject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Level: "info", Format: "console", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("transfer resumed",
		logging.String(logging.FieldComponent, "transfer"),
		logging.String(logging.FieldArtifactKey, "pkgB"),
		logging.Int64(logging.FieldOffset, 1024),
		logging.String(logging.FieldMirror, "https://m.example.org"),
	)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, "INFO transfer [pkgB]: transfer resumed") {
		t.Fatalf("unexpected subject: %q", line)
	}
	if !strings.Contains(line, "offset=1024") || !strings.Contains(line, "mirror=https://m.example.org") {
		t.Fatalf("missing fields: %q", line)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := logging.WithRunID(context.Background(), "run-1")
	ctx = logging.WithArtifactKey(ctx, "pkgC")
	ctx = logging.WithPass(ctx, 2)

	logging.WithContext(ctx, base).Info("hello")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["run_id"] != "run-1" || payload["artifact_key"] != "pkgC" || payload["pass"] != float64(2) {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestTeeHandlerSkipsDisabledLevels(t *testing.T) {
	var infoBuf, errBuf bytes.Buffer
	info := slog.NewTextHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	onlyErr := slog.NewTextHandler(&errBuf, &slog.HandlerOptions{Level: slog.LevelError})
	logger := slog.New(logging.TeeHandler(info, onlyErr, nil))

	logger.Info("a")
	logger.Error("b")

	if strings.Count(infoBuf.String(), "\n") != 2 {
		t.Fatalf("expected both lines in info handler: %q", infoBuf.String())
	}
	if strings.Count(errBuf.String(), "\n") != 1 {
		t.Fatalf("expected one line in error handler: %q", errBuf.String())
	}
}

func TestWarnWithContextFillsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logging.WarnWithContext(logger, "mirror failed", "mirror_failure", logging.String(logging.FieldErrorHint, "check mirror"))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["event_type"] != "mirror_failure" || payload["error_hint"] != "check mirror" || payload["impact"] == nil {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestProgressSampler(t *testing.T) {
	s := logging.NewProgressSampler(25)
	steps := []struct {
		percent float64
		phase   string
		want    bool
	}{
		{0, "pass 1", true},
		{10, "pass 1", false},
		{26, "pass 1", true},
		{30, "pass 1", false},
		{100, "pass 1", true},
		{5, "pass 2", true},
		{-1, "pass 2", false},
	}
	for i, step := range steps {
		if got := s.ShouldLog(step.percent, step.phase); got != step.want {
			t.Fatalf("step %d: got %v want %v", i, got, step.want)
		}
	}
	s.Reset()
	if !s.ShouldLog(0, "pass 2") {
		t.Fatal("expected emit after reset")
	}
}
