// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestConfigureSlogFormats(t *testing.T) {
	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "debug", "json")
	logger.Debug("hello", "k", "v")
	if !strings.Contains(buf.String(), `"k":"v"`) {
		t.Errorf("expected json output, got %q", buf.String())
	}

	buf.Reset()
	logger = ConfigureSlog(&buf, "warn", "text")
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info should be suppressed at warn level, got %q", buf.String())
	}
	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn should pass, got %q", buf.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitNoneIsNoop(t *testing.T) {
	shutdown, err := Init("kirox-memory-test", "0.0.0", Config{Exporter: "none"})
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}

func TestInitRejectsUnknownExporter(t *testing.T) {
	if _, err := Init("kirox-memory-test", "0.0.0", Config{Exporter: "bogus"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
	if _, err := Init("kirox-memory-test", "0.0.0", Config{Exporter: "otlp"}); err == nil {
		t.Fatal("expected error for missing otlp endpoint")
	}
}

func TestPipelineMetricsNilSafe(t *testing.T) {
	var m *PipelineMetrics
	ctx := context.Background()
	m.RecordBatch(ctx, 3)
	m.RecordEmbedRequest(ctx, "")
	m.RecordQueueDepth(ctx, 1)
	m.RecordFlush(ctx, "chat_memory", nil)
	m.RecordSearch(ctx, "chat_memory", time.Millisecond)
	m.RecordInsert(ctx, "chat_memory")
}
