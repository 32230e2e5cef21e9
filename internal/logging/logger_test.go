package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestLevelFromString(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := levelFromString(in).Level(); got != want {
			t.Errorf("levelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewTagsServiceAndFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "ride-api", "warn")
	logger.Info("dropped")
	logger.Warn("kept", "ride_id", "r1")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected one record, got %d: %s", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal(lines[0], &rec); err != nil {
		t.Fatal(err)
	}
	if rec["service"] != "ride-api" || rec["msg"] != "kept" || rec["ride_id"] != "r1" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestFromContextAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, "ride-api", "info")

	FromContext(context.Background(), base).Info("plain")
	FromContext(WithRequestID(context.Background(), "req-42"), base).Info("tagged")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected two records, got %d", len(lines))
	}
	var plain, tagged map[string]any
	if err := json.Unmarshal(lines[0], &plain); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(lines[1], &tagged); err != nil {
		t.Fatal(err)
	}
	if _, ok := plain["request_id"]; ok {
		t.Fatalf("untagged context leaked a request id: %v", plain)
	}
	if tagged["request_id"] != "req-42" {
		t.Fatalf("expected request_id req-42, got %v", tagged)
	}
	if RequestID(WithRequestID(context.Background(), "")) != "" {
		t.Fatal("empty id should not be stored")
	}
}
