package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	Info().Str("user_id", "u1").Msg("client authenticated")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["message"] != "client authenticated" {
		t.Errorf("unexpected message field: %v", entry["message"])
	}
	if entry["user_id"] != "u1" {
		t.Errorf("unexpected user_id field: %v", entry["user_id"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	Info().Msg("dropped")
	Warn().Msg("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestCtxAddsConnID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	ctx := ContextWithConnID(context.Background(), "c-42")
	Ctx(ctx).Info().Msg("hello")

	if !strings.Contains(buf.String(), `"conn_id":"c-42"`) {
		t.Errorf("conn_id not present in %q", buf.String())
	}
	if got := ConnIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty conn id, got %q", got)
	}
}
