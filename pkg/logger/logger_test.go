package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// capture points the global logger at a buffer for one test
func capture(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Init(Config{Level: level, Format: "json", TimeFormat: time.RFC3339, Output: &buf})
	t.Cleanup(func() { Init(Config{Level: "error", Format: "json"}) })
	return &buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("failed to parse log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestDefaultConfig(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
		want   Config
	}{
		{"defaults", "", "", Config{Level: "info", Format: "json"}},
		{"overrides", "debug", "console", Config{Level: "debug", Format: "console"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.level)
			t.Setenv("LOG_FORMAT", tt.format)

			cfg := DefaultConfig()
			if cfg.Level != tt.want.Level || cfg.Format != tt.want.Format {
				t.Errorf("expected %s/%s, got %s/%s", tt.want.Level, tt.want.Format, cfg.Level, cfg.Format)
			}
			if cfg.TimeFormat != time.RFC3339 {
				t.Errorf("expected RFC3339 time format, got %s", cfg.TimeFormat)
			}
		})
	}
}

func TestInit_JSONFields(t *testing.T) {
	buf := capture(t, "info")

	Log.Info().Str("slot_type", "SEARCH_TOP").Msg("auction complete")

	entries := lines(t, buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 line, got %d", len(entries))
	}
	e := entries[0]
	if e["service"] != "adslot" {
		t.Errorf("expected service adslot, got %v", e["service"])
	}
	if e["message"] != "auction complete" || e["slot_type"] != "SEARCH_TOP" {
		t.Errorf("unexpected entry %v", e)
	}
	if _, ok := e["time"]; !ok {
		t.Error("expected timestamp")
	}
}

func TestInit_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  int // lines written for one debug, info, warn and error each
	}{
		{"debug", 4},
		{"info", 3},
		{"warn", 2},
		{"error", 1},
		{"nonsense", 3}, // falls back to info
		{"", 3},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf := capture(t, tt.level)
			Log.Debug().Msg("d")
			Log.Info().Msg("i")
			Log.Warn().Msg("w")
			Log.Error().Msg("e")

			if got := len(lines(t, buf)); got != tt.want {
				t.Errorf("expected %d lines, got %d", tt.want, got)
			}
		})
	}
}

func TestInit_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "console", TimeFormat: time.Kitchen, Output: &buf})
	t.Cleanup(func() { Init(Config{Level: "error", Format: "json"}) })

	Log.Info().Msg("wallet opened")

	out := buf.String()
	if !strings.Contains(out, "wallet opened") {
		t.Errorf("expected message in console output, got %q", out)
	}
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Error("expected human-readable output, got JSON")
	}
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		requestID interface{}
		auctionID interface{}
	}{
		{"empty", context.Background(), nil, nil},
		{"request id", WithRequestID(context.Background(), "req-1"), "req-1", nil},
		{"both", WithAuctionID(WithRequestID(context.Background(), "req-1"), "auc-1"), "req-1", "auc-1"},
		{"blank ignored", WithRequestID(context.Background(), ""), nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := capture(t, "info")
			FromContext(tt.ctx).Info().Msg("x")

			e := lines(t, buf)[0]
			if e["request_id"] != tt.requestID {
				t.Errorf("expected request_id %v, got %v", tt.requestID, e["request_id"])
			}
			if e["auction_id"] != tt.auctionID {
				t.Errorf("expected auction_id %v, got %v", tt.auctionID, e["auction_id"])
			}
		})
	}
}

func TestScopedLoggers(t *testing.T) {
	buf := capture(t, "info")

	Auction("auc-9").Info().Msg("a")
	Wallet("adv-1").Info().Msg("w")
	Analytics().Info().Msg("an")

	entries := lines(t, buf)
	if len(entries) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(entries))
	}
	if entries[0]["auction_id"] != "auc-9" {
		t.Errorf("expected auction_id auc-9, got %v", entries[0]["auction_id"])
	}
	if entries[1]["component"] != "wallet" || entries[1]["advertiser_id"] != "adv-1" {
		t.Errorf("unexpected wallet entry %v", entries[1])
	}
	if entries[2]["component"] != "analytics" {
		t.Errorf("expected analytics component, got %v", entries[2]["component"])
	}
}
