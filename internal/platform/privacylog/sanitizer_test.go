package privacylog

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode log json: %v", err)
	}
	return payload
}

func TestLoggerRedactsKeyMaterial(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, slog.LevelInfo)
	logger.Info("auth",
		"signature", "H+abc=",
		"wif", "KwDiBf89QgGbjEhKnhXJuH7LrciVrZi3qYjgd9M7rFU73sVHnoWn",
		"key_passphrase", "hunter2",
		"user_id", 42,
	)

	payload := decodeLine(t, &buf)
	for _, key := range []string{"signature", "wif", "key_passphrase"} {
		if got, _ := payload[key].(string); got != redactedValue {
			t.Fatalf("expected %s redacted, got %q", key, got)
		}
	}
	if got, _ := payload["user_id"].(float64); got != 42 {
		t.Fatalf("user_id must pass through, got %v", payload["user_id"])
	}
}

func TestLoggerFingerprintsAddresses(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, slog.LevelInfo)
	logger.Info("login", "address", "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH", "auth_state", "authenticated")

	payload := decodeLine(t, &buf)
	if _, ok := payload["address"]; ok {
		t.Fatal("address should not be present in clear")
	}
	fp, _ := payload["address_fp"].(string)
	if fp != FingerprintID("1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH") || !strings.HasPrefix(fp, "fp_") {
		t.Fatalf("unexpected fingerprint %q", fp)
	}
	if got, _ := payload["auth_state"].(string); got != "authenticated" {
		t.Fatalf("auth_state must not be redacted, got %q", got)
	}
}

func TestSanitizingHandlerCoversGroupsAndWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := WrapHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(h).With("mnemonic", "abandon abandon")
	logger.Info("nested", slog.Group("proof", slog.String("address", "1abc"), slog.String("signature", "sig")))

	out := buf.String()
	if strings.Contains(out, "abandon") || strings.Contains(out, `"sig"`) || strings.Contains(out, "1abc") {
		t.Fatalf("secret leaked: %s", out)
	}
	if !strings.Contains(out, "address_fp") {
		t.Fatalf("expected fingerprinted address inside group, got %s", out)
	}
}

func TestSanitizingHandlerImplementsSlogHandlerContract(t *testing.T) {
	var buf bytes.Buffer
	h := WrapHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info must be disabled at warn level")
	}
	rec := slog.NewRecord(time.Now().UTC(), slog.LevelWarn, "msg", 0)
	rec.AddAttrs(slog.String("challenge", "deadbeef"))
	if err := h.Handle(context.Background(), rec); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if !strings.Contains(buf.String(), "challenge_fp") {
		t.Fatalf("expected sanitized challenge key, got %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo, "bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("%q: expected %v, got %v", in, want, got)
		}
	}
}
