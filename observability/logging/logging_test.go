package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetupEmitsRenamedKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Options{Service: "lnsim", Env: "test", Level: "debug", Writer: &buf})
	logger.Debug("hello", MaskField("preimage", "abcd"), MaskField("channel", "1x0x0"), ShortHash("payment_hash", "ff"))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	for key, want := range map[string]string{
		"message":      "hello",
		"severity":     "DEBUG",
		"service":      "lnsim",
		"env":          "test",
		"preimage":     RedactedValue,
		"payment_hash": "ff",
		"channel":      "1x0x0",
	} {
		if got := record[key]; got != want {
			t.Fatalf("expected %s=%q, got %v", key, want, got)
		}
	}
	if _, ok := record["timestamp"]; !ok {
		t.Fatalf("expected timestamp key")
	}
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Options{Service: "lnsim", Level: "warn", Writer: &buf})
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn level")
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("expected unknown level to default to info")
	}
}

func TestEmptyValuesAreNotMasked(t *testing.T) {
	attr := MaskField("secret", " ")
	if attr.Value.String() != " " {
		t.Fatalf("expected empty value to pass through, got %q", attr.Value.String())
	}
}

func TestShortHash(t *testing.T) {
	full := "00112233445566778899aabbccddeeff"
	if got := ShortHash("payment_hash", full).Value.String(); got != "0011223344556677" {
		t.Fatalf("expected abbreviated hash, got %q", got)
	}
	if !IsSensitive(" Payment_Secret ") {
		t.Fatalf("expected payment_secret to be sensitive")
	}
}
