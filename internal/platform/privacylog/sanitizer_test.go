package privacylog

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode log json: %v", err)
	}
	return payload
}

func TestSanitizingHandlerRedactsKeyMaterial(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(WrapHandler(slog.NewJSONHandler(&buf, nil)))
	logger.Info("test",
		"sender", "0x5409ED021D9299bf6814279A6A1411A7e866A631",
		"label", "ciphertexts/maSOy0P21/5oc4m0MEOKMwOKYWGrC770uXnZUX+bIQk=",
		"symmetric_key", "00112233",
		"shared_secret", "ff",
		"wallet_passphrase", "hunter2",
		"path", "account/name",
	)

	payload := decodeLine(t, &buf)
	for _, key := range []string{"sender", "label"} {
		if _, ok := payload[key]; ok {
			t.Fatalf("%s should not be present", key)
		}
		if got, _ := payload[key+"_fp"].(string); !strings.HasPrefix(got, "fp_") {
			t.Fatalf("expected %s_fp fingerprint, got %q", key, got)
		}
	}
	for _, key := range []string{"symmetric_key", "shared_secret", "wallet_passphrase"} {
		if got, _ := payload[key].(string); got != redactedValue {
			t.Fatalf("expected %s redacted, got %q", key, got)
		}
	}
	if got, _ := payload["path"].(string); got != "account/name" {
		t.Fatalf("expected path untouched, got %q", got)
	}
}

func TestSanitizingHandlerStripsURLsAndPayloads(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(WrapHandler(slog.NewJSONHandler(&buf, nil)))
	logger.Info("fetch",
		"url", "https://user:pw@storage.example.com/root/account/name?sig=abc#x",
		"metadata_url", "::bad",
		"data", []byte("plaintext name"),
	)

	payload := decodeLine(t, &buf)
	if got, _ := payload["url"].(string); got != "https://storage.example.com/root/account/name" {
		t.Fatalf("unexpected url: %q", got)
	}
	if got, _ := payload["metadata_url"].(string); got != redactedValue {
		t.Fatalf("expected unparsable url redacted, got %q", got)
	}
	if _, ok := payload["data"]; ok {
		t.Fatal("raw bytes should not be logged")
	}
	if got, _ := payload["data_len"].(float64); got != float64(len("plaintext name")) {
		t.Fatalf("unexpected data_len: %v", payload["data_len"])
	}
}

func TestSanitizingHandlerCoversGroupsAndWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(WrapHandler(slog.NewJSONHandler(&buf, nil))).
		With("owner", common.HexToAddress("0x01"))
	logger.Info("write", slog.Group("wallet", slog.String("mnemonic", "abandon"), slog.Int("accounts", 2)))

	payload := decodeLine(t, &buf)
	if _, ok := payload["owner_fp"]; !ok {
		t.Fatalf("expected owner fingerprint, got %v", payload)
	}
	group, ok := payload["wallet"].(map[string]any)
	if !ok {
		t.Fatalf("expected wallet group, got %v", payload["wallet"])
	}
	if group["mnemonic"] != redactedValue || group["accounts"] != float64(2) {
		t.Fatalf("unexpected group: %v", group)
	}
}

func TestSanitizingHandlerImplementsSlogHandlerContract(t *testing.T) {
	var buf bytes.Buffer
	h := WrapHandler(slog.NewJSONHandler(&buf, nil))
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("expected handler enabled for info")
	}
	rec := slog.NewRecord(time.Now().UTC(), slog.LevelInfo, "msg", 0)
	rec.AddAttrs(slog.String("recipient_address", "0x01"))
	if err := h.Handle(context.Background(), rec); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if !strings.Contains(buf.String(), "recipient_address_fp") {
		t.Fatalf("expected sanitized recipient_address key, got %s", buf.String())
	}
}

func TestFingerprintFoldsAddressCase(t *testing.T) {
	checksummed := "0x5409ED021D9299bf6814279A6A1411A7e866A631"
	if Fingerprint(checksummed) != Fingerprint(strings.ToLower(checksummed)) {
		t.Fatal("address fingerprints should ignore case")
	}
	if Fingerprint(" x ") != Fingerprint("x") {
		t.Fatal("fingerprint should ignore surrounding whitespace")
	}
	if Fingerprint("") != "" {
		t.Fatal("empty values should stay empty")
	}
}

func TestNewLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}
