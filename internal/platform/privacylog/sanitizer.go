package privacylog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const redactedValue = "[REDACTED]"

type policy int

const (
	keep policy = iota
	redact
	fingerprint
	stripURL
)

var (
	processSalt = newSalt()

	// Exact keys that identify an account or a recipient relationship.
	fingerprintKeys = map[string]struct{}{
		"address":   {},
		"owner":     {},
		"signer":    {},
		"sender":    {},
		"reader":    {},
		"recipient": {},
		"label":     {},
	}
	secretKeyParts = []string{
		"secret", "private", "passphrase", "password", "mnemonic",
		"symmetric_key", "content_key", "token", "authorization",
	}
	urlKeys = map[string]struct{}{
		"url":          {},
		"root":         {},
		"storage_root": {},
		"metadata_url": {},
	}
)

// SanitizingHandler applies a per-key policy to every attribute: key material is
// redacted, account identifiers become per-process fingerprints, URLs lose their
// credentials and query, and raw byte payloads are reduced to their length.
type SanitizingHandler struct {
	next slog.Handler
}

func WrapHandler(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &SanitizingHandler{next: next}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(SanitizeAttr(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		clean[i] = SanitizeAttr(attr)
	}
	return &SanitizingHandler{next: h.next.WithAttrs(clean)}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name)}
}

func SanitizeAttr(attr slog.Attr) slog.Attr {
	value := attr.Value.Resolve()
	switch policyFor(attr.Key) {
	case redact:
		return slog.String(attr.Key, redactedValue)
	case fingerprint:
		return slog.String(fingerprintKey(attr.Key), Fingerprint(stringValue(value)))
	case stripURL:
		return slog.String(attr.Key, StripURL(stringValue(value)))
	}
	switch value.Kind() {
	case slog.KindGroup:
		group := value.Group()
		clean := make([]any, len(group))
		for i, a := range group {
			clean[i] = SanitizeAttr(a)
		}
		return slog.Group(attr.Key, clean...)
	case slog.KindAny:
		if b, ok := value.Any().([]byte); ok {
			return slog.Int(attr.Key+"_len", len(b))
		}
	}
	return slog.Attr{Key: attr.Key, Value: value}
}

func policyFor(key string) policy {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, part := range secretKeyParts {
		if strings.Contains(k, part) {
			return redact
		}
	}
	if _, ok := fingerprintKeys[k]; ok || strings.HasSuffix(k, "_address") {
		return fingerprint
	}
	if _, ok := urlKeys[k]; ok || strings.HasSuffix(k, "_url") {
		return stripURL
	}
	return keep
}

// Fingerprint maps a value to a short keccak tag that is stable for the lifetime
// of the process. Hex addresses are case-folded first so checksummed and lower
// case forms agree.
func Fingerprint(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	if common.IsHexAddress(v) {
		v = strings.ToLower(common.HexToAddress(v).Hex())
	}
	sum := ethcrypto.Keccak256([]byte(v), processSalt)
	return "fp_" + hex.EncodeToString(sum[:8])
}

// StripURL drops user info, query and fragment from a URL. Values that do not
// parse are redacted.
func StripURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return redactedValue
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func fingerprintKey(key string) string {
	if strings.HasSuffix(strings.ToLower(key), "_fp") {
		return key
	}
	return key + "_fp"
}

func stringValue(v slog.Value) string {
	if v.Kind() == slog.KindAny {
		if s, ok := v.Any().(interface{ Hex() string }); ok {
			return s.Hex()
		}
	}
	return v.String()
}

func newSalt() []byte {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("privacylog: no entropy for fingerprint salt: " + err.Error())
	}
	return buf
}
