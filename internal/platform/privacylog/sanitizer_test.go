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

func TestSanitizingHandlerRedactsSecretsAndFingerprintsVisitors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(WrapHandler(slog.NewJSONHandler(&buf, nil)))
	logger.Info("test",
		"run", "12345678-9",
		"nonce", "abc123xyz9",
		"x-hash-seguridad", "deadbeef",
		"signing_key", "k",
		"reason", "NONCE_REUSED",
	)

	payload := decodeLine(t, &buf)
	for _, plain := range []string{"run", "nonce"} {
		if _, ok := payload[plain]; ok {
			t.Fatalf("%s must not be logged in clear", plain)
		}
		fp, _ := payload[plain+"_fp"].(string)
		if !strings.HasPrefix(fp, "fp_") {
			t.Fatalf("expected fingerprint for %s, got %q", plain, fp)
		}
	}
	for _, secret := range []string{"x-hash-seguridad", "signing_key"} {
		if got, _ := payload[secret].(string); got != redactedValue {
			t.Fatalf("expected %s redacted, got %q", secret, got)
		}
	}
	if payload["reason"] != "NONCE_REUSED" {
		t.Fatalf("reason must pass through, got %v", payload["reason"])
	}
	if strings.Contains(buf.String(), "12345678-9") {
		t.Fatal("raw visitor identifier leaked")
	}
}

func TestSanitizingHandlerAppliesToGroupsAndWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(WrapHandler(slog.NewJSONHandler(&buf, nil))).With("num_doc", "A123")
	logger.Info("test", slog.Group("visit", slog.String("run", "1-9"), slog.String("tipo", "entrada")))

	payload := decodeLine(t, &buf)
	if _, ok := payload["num_doc_fp"]; !ok {
		t.Fatalf("expected fingerprint from With attrs, got %v", payload)
	}
	group, _ := payload["visit"].(map[string]any)
	if _, ok := group["run_fp"]; !ok || group["tipo"] != "entrada" {
		t.Fatalf("unexpected group %v", group)
	}
}

func TestSanitizingHandlerAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	h := WrapHandler(slog.NewJSONHandler(&buf, nil))
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("expected handler enabled for info")
	}
	ctx := WithRequestID(context.Background(), "req-1")
	rec := slog.NewRecord(time.Now().UTC(), slog.LevelInfo, "msg", 0)
	if err := h.Handle(ctx, rec); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if payload := decodeLine(t, &buf); payload["request_id"] != "req-1" {
		t.Fatalf("expected request_id, got %v", payload)
	}
	if RequestID(context.Background()) != "" {
		t.Fatal("empty context must carry no request id")
	}
}

func TestFingerprintIDIsStableAndOpaque(t *testing.T) {
	a := FingerprintID(" 12345678-9 ")
	b := FingerprintID("12345678-9")
	if a != b || a == "" || strings.Contains(a, "12345678") {
		t.Fatalf("unexpected fingerprints %q %q", a, b)
	}
	if FingerprintID("  ") != "" {
		t.Fatal("blank values must map to empty fingerprint")
	}
}
