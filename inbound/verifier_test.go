package inbound

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func TestHMACVerifier_AcceptsValidHexSignature(t *testing.T) {
	body := []byte(`{"webhookEvent":"jira:issue_updated"}`)
	verifier := NewHMACVerifier("secret")
	err := verifier.Verify(context.Background(), WebhookRequest{
		Headers: map[string]string{"x-hub-signature": "sha256=" + hex.EncodeToString(SignBody("secret", body))},
		Body:    body,
	})
	if err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestHMACVerifier_RejectsTamperedBody(t *testing.T) {
	signature := hex.EncodeToString(SignBody("secret", []byte(`{"a":1}`)))
	verifier := NewHMACVerifier("secret")
	err := verifier.Verify(context.Background(), WebhookRequest{
		Headers: map[string]string{"X-Hub-Signature": "sha256=" + signature},
		Body:    []byte(`{"a":2}`),
	})
	if err == nil {
		t.Fatalf("expected tampered body to fail verification")
	}
}

func TestHMACVerifier_RequiresHeaderAndSecret(t *testing.T) {
	if err := NewHMACVerifier("secret").Verify(context.Background(), WebhookRequest{Body: []byte(`{}`)}); err == nil {
		t.Fatalf("expected missing header error")
	}
	err := NewHMACVerifier("").Verify(context.Background(), WebhookRequest{
		Headers: map[string]string{"X-Hub-Signature": "sha256=00"},
		Body:    []byte(`{}`),
	})
	if err == nil {
		t.Fatalf("expected missing secret error")
	}
}

func TestHMACVerifier_PerConfigSecretAndBase64(t *testing.T) {
	body := []byte(`{"eventType":"page_created"}`)
	verifier := HMACVerifier{
		Header:   "X-Signature",
		Secret:   "fallback",
		Secrets:  map[string]string{"cfg_conf": "confluence-secret"},
		Encoding: "base64",
	}
	signature := base64.StdEncoding.EncodeToString(SignBody("confluence-secret", body))
	if err := verifier.Verify(context.Background(), WebhookRequest{
		ConfigID: "cfg_conf",
		Headers:  map[string]string{"X-Signature": signature},
		Body:     body,
	}); err != nil {
		t.Fatalf("expected per-config secret to verify, got %v", err)
	}
	if err := verifier.Verify(context.Background(), WebhookRequest{
		ConfigID: "cfg_other",
		Headers:  map[string]string{"X-Signature": signature},
		Body:     body,
	}); err == nil {
		t.Fatalf("expected fallback secret to reject signature")
	}
}
