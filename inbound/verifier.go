package inbound

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const DefaultSignatureHeader = "X-Hub-Signature"

// HMACVerifier checks an HMAC-SHA256 signature of the raw request body.
// Secrets keyed by config id take precedence over Secret.
type HMACVerifier struct {
	Header   string
	Prefix   string
	Secret   string
	Secrets  map[string]string
	Encoding string // hex | base64
}

func NewHMACVerifier(secret string) HMACVerifier {
	return HMACVerifier{
		Header: DefaultSignatureHeader,
		Prefix: "sha256=",
		Secret: strings.TrimSpace(secret),
	}
}

func (v HMACVerifier) Verify(_ context.Context, req WebhookRequest) error {
	headerName := strings.TrimSpace(v.Header)
	if headerName == "" {
		headerName = DefaultSignatureHeader
	}
	header := headerValue(req.Headers, headerName)
	if header == "" {
		return fmt.Errorf("inbound: %s signature header is required", headerName)
	}
	secret := v.secretFor(req.ConfigID)
	if secret == "" {
		return fmt.Errorf("inbound: signature secret is required")
	}
	signature := strings.TrimSpace(strings.TrimPrefix(header, strings.TrimSpace(v.Prefix)))
	if signature == "" {
		return fmt.Errorf("inbound: signature value is required")
	}

	var (
		decoded []byte
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case "base64":
		decoded, err = base64.StdEncoding.DecodeString(signature)
		if err != nil {
			return fmt.Errorf("inbound: decode base64 signature: %w", err)
		}
	default:
		decoded, err = hex.DecodeString(signature)
		if err != nil {
			return fmt.Errorf("inbound: decode hex signature: %w", err)
		}
	}
	if subtle.ConstantTimeCompare(decoded, SignBody(secret, req.Body)) != 1 {
		return fmt.Errorf("inbound: signature verification failed")
	}
	return nil
}

func (v HMACVerifier) secretFor(configID string) string {
	if secret := strings.TrimSpace(v.Secrets[strings.TrimSpace(configID)]); secret != "" {
		return secret
	}
	return strings.TrimSpace(v.Secret)
}

// SignBody returns the raw HMAC-SHA256 of body under secret.
func SignBody(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}
