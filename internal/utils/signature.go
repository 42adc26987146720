package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// ComputeWebhookSignature returns the base64 HMAC-SHA256 of a raw
// webhook body under the shared secret, the scheme Shopify uses for
// the X-Shopify-Hmac-Sha256 header.
func ComputeWebhookSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks a webhook signature header against the
// raw body in constant time. An empty header never verifies.
func VerifyWebhookSignature(body []byte, header, secret string) bool {
	if header == "" {
		return false
	}
	expected := ComputeWebhookSignature(body, secret)
	return hmac.Equal([]byte(expected), []byte(header))
}
