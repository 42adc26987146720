package utils

import "testing"

func TestWebhookSignature(t *testing.T) {
	body := []byte(`{"id": 123, "name": "#1042"}`)
	secret := "shpss_test_secret"

	sig := ComputeWebhookSignature(body, secret)
	if sig == "" {
		t.Fatal("signature should not be empty")
	}

	if !VerifyWebhookSignature(body, sig, secret) {
		t.Error("valid signature should verify")
	}

	// Wrong secret
	if VerifyWebhookSignature(body, sig, "other-secret") {
		t.Error("signature must not verify under a different secret")
	}

	// Tampered body
	if VerifyWebhookSignature([]byte(`{"id": 124}`), sig, secret) {
		t.Error("signature must not verify for a different body")
	}

	// Missing header
	if VerifyWebhookSignature(body, "", secret) {
		t.Error("empty header must never verify")
	}
}
