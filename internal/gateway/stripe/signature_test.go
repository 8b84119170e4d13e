package stripe

import (
	"testing"
	"time"
)

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"invoice.payment_succeeded","data":{"object":{}}}`)
	now := time.Now().UTC()

	verifier := NewVerifier(secret)
	header := SignPayload(secret, payload, now)

	if err := verifier.Verify(payload, header, now); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	if err := verifier.Verify(payload, SignPayload("whsec_wrong", payload, now), now); err == nil {
		t.Fatalf("expected invalid signature error")
	}

	if err := verifier.Verify([]byte(`{"tampered":true}`), header, now); err == nil {
		t.Fatalf("expected invalid signature for tampered payload")
	}
}

func TestVerifyRejectsOldTimestamp(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{}`)
	signedAt := time.Now().UTC().Add(-time.Hour)

	verifier := NewVerifier(secret)
	header := SignPayload(secret, payload, signedAt)

	if err := verifier.Verify(payload, header, time.Now().UTC()); err == nil {
		t.Fatalf("expected replayed signature to be rejected")
	}
}

func TestVerifyRejectsMalformedHeader(t *testing.T) {
	verifier := NewVerifier("whsec_test")
	now := time.Now().UTC()

	for _, header := range []string{"", "t=123", "v1=abcd", "garbage"} {
		if err := verifier.Verify([]byte(`{}`), header, now); err == nil {
			t.Fatalf("expected header %q to be rejected", header)
		}
	}
}
