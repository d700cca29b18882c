package auth

import (
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

const testSecret = "test-hmac-secret-at-least-32-chars!!"

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSignVerify_RoundTrip(t *testing.T) {
	signer := NewSigner(testSecret)
	verifier := NewVerifier(testSecret)

	sig, payload := signer.Sign()
	if err := verifier.Verify(sig, payload); err != nil {
		t.Fatalf("expected valid signature to verify, got %v", err)
	}
}

func TestVerify_FreshnessBoundary(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := NewSigner(testSecret)
	verifier := NewVerifier(testSecret)
	verifier.now = fixedClock(now)

	tests := []struct {
		name    string
		age     time.Duration
		wantErr bool
	}{
		{"just inside window", 59999 * time.Millisecond, false},
		{"exactly at window", 60000 * time.Millisecond, false},
		{"just outside window", 60001 * time.Millisecond, true},
		{"future within window", -59999 * time.Millisecond, false},
		{"future outside window", -60001 * time.Millisecond, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer.now = fixedClock(now.Add(-tt.age))
			sig, payload := signer.Sign()
			err := verifier.Verify(sig, payload)
			if tt.wantErr && err == nil {
				t.Errorf("expected rejection for token aged %v", tt.age)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected acceptance for token aged %v, got %v", tt.age, err)
			}
		})
	}
}

func TestVerify_UniformFailures(t *testing.T) {
	signer := NewSigner(testSecret)
	verifier := NewVerifier(testSecret)
	sig, payload := signer.Sign()

	tests := []struct {
		name      string
		signature string
		payload   string
	}{
		{"missing signature", "", payload},
		{"missing payload", sig, ""},
		{"non-numeric payload", sig, "not-a-timestamp"},
		{"tampered signature", sig[:len(sig)-1] + "0", payload},
		{"wrong secret", func() string {
			s, _ := NewSigner("another-secret-that-is-long-enough!!").Sign()
			return s
		}(), payload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifier.Verify(tt.signature, tt.payload)
			if err != ErrUnauthenticated {
				t.Errorf("expected ErrUnauthenticated, got %v", err)
			}
		})
	}
}

func TestVerify_TamperedEqualsMissing(t *testing.T) {
	signer := NewSigner(testSecret)
	verifier := NewVerifier(testSecret)
	sig, payload := signer.Sign()

	tampered := verifier.Verify("deadbeef"+sig[8:], payload)
	missing := verifier.Verify("", payload)
	if tampered != missing {
		t.Errorf("tampered (%v) and missing (%v) signatures must fail identically", tampered, missing)
	}
}

func TestSignRequest_VerifyRequest(t *testing.T) {
	signer := NewSigner(testSecret)
	verifier := NewVerifier(testSecret)

	req := httptest.NewRequest("POST", "http://example.com/agents/internal", nil)
	signer.SignRequest(req)

	if err := verifier.VerifyRequest(req); err != nil {
		t.Fatalf("signed request failed verification: %v", err)
	}
}

func TestVerifyQuery(t *testing.T) {
	signer := NewSigner(testSecret)
	verifier := NewVerifier(testSecret)
	sig, payload := signer.Sign()

	req := httptest.NewRequest("GET",
		"http://example.com/ws/secure/interact/abc?x-signature="+sig+"&x-payload="+payload, nil)
	if err := verifier.VerifyQuery(req); err != nil {
		t.Fatalf("query verification failed: %v", err)
	}

	req = httptest.NewRequest("GET", "http://example.com/ws/secure/interact/abc", nil)
	if err := verifier.VerifyQuery(req); err != ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated for missing query params, got %v", err)
	}
}

func TestVerify_PayloadMustMatchSignature(t *testing.T) {
	signer := NewSigner(testSecret)
	verifier := NewVerifier(testSecret)

	sig, _ := signer.Sign()
	// Fresh token but the signature was computed over a different payload.
	other := strconv.FormatInt(time.Now().UnixMilli()+5, 10)
	if err := verifier.Verify(sig, other); err != ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated for payload/signature mismatch, got %v", err)
	}
}
