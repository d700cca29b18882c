package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// Header and query-parameter names carrying the request signature and its
// freshness token (Unix milliseconds).
const (
	SignatureHeader = "X-Signature"
	PayloadHeader   = "X-Payload"
	SignatureParam  = "x-signature"
	PayloadParam    = "x-payload"
)

// FreshnessWindow is the maximum absolute age of a freshness token, in either
// direction, to tolerate clock skew between peers.
const FreshnessWindow = 60 * time.Second

// ErrUnauthenticated is returned for every signed-transport verification
// failure. The reason is deliberately not disclosed.
var ErrUnauthenticated = errors.New("authentication failed")

// Signer produces signed request metadata for outbound calls.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer over a shared secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// Sign returns the signature and freshness token for the current time.
func (s *Signer) Sign() (signature, payload string) {
	payload = strconv.FormatInt(s.now().UnixMilli(), 10)
	return computeSignature(s.secret, payload), payload
}

// SignRequest attaches signed headers to an outbound HTTP request.
func (s *Signer) SignRequest(req *http.Request) {
	sig, payload := s.Sign()
	req.Header.Set(SignatureHeader, sig)
	req.Header.Set(PayloadHeader, payload)
}

// Verifier validates inbound signed requests.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a Verifier over a shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Verify checks a signature against its freshness token. Every failure mode
// (missing values, non-numeric token, stale token, signature mismatch) yields
// the same ErrUnauthenticated.
func (v *Verifier) Verify(signature, payload string) error {
	if len(v.secret) == 0 || signature == "" || payload == "" {
		return ErrUnauthenticated
	}

	ts, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return ErrUnauthenticated
	}

	age := v.now().UnixMilli() - ts
	if age < 0 {
		age = -age
	}
	if age > FreshnessWindow.Milliseconds() {
		return ErrUnauthenticated
	}

	expected := computeSignature(v.secret, payload)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrUnauthenticated
	}
	return nil
}

// VerifyRequest validates the signed headers of an inbound HTTP request.
func (v *Verifier) VerifyRequest(req *http.Request) error {
	return v.Verify(req.Header.Get(SignatureHeader), req.Header.Get(PayloadHeader))
}

// VerifyQuery validates signature and token carried as query parameters, as
// used during WebSocket connection establishment where custom headers are not
// available to browsers.
func (v *Verifier) VerifyQuery(req *http.Request) error {
	q := req.URL.Query()
	return v.Verify(q.Get(SignatureParam), q.Get(PayloadParam))
}

func computeSignature(secret []byte, payload string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
