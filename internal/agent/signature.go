package agent

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	signatureVersion = "v1"
	defaultClockSkew = 5 * time.Minute
	timeFormat       = time.RFC3339Nano
)

// canonicalRequest must match the server-side signer exactly: fixed order,
// fixed delimiter, params reduced to their SHA-256 digest.
func canonicalRequest(module, action string, params []byte, nonce, ts string) string {
	sum := sha256.Sum256(params)
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s", signatureVersion, module, action, hex.EncodeToString(sum[:]), nonce, ts)
}

func signHMACSHA256(secret []byte, msg string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func verifyHMACBase64(secret []byte, msg, b64sig string) (bool, error) {
	got, err := base64.StdEncoding.DecodeString(b64sig)
	if err != nil {
		return false, fmt.Errorf("invalid signature encoding: %w", err)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(msg))
	return hmac.Equal(mac.Sum(nil), got), nil
}

// SignRequest fills in the timestamp, nonce and signature of req.
func SignRequest(secret []byte, req *ActionRequest, nonce string, now time.Time) {
	req.Nonce = nonce
	req.Timestamp = now.UTC().Format(time.RFC3339)
	req.Signature = signHMACSHA256(secret, canonicalRequest(req.Module, req.Action, req.Params, req.Nonce, req.Timestamp))
}

// Verifier checks request signatures and rejects replayed nonces.
type Verifier struct {
	secret []byte
	skew   time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewVerifier returns a Verifier for secret. A nil Verifier accepts everything.
func NewVerifier(secret []byte) *Verifier {
	if len(secret) == 0 {
		return nil
	}
	return &Verifier{
		secret: secret,
		skew:   defaultClockSkew,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// Verify returns nil when req carries a fresh, correctly signed envelope.
func (v *Verifier) Verify(req *ActionRequest) error {
	if v == nil {
		return nil
	}
	if req.Nonce == "" || req.Signature == "" {
		return errors.New("request is not signed")
	}
	ts, err := time.Parse(time.RFC3339, req.Timestamp)
	if err != nil {
		return errors.New("bad timestamp format")
	}
	now := v.now().UTC()
	if ts.Before(now.Add(-v.skew)) || ts.After(now.Add(v.skew)) {
		return errors.New("timestamp outside allowed skew")
	}

	msg := canonicalRequest(req.Module, req.Action, req.Params, req.Nonce, req.Timestamp)
	ok, err := verifyHMACBase64(v.secret, msg, req.Signature)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("HMAC mismatch")
	}
	return v.remember(req.Nonce, now)
}

func (v *Verifier) remember(nonce string, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	for n, at := range v.seen {
		if now.Sub(at) > 2*v.skew {
			delete(v.seen, n)
		}
	}
	if _, dup := v.seen[nonce]; dup {
		return errors.New("nonce already used")
	}
	v.seen[nonce] = now
	return nil
}
