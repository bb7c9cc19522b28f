package agent

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("s3cret")

func signedRequest(t *testing.T, nonce string, at time.Time) *ActionRequest {
	t.Helper()
	req := &ActionRequest{
		Type:   TypeActionRequest,
		ID:     "req-1",
		Module: "reverse",
		Action: "string",
		Params: json.RawMessage(`"maradona"`),
	}
	SignRequest(testSecret, req, nonce, at)
	return req
}

func TestVerifier_AcceptsFreshSignature(t *testing.T) {
	t.Parallel()
	v := NewVerifier(testSecret)
	require.NoError(t, v.Verify(signedRequest(t, "n1", time.Now())))
}

func TestVerifier_Rejects(t *testing.T) {
	t.Parallel()
	now := time.Now()

	cases := map[string]struct {
		mutate func(*ActionRequest)
		want   string
	}{
		"tampered params": {
			mutate: func(r *ActionRequest) { r.Params = json.RawMessage(`"rm -rf"`) },
			want:   "HMAC mismatch",
		},
		"tampered action": {
			mutate: func(r *ActionRequest) { r.Action = "fail" },
			want:   "HMAC mismatch",
		},
		"stale timestamp": {
			mutate: func(r *ActionRequest) { SignRequest(testSecret, r, r.Nonce, now.Add(-10*time.Minute)) },
			want:   "skew",
		},
		"bad timestamp": {
			mutate: func(r *ActionRequest) { r.Timestamp = "yesterday" },
			want:   "bad timestamp",
		},
		"unsigned": {
			mutate: func(r *ActionRequest) { r.Signature = "" },
			want:   "not signed",
		},
		"garbage signature": {
			mutate: func(r *ActionRequest) { r.Signature = "%%%" },
			want:   "encoding",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			v := NewVerifier(testSecret)
			req := signedRequest(t, "nonce-"+name, now)
			tc.mutate(req)
			err := v.Verify(req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestVerifier_RejectsReplay(t *testing.T) {
	t.Parallel()
	v := NewVerifier(testSecret)
	req := signedRequest(t, "once", time.Now())

	require.NoError(t, v.Verify(req))
	err := v.Verify(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonce already used")
}

func TestVerifier_NilAcceptsAll(t *testing.T) {
	t.Parallel()
	v := NewVerifier(nil)
	assert.Nil(t, v)
	assert.NoError(t, v.Verify(&ActionRequest{Module: "reverse", Action: "string"}))
}
