package agent

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

const heartbeatVersion = "1" // bump if the signing format changes

type heartbeatPayload struct {
	Type      string `json:"type"`      // "heartbeat"
	Version   string `json:"version"`   // schema/signature version
	AgentID   string `json:"agent_id"`  // unique agent id
	Counter   uint64 `json:"counter"`   // anti-replay, monotonic per process
	Nonce     string `json:"nonce"`     // base64 random bytes
	Timestamp string `json:"timestamp"` // RFC3339Nano
	Signature string `json:"signature,omitempty"`
}

// Heartbeat builds the periodic liveness messages of one agent.
type Heartbeat struct {
	agentID string
	secret  []byte
	counter atomic.Uint64
	now     func() time.Time
}

// NewHeartbeat returns a Heartbeat for agentID. Messages are signed when
// secret is non-empty.
func NewHeartbeat(agentID string, secret []byte) *Heartbeat {
	return &Heartbeat{agentID: agentID, secret: secret, now: time.Now}
}

func heartbeatCanonical(v, agent string, ctr uint64, nonceB64, ts string) string {
	return fmt.Sprintf("%s|%s|%d|%s|%s", v, agent, ctr, nonceB64, ts)
}

// Next returns the next heartbeat message.
func (h *Heartbeat) Next() ([]byte, error) {
	ctr := h.counter.Add(1)

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("heartbeat nonce: %w", err)
	}
	nonceB64 := base64.StdEncoding.EncodeToString(nonce)
	ts := h.now().UTC().Format(timeFormat)

	hb := heartbeatPayload{
		Type:      TypeHeartbeat,
		Version:   heartbeatVersion,
		AgentID:   h.agentID,
		Counter:   ctr,
		Nonce:     nonceB64,
		Timestamp: ts,
	}
	if len(h.secret) > 0 {
		hb.Signature = signHMACSHA256(h.secret, heartbeatCanonical(heartbeatVersion, h.agentID, ctr, nonceB64, ts))
	}
	return json.Marshal(hb)
}
