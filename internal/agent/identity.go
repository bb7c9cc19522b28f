package agent

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAgentIDPath is where provisioning leaves the agent id.
const DefaultAgentIDPath = "/etc/ultaai-agent-id"

const identityTokenTTL = 10 * time.Minute

// ResolveAgentID returns configured when set, else the trimmed content of
// path, else "unknown".
func ResolveAgentID(configured, path string) string {
	if v := strings.TrimSpace(configured); v != "" {
		return v
	}
	if b, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return id
		}
	}
	return "unknown"
}

// IdentityToken issues the short-lived HS256 bearer token presented when
// the connection is opened.
func IdentityToken(agentID string, secret []byte, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("identity token needs a signature secret")
	}
	claims := jwt.MapClaims{
		"agent_id": agentID,
		"iat":      now.Unix(),
		"exp":      now.Add(identityTokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
