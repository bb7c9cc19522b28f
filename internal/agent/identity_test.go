package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityToken(t *testing.T) {
	t.Parallel()
	raw, err := IdentityToken("agent-7", testSecret, time.Now())
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return testSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	require.NoError(t, err)
	assert.True(t, tok.Valid)
	assert.Equal(t, "agent-7", claims["agent_id"])

	_, err = IdentityToken("agent-7", nil, time.Now())
	assert.Error(t, err)
}

func TestResolveAgentID(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "agent-id")
	missing := filepath.Join(t.TempDir(), "nope")

	assert.Equal(t, "configured", ResolveAgentID(" configured ", path))
	assert.Equal(t, "unknown", ResolveAgentID("", missing))

	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))
	assert.Equal(t, "from-file", ResolveAgentID("", path))
}
