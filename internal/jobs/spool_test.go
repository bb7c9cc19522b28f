package jobs

import (
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ultaai-agent/internal/module"
)

func TestSpoolCreate_RemovesPartialRecord(t *testing.T) {
	t.Parallel()
	spool, err := NewSpool(t.TempDir())
	require.NoError(t, err)
	id := "3f0c5a7e-2b1d-4c8e-9a6f-0d2e4b6c8a10"

	err = spool.Create(id, module.Request{Module: "reverse", Action: "string", Params: json.RawMessage(`{"unterminated"`)})
	require.Error(t, err)

	_, statErr := os.Stat(spool.jobDir(id))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))

	var unknown *UnknownJobError
	_, err = spool.Read(id)
	assert.True(t, errors.As(err, &unknown))

	require.NoError(t, spool.Create(id, module.Request{Module: "reverse", Action: "string", Params: json.RawMessage(`"abc"`)}))
	job, err := spool.Read(id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, job.Status)
}
