package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ultaai-agent/internal/jobs"
	"ultaai-agent/internal/module"
)

func TestStatusModule_QueryJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.dispatcher.Dispatch(ctx, reverseRequest(`"maradona"`, true))
	require.NoError(t, err)
	f.jobs.Wait()

	params, err := json.Marshal(map[string]string{"job_id": resp.JobID})
	require.NoError(t, err)
	out, err := f.dispatcher.Dispatch(ctx, module.Request{Module: StatusModuleName, Action: "query", Params: params})
	require.NoError(t, err)

	var job jobs.Job
	require.NoError(t, json.Unmarshal(out.Result.Stdout, &job))
	assert.Equal(t, resp.JobID, job.ID)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Contains(t, job.Stdout, "anodaram")

	// The built-in runs in-process: one spawn for the reverse job only.
	assert.EqualValues(t, 1, f.invoker.calls.Load())
}

func TestStatusModule_UnknownJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	params := json.RawMessage(`{"job_id": "` + uuid.NewString() + `"}`)
	_, err := f.dispatcher.Dispatch(context.Background(), module.Request{Module: StatusModuleName, Action: "query", Params: params})
	var uerr *jobs.UnknownJobError
	assert.True(t, errors.As(err, &uerr))
}

func TestStatusModule_MissingJobID(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.dispatcher.Dispatch(context.Background(), module.Request{Module: StatusModuleName, Action: "query", Params: json.RawMessage(`{}`)})
	var verr *module.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "params.job_id", verr.Field)
}

func TestStatusModule_RunningJob(t *testing.T) {
	t.Parallel()
	spool, err := jobs.NewSpool(t.TempDir())
	require.NoError(t, err)
	mgr := jobs.NewManager(spool)
	status, err := NewStatusModule(mgr)
	require.NoError(t, err)

	meta, err := module.ParseMetadata([]byte(`{"name":"slow","actions":[{"name":"run","input":{"type":"object"}}]}`), "")
	require.NoError(t, err)
	a, _ := meta.Action("run")
	release := make(chan struct{})
	id, err := mgr.CreateJob(context.Background(), module.Request{Module: "slow", Action: "run"}, a, blockingInvoker(release))
	require.NoError(t, err)

	query, _ := status.Action("query")
	res, err := status.Invoker.Invoke(context.Background(), query, json.RawMessage(`{"job_id":"`+id+`"}`))
	require.NoError(t, err)
	assert.Contains(t, string(res.Stdout), `"status":"running"`)

	close(release)
	mgr.Wait()
}

type blockingInvoker chan struct{}

func (b blockingInvoker) Invoke(context.Context, *module.Action, json.RawMessage) (*module.Result, error) {
	<-b
	now := time.Now()
	return &module.Result{StartedAt: now, FinishedAt: now}, nil
}
