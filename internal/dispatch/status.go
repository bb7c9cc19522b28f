package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ultaai-agent/internal/jobs"
	"ultaai-agent/internal/module"
)

// StatusModuleName is the name the built-in job status module registers under.
const StatusModuleName = "status"

const statusMetadata = `{
  "name": "status",
  "description": "reports the state of delayed jobs",
  "actions": [
    {
      "name": "query",
      "description": "return the status and captured output of a job",
      "input": {
        "type": "object",
        "required": ["job_id"],
        "properties": {"job_id": {"type": "string"}}
      },
      "output": {
        "type": "object",
        "required": ["id", "status"],
        "properties": {
          "id": {"type": "string"},
          "status": {"type": "string", "enum": ["running", "completed", "failed"]},
          "exit_code": {"type": "integer"},
          "stdout": {"type": "string"},
          "stderr": {"type": "string"}
        }
      }
    }
  ]
}`

type statusQuery struct {
	JobID string `json:"job_id"`
}

type statusInvoker struct {
	jobs *jobs.Manager
}

// Invoke answers a query with the job snapshot as JSON on stdout. An unknown
// job is returned as *jobs.UnknownJobError.
func (s *statusInvoker) Invoke(_ context.Context, a *module.Action, params json.RawMessage) (*module.Result, error) {
	if a.Name != "query" {
		return nil, &module.UnknownActionError{Module: StatusModuleName, Action: a.Name, ModuleKnown: true}
	}
	started := time.Now()

	var q statusQuery
	if err := json.Unmarshal(params, &q); err != nil {
		return nil, fmt.Errorf("decode status query: %w", err)
	}
	job, err := s.jobs.QueryStatus(q.JobID)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job %s: %w", q.JobID, err)
	}
	return &module.Result{Stdout: out, StartedAt: started, FinishedAt: time.Now()}, nil
}

// NewStatusModule builds the built-in module that lets a caller poll the
// jobs created by mgr.
func NewStatusModule(mgr *jobs.Manager) (*module.Module, error) {
	return module.NewBuiltin([]byte(statusMetadata), &statusInvoker{jobs: mgr})
}
