package agent

import (
	"encoding/json"
	"errors"

	"ultaai-agent/internal/dispatch"
	"ultaai-agent/internal/jobs"
	"ultaai-agent/internal/module"
	"ultaai-agent/internal/runner"
)

// Message types on the wire.
const (
	TypeHello          = "hello"
	TypeHeartbeat      = "heartbeat"
	TypeActionRequest  = "action_request"
	TypeActionResponse = "action_response"
	TypeActionReceipt  = "action_receipt"
	TypeActionError    = "action_error"
)

// Error kinds carried by action_error messages.
const (
	KindUnknownAction   = "unknown_action"
	KindValidationError = "validation_error"
	KindExecutionError  = "execution_error"
	KindUnknownJob      = "unknown_job"
	KindRequestError    = "request_error"
)

// envelope is decoded first to find out what kind of message arrived.
type envelope struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ActionRequest asks the agent to run module.action.
type ActionRequest struct {
	Type      string          `json:"type"` // "action_request"
	ID        string          `json:"id"`   // echoed back in the reply
	Module    string          `json:"module"`
	Action    string          `json:"action"`
	Params    json.RawMessage `json:"params,omitempty"`
	Delayed   bool            `json:"delayed,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"` // RFC3339
	Nonce     string          `json:"nonce,omitempty"`
	Signature string          `json:"signature,omitempty"` // base64 HMAC-SHA256
}

func (r *ActionRequest) request() module.Request {
	return module.Request{Module: r.Module, Action: r.Action, Params: r.Params, Delayed: r.Delayed}
}

// ResultPayload is the inline outcome of a synchronous action.
type ResultPayload struct {
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	StartedAt  string `json:"started_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Reply is sent for every action_request: a response, a receipt or an error.
type Reply struct {
	Type   string         `json:"type"`
	ID     string         `json:"id,omitempty"`
	Module string         `json:"module,omitempty"`
	Action string         `json:"action,omitempty"`
	Result *ResultPayload `json:"result,omitempty"`
	JobID  string         `json:"job_id,omitempty"`
	Kind   string         `json:"kind,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func replyFor(req *ActionRequest, resp *dispatch.Response) Reply {
	r := Reply{ID: req.ID, Module: req.Module, Action: req.Action}
	if resp.Delayed() {
		r.Type = TypeActionReceipt
		r.JobID = resp.JobID
		return r
	}
	res := resp.Result
	r.Type = TypeActionResponse
	r.Result = &ResultPayload{
		ExitCode:   res.ExitCode,
		Stdout:     string(res.Stdout),
		Stderr:     string(res.Stderr),
		TimedOut:   res.TimedOut,
		DurationMS: res.Duration().Milliseconds(),
	}
	if !res.StartedAt.IsZero() {
		r.Result.StartedAt = res.StartedAt.UTC().Format(timeFormat)
		r.Result.FinishedAt = res.FinishedAt.UTC().Format(timeFormat)
	}
	return r
}

func errorReply(id string, req *ActionRequest, err error) Reply {
	r := Reply{Type: TypeActionError, ID: id, Kind: errorKind(err), Error: err.Error()}
	if req != nil {
		r.Module, r.Action = req.Module, req.Action
	}
	return r
}

// errorKind maps an engine error onto the kind reported to the server.
func errorKind(err error) string {
	var (
		unknownAction *module.UnknownActionError
		invalid       *module.ValidationError
		execErr       *runner.ExecutionError
		unknownJob    *jobs.UnknownJobError
	)
	switch {
	case errors.As(err, &unknownAction):
		return KindUnknownAction
	case errors.As(err, &invalid):
		return KindValidationError
	case errors.As(err, &unknownJob):
		return KindUnknownJob
	case errors.As(err, &execErr):
		return KindExecutionError
	default:
		return KindRequestError
	}
}
