// Package dispatch routes decoded action requests through the registry and
// the validator, then runs them inline or hands them to the job manager.
package dispatch

import (
	"context"
	"errors"

	"ultaai-agent/internal/ctxlog"
	"ultaai-agent/internal/jobs"
	"ultaai-agent/internal/module"
)

// ErrDelayedUnsupported is returned for a delayed request when the
// dispatcher was built without a job manager.
var ErrDelayedUnsupported = errors.New("delayed actions are not enabled")

// Response is the outcome of one dispatch: an inline Result for a
// synchronous request, or the JobID of a delayed one.
type Response struct {
	Result *module.Result
	JobID  string
}

// Delayed reports whether the response is a job receipt.
func (r *Response) Delayed() bool {
	return r.JobID != ""
}

// Dispatcher is safe for concurrent use once the registry is loaded.
type Dispatcher struct {
	registry *module.Registry
	invoker  module.Invoker
	jobs     *jobs.Manager
}

// New returns a Dispatcher. inv runs external modules; mgr may be nil, in
// which case delayed requests are refused.
func New(reg *module.Registry, inv module.Invoker, mgr *jobs.Manager) *Dispatcher {
	return &Dispatcher{registry: reg, invoker: inv, jobs: mgr}
}

// Dispatch resolves and validates req before anything is spawned. A
// resolution or validation failure is returned as *module.UnknownActionError
// or *module.ValidationError. For a synchronous request the invoker's error,
// if any, is returned unchanged; a non-zero exit is part of the Result.
func (d *Dispatcher) Dispatch(ctx context.Context, req module.Request) (*Response, error) {
	logger := ctxlog.FromContext(ctx).With("module", req.Module, "action", req.Action, "delayed", req.Delayed)

	a, err := d.registry.Resolve(req.Module, req.Action)
	if err != nil {
		logger.Warn("Request rejected.", "error", err)
		return nil, err
	}
	if err := module.Validate(a, req.Params); err != nil {
		logger.Warn("Request rejected.", "error", err)
		return nil, err
	}

	inv := d.invokerFor(a)
	ctx = ctxlog.WithLogger(ctx, logger)

	if req.Delayed {
		if d.jobs == nil {
			return nil, ErrDelayedUnsupported
		}
		id, err := d.jobs.CreateJob(ctx, req, a, inv)
		if err != nil {
			logger.Error("Could not create job.", "error", err)
			return nil, err
		}
		return &Response{JobID: id}, nil
	}

	res, err := inv.Invoke(ctx, a, req.Params)
	if err != nil {
		return nil, err
	}
	return &Response{Result: res}, nil
}

func (d *Dispatcher) invokerFor(a *module.Action) module.Invoker {
	if a.Module.Builtin() {
		return a.Module.Invoker
	}
	return d.invoker
}
