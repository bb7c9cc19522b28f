package module

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// Request is a decoded action request handed over by the transport layer.
type Request struct {
	Module  string          `json:"module"`
	Action  string          `json:"action"`
	Params  json.RawMessage `json:"params,omitempty"`
	Delayed bool            `json:"delayed,omitempty"`
}

// Result is the outcome of one invocation. Stdout and Stderr are opaque to
// the engine; a non-zero ExitCode is data, not an error.
type Result struct {
	ExitCode   int
	Stdout     []byte
	Stderr     []byte
	TimedOut   bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded reports whether the module exited with code 0.
func (r *Result) Succeeded() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Duration is the wall time the invocation took.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Invoker runs an action. The process invoker in package runner is the
// implementation for external modules; built-in modules carry their own.
type Invoker interface {
	Invoke(ctx context.Context, a *Action, params json.RawMessage) (*Result, error)
}

// Module is a named set of actions, immutable once registered.
type Module struct {
	Name        string
	Description string
	// Path is the executable backing the module. Empty for built-ins.
	Path    string
	Actions []*Action
	// Invoker is set for built-in modules only.
	Invoker Invoker

	index map[string]*Action
}

// Action looks up one of the module's actions by name.
func (m *Module) Action(name string) (*Action, bool) {
	a, ok := m.index[name]
	return a, ok
}

// Builtin reports whether the module is implemented in-process.
func (m *Module) Builtin() bool {
	return m.Invoker != nil
}

// Action is a named operation of exactly one module.
type Action struct {
	Module      *Module
	Name        string
	Description string
	Input       *jsonschema.Schema
	Output      *jsonschema.Schema

	input *jsonschema.Resolved
}

// FullName returns "module.action".
func (a *Action) FullName() string {
	return a.Module.Name + "." + a.Name
}
