package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/google/uuid"

	"ultaai-agent/internal/ctxlog"
	"ultaai-agent/internal/module"
)

const maxAllocateAttempts = 16

// Manager creates delayed jobs and runs each one on its own goroutine.
// The goroutine running a job is the only writer of that job's record.
type Manager struct {
	spool *Spool
	newID func() string

	// allocMu serialises id allocation in the spool namespace.
	allocMu sync.Mutex
	wg      sync.WaitGroup
}

// NewManager returns a Manager storing jobs in spool.
func NewManager(spool *Spool) *Manager {
	return &Manager{spool: spool, newID: uuid.NewString}
}

// CreateJob records a new running job and starts the action in the
// background. It returns once the record is on disk; it never waits for
// the action. The job keeps running if ctx is cancelled afterwards.
func (m *Manager) CreateJob(ctx context.Context, req module.Request, a *module.Action, inv module.Invoker) (string, error) {
	id, err := m.allocate(req)
	if err != nil {
		return "", err
	}

	logger := ctxlog.FromContext(ctx).With("job_id", id, "module", a.Module.Name, "action", a.Name)
	logger.Info("Job created.")

	bg := ctxlog.WithLogger(context.WithoutCancel(ctx), logger)
	m.wg.Add(1)
	go m.run(bg, id, a, req.Params, inv)
	return id, nil
}

// QueryStatus returns a snapshot of the job.
func (m *Manager) QueryStatus(id string) (*Job, error) {
	return m.spool.Read(id)
}

// Wait blocks until every job started so far has published its terminal status.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) allocate(req module.Request) (string, error) {
	m.allocMu.Lock()
	defer m.allocMu.Unlock()

	for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
		id := m.newID()
		err := m.spool.Create(id, req)
		if errors.Is(err, fs.ErrExist) {
			// A record left by an earlier run; ids are never reused.
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create job record: %w", err)
		}
		return id, nil
	}
	return "", fmt.Errorf("no unused job id after %d attempts", maxAllocateAttempts)
}

func (m *Manager) run(ctx context.Context, id string, a *module.Action, params json.RawMessage, inv module.Invoker) {
	defer m.wg.Done()
	logger := ctxlog.FromContext(ctx)

	var (
		res    *module.Result
		runErr error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("action panicked: %v", r)
			}
		}()
		res, runErr = inv.Invoke(ctx, a, params)
	}()

	m.onInvocationComplete(ctx, id, res, runErr)
	if runErr != nil {
		logger.Warn("Job could not run its action.", "error", runErr)
	}
}

func (m *Manager) onInvocationComplete(ctx context.Context, id string, res *module.Result, runErr error) {
	logger := ctxlog.FromContext(ctx)
	status, err := m.spool.Complete(id, res, runErr)
	if err != nil {
		logger.Error("Failed to publish job result.", "error", err)
		return
	}
	attrs := []any{"status", status}
	if res != nil {
		attrs = append(attrs, "exit_code", res.ExitCode, "duration", res.Duration())
	}
	logger.Info("Job finished.", attrs...)
}
