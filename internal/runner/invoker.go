// Package runner spawns module executables and captures what they produce.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"ultaai-agent/internal/ctxlog"
	"ultaai-agent/internal/module"
)

const (
	DefaultTimeout         = 10 * time.Minute
	DefaultKillGrace       = 10 * time.Second
	DefaultMetadataTimeout = 30 * time.Second
	DefaultDrainGrace      = 5 * time.Second
)

// ExecutionError means the process could not be run at all. A module that
// runs and exits non-zero is not an ExecutionError.
type ExecutionError struct {
	Module string
	Action string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute %s.%s: %v", e.Module, e.Action, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Invoker runs module executables as child processes. The action name is
// the first argument and the params document is written to stdin.
//
// Each child gets its own process group. When Timeout elapses the group is
// sent SIGTERM, then SIGKILL after KillGrace.
//
// Output written after the child exits is collected for at most DrainGrace,
// so a daemonized descendant holding the pipes open cannot stall the call.
type Invoker struct {
	Timeout         time.Duration // 0 disables
	KillGrace       time.Duration
	MetadataTimeout time.Duration
	DrainGrace      time.Duration
}

// New returns an Invoker with the given action timeout and default grace periods.
func New(timeout time.Duration) *Invoker {
	return &Invoker{
		Timeout:         timeout,
		KillGrace:       DefaultKillGrace,
		MetadataTimeout: DefaultMetadataTimeout,
		DrainGrace:      DefaultDrainGrace,
	}
}

// Invoke runs one action and returns once the child has exited and both of
// its output streams are drained.
func (i *Invoker) Invoke(ctx context.Context, a *module.Action, params json.RawMessage) (*module.Result, error) {
	logger := ctxlog.FromContext(ctx).With("module", a.Module.Name, "action", a.Name)

	if a.Module.Path == "" {
		return nil, &ExecutionError{Module: a.Module.Name, Action: a.Name, Err: errors.New("module has no executable")}
	}

	logger.Debug("Starting module process.", "path", a.Module.Path)
	res, err := i.run(a.Module.Path, []string{a.Name}, params, i.Timeout)
	if err != nil {
		logger.Error("Module process could not be run.", "error", err)
		return nil, &ExecutionError{Module: a.Module.Name, Action: a.Name, Err: err}
	}

	logger.Info("Module process finished.", "exit_code", res.ExitCode, "timed_out", res.TimedOut, "duration", res.Duration())
	return res, nil
}

// Metadata runs `<path> metadata` and returns its stdout.
func (i *Invoker) Metadata(ctx context.Context, path string) ([]byte, error) {
	timeout := i.MetadataTimeout
	if timeout <= 0 {
		timeout = DefaultMetadataTimeout
	}
	res, err := i.run(path, []string{module.MetadataArg}, nil, timeout)
	if err != nil {
		return nil, fmt.Errorf("metadata query: %w", err)
	}
	if res.TimedOut {
		return nil, fmt.Errorf("metadata query timed out after %s", timeout)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("metadata query exited with code %d: %s", res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	return res.Stdout, nil
}

func (i *Invoker) run(path string, args []string, stdin []byte, timeout time.Duration) (*module.Result, error) {
	cmd := exec.Command(path, args...)
	cmd.Dir = filepath.Dir(path)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Bounds the stdin copy when a descendant inherits the pipe.
	cmd.WaitDelay = i.drainGrace()

	// The child writes to *os.File pipes, so Wait returns as soon as the
	// child exits even if a descendant still holds them open.
	stdout, err := startDrain(&cmd.Stdout)
	if err != nil {
		return nil, err
	}
	stderr, err := startDrain(&cmd.Stderr)
	if err != nil {
		stdout.abort()
		return nil, err
	}

	start := time.Now().UTC()
	err = cmd.Start()
	// The parent's write ends must close for the readers to reach EOF.
	stdout.closeWriter()
	stderr.closeWriter()
	if err != nil {
		stdout.abort()
		stderr.abort()
		return nil, err
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-waitCh:
	case <-deadline:
		timedOut = true
		waitErr = i.terminate(cmd.Process.Pid, waitCh)
	}
	finished := time.Now().UTC()

	drainDeadline := time.NewTimer(i.drainGrace())
	defer drainDeadline.Stop()
	stdout.finish(drainDeadline.C)
	stderr.finish(drainDeadline.C)

	exitCode := 0
	if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
		var ee *exec.ExitError
		if !errors.As(waitErr, &ee) {
			return nil, waitErr
		}
		exitCode = ee.ExitCode()
	}
	if timedOut {
		exitCode = -1
	}

	return &module.Result{
		ExitCode:   exitCode,
		Stdout:     stdout.buf.Bytes(),
		Stderr:     stderr.buf.Bytes(),
		TimedOut:   timedOut,
		StartedAt:  start,
		FinishedAt: finished,
	}, nil
}

func (i *Invoker) drainGrace() time.Duration {
	if i.DrainGrace > 0 {
		return i.DrainGrace
	}
	return DefaultDrainGrace
}

// drain copies one output pipe of the child into buf.
type drain struct {
	r, w *os.File
	buf  bytes.Buffer
	done chan struct{}
}

func startDrain(dst *io.Writer) (*drain, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	d := &drain{r: r, w: w, done: make(chan struct{})}
	*dst = w
	go func() {
		defer close(d.done)
		_, _ = io.Copy(&d.buf, r)
	}()
	return d, nil
}

func (d *drain) closeWriter() { _ = d.w.Close() }

func (d *drain) abort() {
	_ = d.w.Close()
	_ = d.r.Close()
	<-d.done
}

// finish waits for EOF until deadline fires, then closes the read end so a
// pipe held open by an escaped descendant cannot block the caller.
func (d *drain) finish(deadline <-chan time.Time) {
	select {
	case <-d.done:
	case <-deadline:
	}
	_ = d.r.Close()
	<-d.done
}

// terminate stops the whole process group: SIGTERM first, SIGKILL once the
// grace period runs out.
func (i *Invoker) terminate(pid int, waitCh <-chan error) error {
	grace := i.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	_ = unix.Kill(-pid, unix.SIGTERM)
	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
		_ = unix.Kill(-pid, unix.SIGKILL)
		return <-waitCh
	}
}
