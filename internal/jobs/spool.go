// Package jobs runs delayed actions in the background and keeps their state
// in a spool directory that survives agent restarts.
//
// Each job owns <spool>/<job-id>/ with the files status, stdout, stderr,
// exitcode and request.json. Every file is published by writing a temporary
// file and renaming it into place, so a reader never sees a partial value.
// On completion the status file is written last.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ultaai-agent/internal/module"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrTerminalStatus is returned when something tries to move a finished job.
var ErrTerminalStatus = errors.New("job status is already terminal")

// UnknownJobError is returned for a job id with no spool record.
type UnknownJobError struct {
	ID string
}

func (e *UnknownJobError) Error() string {
	return fmt.Sprintf("unknown job '%s'", e.ID)
}

const (
	statusFile   = "status"
	stdoutFile   = "stdout"
	stderrFile   = "stderr"
	exitCodeFile = "exitcode"
	requestFile  = "request.json"
)

// Job is a point-in-time snapshot of a spool record.
type Job struct {
	ID        string          `json:"id"`
	Status    Status          `json:"status"`
	Module    string          `json:"module"`
	Action    string          `json:"action"`
	Params    json.RawMessage `json:"params,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	// ExitCode is nil until the job has finished with a process result.
	ExitCode *int   `json:"exit_code,omitempty"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

type requestRecord struct {
	Module    string          `json:"module"`
	Action    string          `json:"action"`
	Params    json.RawMessage `json:"params,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Spool is the on-disk job store.
type Spool struct {
	dir string
}

// NewSpool opens dir as a spool, creating it if needed.
func NewSpool(dir string) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create spool directory: %w", err)
	}
	return &Spool{dir: dir}, nil
}

// Dir returns the spool root.
func (s *Spool) Dir() string { return s.dir }

func (s *Spool) jobDir(id string) string {
	return filepath.Join(s.dir, id)
}

// Create makes the record for a new running job. It fails with an error
// matching fs.ErrExist when a record for id is already on disk. A record
// that cannot be completed is removed again.
func (s *Spool) Create(id string, req module.Request) (err error) {
	dir := s.jobDir(id)
	if err := os.Mkdir(dir, 0o750); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.RemoveAll(dir)
		}
	}()

	rec, err := json.Marshal(requestRecord{
		Module:    req.Module,
		Action:    req.Action,
		Params:    req.Params,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode request record: %w", err)
	}

	files := []struct {
		name string
		data []byte
	}{
		{requestFile, rec},
		{stdoutFile, nil},
		{stderrFile, nil},
		{statusFile, []byte(StatusRunning)},
	}
	for _, f := range files {
		if err := writeAtomic(dir, f.name, f.data); err != nil {
			return fmt.Errorf("create job %s: %w", id, err)
		}
	}
	return nil
}

// Complete publishes the outcome of a job and returns the terminal status
// it recorded. res may be nil when the process never ran; runErr then
// explains why and is written to stderr.
func (s *Spool) Complete(id string, res *module.Result, runErr error) (Status, error) {
	dir := s.jobDir(id)
	current, err := s.readStatus(id)
	if err != nil {
		return "", err
	}
	if current.Terminal() {
		return current, ErrTerminalStatus
	}

	status := StatusCompleted
	if runErr != nil || res == nil || !res.Succeeded() {
		status = StatusFailed
	}

	if res != nil {
		if err := writeAtomic(dir, stdoutFile, res.Stdout); err != nil {
			return "", err
		}
		if err := writeAtomic(dir, stderrFile, res.Stderr); err != nil {
			return "", err
		}
		if err := writeAtomic(dir, exitCodeFile, []byte(strconv.Itoa(res.ExitCode))); err != nil {
			return "", err
		}
	}
	if runErr != nil {
		if err := writeAtomic(dir, stderrFile, []byte(runErr.Error())); err != nil {
			return "", err
		}
	}

	if err := writeAtomic(dir, statusFile, []byte(status)); err != nil {
		return "", err
	}
	return status, nil
}

// Read loads a snapshot of the job with the given id.
func (s *Spool) Read(id string) (*Job, error) {
	status, err := s.readStatus(id)
	if err != nil {
		return nil, err
	}
	dir := s.jobDir(id)

	job := &Job{ID: id, Status: status}

	if b, err := os.ReadFile(filepath.Join(dir, requestFile)); err == nil {
		var rec requestRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("job %s: decode request record: %w", id, err)
		}
		job.Module, job.Action, job.Params, job.CreatedAt = rec.Module, rec.Action, rec.Params, rec.CreatedAt
	}

	// Output files are only trusted once the status is terminal; before
	// that they are the empty placeholders written by Create.
	if !status.Terminal() {
		return job, nil
	}
	stdout, err := readOptional(filepath.Join(dir, stdoutFile))
	if err != nil {
		return nil, err
	}
	stderr, err := readOptional(filepath.Join(dir, stderrFile))
	if err != nil {
		return nil, err
	}
	job.Stdout, job.Stderr = string(stdout), string(stderr)

	if b, err := readOptional(filepath.Join(dir, exitCodeFile)); err != nil {
		return nil, err
	} else if len(b) > 0 {
		code, err := strconv.Atoi(strings.TrimSpace(string(b)))
		if err != nil {
			return nil, fmt.Errorf("job %s: bad exit code %q", id, b)
		}
		job.ExitCode = &code
	}
	return job, nil
}

func (s *Spool) readStatus(id string) (Status, error) {
	// Ids come from the network; anything that is not one of ours cannot
	// name a record and must not be joined into a path.
	if _, err := uuid.Parse(id); err != nil {
		return "", &UnknownJobError{ID: id}
	}
	b, err := os.ReadFile(filepath.Join(s.jobDir(id), statusFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", &UnknownJobError{ID: id}
	}
	if err != nil {
		return "", err
	}
	status := Status(strings.TrimSpace(string(b)))
	switch status {
	case StatusRunning, StatusCompleted, StatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("job %s: unrecognised status %q", id, status)
	}
}

func readOptional(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return b, err
}

// writeAtomic replaces dir/name with data via a temporary file and rename.
func writeAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o640); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, name))
}
