// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package slurm

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/afero"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

// Runner runs a scheduler command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands on the local host.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return out, fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return out, fmt.Errorf("%s failed: %w", name, err)
	}
	return out, nil
}

type JobState string

const (
	JobStatePending   JobState = "PENDING"
	JobStateRunning   JobState = "RUNNING"
	JobStateCompleted JobState = "COMPLETED"
	JobStateFailed    JobState = "FAILED"
	JobStateCancelled JobState = "CANCELLED"
	JobStateTimeout   JobState = "TIMEOUT"
)

// Done reports whether the scheduler is finished with the job.
func (s JobState) Done() bool {
	switch s {
	case JobStatePending, JobStateRunning, "CONFIGURING", "COMPLETING", "SUSPENDED", "REQUEUED", "RESIZING":
		return false
	}
	return true
}

var (
	ErrNoJobID = errors.New("no job id in sbatch output")

	submittedRegex = regexp.MustCompile(`Submitted batch job (\d+)`)
	parsableRegex  = regexp.MustCompile(`^(\d+)(;\S+)?$`)
)

// ParseJobID extracts the job id from sbatch output. Both the --parsable form
// "12345" or "12345;cluster" and the default "Submitted batch job 12345" are accepted.
func ParseJobID(out string) (string, error) {
	out = strings.TrimSpace(out)
	if m := submittedRegex.FindStringSubmatch(out); m != nil {
		return m[1], nil
	}
	// sbatch may print warnings before the id.
	lines := strings.Split(out, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if m := parsableRegex.FindStringSubmatch(last); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("%w: %q", ErrNoJobID, out)
}

// Sbatch submits batch scripts and tracks the resulting jobs.
type Sbatch struct {
	Fs     afero.Fs
	Runner Runner
	// ScriptDir is where rendered scripts are kept for later inspection.
	ScriptDir string
}

func NewSbatch(fs afero.Fs, scriptDir string) *Sbatch {
	return &Sbatch{Fs: fs, Runner: ExecRunner{}, ScriptDir: scriptDir}
}

// Submit stores script as <ScriptDir>/<name>.sbatch and queues it.
func (s *Sbatch) Submit(ctx context.Context, name string, script []byte) (string, error) {
	if err := s.Fs.MkdirAll(s.ScriptDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create script directory: %w", err)
	}
	path := filepath.Join(s.ScriptDir, name+".sbatch")
	if err := afero.WriteFile(s.Fs, path, script, 0o755); err != nil {
		return "", fmt.Errorf("failed to write batch script: %w", err)
	}

	out, err := s.Runner.Run(ctx, "sbatch", "--parsable", path)
	if err != nil {
		return "", err
	}
	id, err := ParseJobID(string(out))
	if err != nil {
		return "", err
	}
	klog.InfoS("Submitted batch job", "job", name, "jobID", id, "script", path)
	return id, nil
}

// State returns the scheduler state of a job. A job squeue no longer knows is
// reported as completed.
func (s *Sbatch) State(ctx context.Context, jobID string) (JobState, error) {
	out, err := s.Runner.Run(ctx, "squeue", "-h", "-j", jobID, "-o", "%T")
	if err != nil {
		if strings.Contains(err.Error(), "Invalid job id specified") {
			return JobStateCompleted, nil
		}
		return "", err
	}
	state := strings.TrimSpace(string(out))
	if state == "" {
		return JobStateCompleted, nil
	}
	// Heterogeneous and array jobs print one line per component.
	first, _, _ := strings.Cut(state, "\n")
	return JobState(strings.TrimSpace(first)), nil
}

// Cancel asks the scheduler to stop the job.
func (s *Sbatch) Cancel(ctx context.Context, jobID string) error {
	_, err := s.Runner.Run(ctx, "scancel", jobID)
	return err
}

// Wait polls the job until it leaves the queue. The job is cancelled when ctx ends first.
func (s *Sbatch) Wait(ctx context.Context, jobID string, interval time.Duration) (JobState, error) {
	var last JobState
	err := wait.PollUntilContextCancel(ctx, interval, true, func(ctx context.Context) (bool, error) {
		state, err := s.State(ctx, jobID)
		if err != nil {
			return false, err
		}
		if state != last {
			klog.InfoS("Batch job state changed", "jobID", jobID, "state", state)
			last = state
		}
		return state.Done(), nil
	})
	if err != nil && ctx.Err() != nil {
		klog.InfoS("Cancelling batch job", "jobID", jobID)
		if cerr := s.Cancel(context.Background(), jobID); cerr != nil {
			klog.ErrorS(cerr, "Failed to cancel batch job", "jobID", jobID)
		}
	}
	return last, err
}
