// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/klog/v2"
)

const DefaultGracePeriod = 2 * time.Minute

// ExitError reports a launcher that ran but did not succeed.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("launcher exited with code %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Exec runs the launcher as a child of this process. SIGINT and SIGTERM are passed
// on so the training program can checkpoint, and the child is killed if it outlives
// the grace period.
type Exec struct {
	Stdin          io.Reader
	Stdout, Stderr io.Writer
	// DryRun prints the command instead of running it.
	DryRun      bool
	GracePeriod time.Duration
}

func NewExec() *Exec {
	return &Exec{
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		GracePeriod: DefaultGracePeriod,
	}
}

func (e *Exec) Run(ctx context.Context, plan *Plan) error {
	argv, err := Command(plan)
	if err != nil {
		return err
	}
	logger := klog.FromContext(ctx).WithValues("job", plan.Job.Name, "nodeRank", plan.Coordinates.NodeRank)

	if e.DryRun {
		line, err := ShellCommand(plan)
		if err != nil {
			return err
		}
		for _, kv := range plan.EnvList() {
			fmt.Fprintf(e.Stdout, "export %s\n", kv)
		}
		fmt.Fprintln(e.Stdout, line)
		return nil
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), plan.EnvList()...)
	cmd.Dir = plan.Job.Spec.Launcher.WorkDir
	cmd.Stdin, cmd.Stdout, cmd.Stderr = e.Stdin, e.Stdout, e.Stderr

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", argv[0], err)
	}
	logger.Info("Started launcher", "command", argv[0], "pid", cmd.Process.Pid, "master", plan.Coordinates.Master.String())

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ctxDone := ctx.Done()
	var kill <-chan time.Time
	terminate := func(sig os.Signal) {
		if err := cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
			logger.Error(err, "Failed to forward signal", "signal", sig)
		}
		if kill == nil {
			kill = time.After(e.gracePeriod())
		}
	}

	for {
		select {
		case err := <-done:
			return exitError(err)
		case sig := <-sigs:
			logger.Info("Forwarding signal to launcher", "signal", sig)
			terminate(sig)
		case <-ctxDone:
			ctxDone = nil
			logger.Info("Context done, stopping launcher", "reason", ctx.Err())
			terminate(syscall.SIGTERM)
		case <-kill:
			logger.Info("Grace period expired, killing launcher", "gracePeriod", e.gracePeriod())
			if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				logger.Error(err, "Failed to kill launcher")
			}
			kill = nil
		}
	}
}

func (e *Exec) gracePeriod() time.Duration {
	if e.GracePeriod <= 0 {
		return DefaultGracePeriod
	}
	return e.GracePeriod
}

func exitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return err
	}
	code := exitErr.ExitCode()
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		code = 128 + int(ws.Signal())
	}
	return &ExitError{Code: code, Err: err}
}
