// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package launcher

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kaito-project/pretrain/pkg/utils/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLauncher writes an executable shell script standing in for torchrun.
func fakeLauncher(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "torchrun")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func execPlan(t *testing.T, launcher string) *Plan {
	t.Helper()
	job := test.MockPretrainJob()
	job.Spec.Launcher.Command = launcher
	job.Spec.Launcher.WorkDir = ""
	job.Spec.Launcher.Env = map[string]string{"PRETRAIN_TEST_VALUE": "from-plan"}
	plan, err := NewPlan(job, nil, testCoordinates())
	require.NoError(t, err)
	return plan
}

func TestExecRun(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		launcher := fakeLauncher(t, `echo "$PRETRAIN_TEST_VALUE $MASTER_ADDR $2"`)
		var out bytes.Buffer
		e := &Exec{Stdout: &out, Stderr: &out}

		require.NoError(t, e.Run(context.Background(), execPlan(t, launcher)))
		assert.Equal(t, "from-plan gpu-001 --nproc_per_node=2\n", out.String())
	})

	t.Run("Exit code", func(t *testing.T) {
		launcher := fakeLauncher(t, "exit 3")
		e := &Exec{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}

		err := e.Run(context.Background(), execPlan(t, launcher))
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 3, exitErr.Code)
		assert.Equal(t, "launcher exited with code 3", err.Error())
	})

	t.Run("Context cancel forwards SIGTERM", func(t *testing.T) {
		launcher := fakeLauncher(t, "trap 'exit 42' TERM\nwhile true; do sleep 0.1; done")
		e := &Exec{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}, GracePeriod: 10 * time.Second}

		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		err := e.Run(ctx, execPlan(t, launcher))
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 42, exitErr.Code)
	})

	t.Run("Grace period kills launcher", func(t *testing.T) {
		launcher := fakeLauncher(t, "trap '' TERM\nwhile true; do sleep 0.1; done")
		e := &Exec{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}, GracePeriod: 300 * time.Millisecond}

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		err := e.Run(ctx, execPlan(t, launcher))
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 137, exitErr.Code)
	})

	t.Run("Missing launcher", func(t *testing.T) {
		e := &Exec{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
		err := e.Run(context.Background(), execPlan(t, filepath.Join(t.TempDir(), "missing")))
		assert.ErrorContains(t, err, "failed to start")
	})
}

func TestExecDryRun(t *testing.T) {
	var out bytes.Buffer
	e := &Exec{Stdout: &out, DryRun: true}

	require.NoError(t, e.Run(context.Background(), execPlan(t, "torchrun")))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Contains(t, lines, "export MASTER_ADDR=gpu-001")
	assert.Contains(t, lines, "export PRETRAIN_TEST_VALUE=from-plan")
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "torchrun --nnodes=2"))
}
