// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package launcher

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/kaito-project/pretrain/pkg/slurm"
	"k8s.io/klog/v2"
)

// Backend starts a planned job somewhere and returns an identifier for it.
type Backend interface {
	Launch(ctx context.Context, plan *Plan) (string, error)
}

// LocalBackend runs the launcher on this node. It is what every node of a Slurm
// job step executes.
type LocalBackend struct {
	Exec *Exec
}

func (b *LocalBackend) Launch(ctx context.Context, plan *Plan) (string, error) {
	if err := b.Exec.Run(ctx, plan); err != nil {
		return "", err
	}
	return plan.Coordinates.JobID, nil
}

// SlurmBackend renders the batch script of a job and queues it with sbatch. The script
// re-enters this tool on every node through EntryPoint.
type SlurmBackend struct {
	Sbatch *slurm.Sbatch
	// EntryPoint is the per-node command, e.g. pretrain launch -f job.yaml.
	EntryPoint []string
	// DryRun writes the script to Out instead of submitting it.
	DryRun bool
	Out    io.Writer
}

func (b *SlurmBackend) Launch(ctx context.Context, plan *Plan) (string, error) {
	var script bytes.Buffer
	if err := slurm.RenderBatchScript(&script, slurm.NewBatchScript(plan.Job, b.EntryPoint)); err != nil {
		return "", err
	}
	if b.DryRun {
		if _, err := b.Out.Write(script.Bytes()); err != nil {
			return "", fmt.Errorf("failed to write batch script: %w", err)
		}
		return "", nil
	}
	id, err := b.Sbatch.Submit(ctx, plan.Job.Name, script.Bytes())
	if err != nil {
		return "", fmt.Errorf("failed to submit job %s: %w", plan.Job.Name, err)
	}
	klog.InfoS("Queued pretrain job", "job", plan.Job.Name, "jobID", id, "nodes", plan.Job.NodeCount(), "worldSize", plan.Job.WorldSize())
	return id, nil
}
