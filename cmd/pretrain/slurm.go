// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package main

import (
	"bytes"
	"fmt"
	"time"

	"github.com/kaito-project/pretrain/pkg/launcher"
	"github.com/kaito-project/pretrain/pkg/rendezvous"
	"github.com/kaito-project/pretrain/pkg/slurm"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

func newRenderCommand(o *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the sbatch script of a job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, _, err := o.loadJob(cmd.Context())
			if err != nil {
				return err
			}
			entryPoint, err := o.entryPoint()
			if err != nil {
				return err
			}
			var script bytes.Buffer
			if err := slurm.RenderBatchScript(&script, slurm.NewBatchScript(job, entryPoint)); err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(script.Bytes())
				return err
			}
			if err := afero.WriteFile(o.fs, output, script.Bytes(), 0o755); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			klog.InfoS("Rendered batch script", "job", job.Name, "path", output)
			return nil
		},
	}
	addJobFileFlag(cmd, o)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the script to this file instead of stdout.")
	return cmd
}

func newSubmitCommand(o *rootOptions) *cobra.Command {
	var (
		dryRun       bool
		waitForJob   bool
		pollInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a job with sbatch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			job, preset, err := o.loadJob(ctx)
			if err != nil {
				return err
			}
			plan, err := launcher.NewPlan(job, preset, nil)
			if err != nil {
				return err
			}
			entryPoint, err := o.entryPoint()
			if err != nil {
				return err
			}
			sbatch := o.newSbatch()
			backend := &launcher.SlurmBackend{
				Sbatch:     sbatch,
				EntryPoint: entryPoint,
				DryRun:     dryRun,
				Out:        cmd.OutOrStdout(),
			}
			id, err := backend.Launch(ctx, plan)
			if err != nil || dryRun {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			if !waitForJob {
				return nil
			}

			state, err := sbatch.Wait(ctx, id, pollInterval)
			if err != nil {
				return fmt.Errorf("failed waiting for job %s: %w", id, err)
			}
			if state != slurm.JobStateCompleted {
				return fmt.Errorf("job %s finished in state %s", id, state)
			}
			return nil
		},
	}
	addJobFileFlag(cmd, o)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the batch script instead of submitting it.")
	cmd.Flags().BoolVar(&waitForJob, "wait", false, "Wait for the job to leave the queue. The job is cancelled on interrupt.")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 30*time.Second, "How often to query squeue while waiting.")
	return cmd
}

func newLaunchCommand(o *rootOptions) *cobra.Command {
	var (
		dryRun      bool
		gracePeriod time.Duration
	)
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Start the training launcher on this node of a Slurm allocation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			job, preset, err := o.loadJob(ctx)
			if err != nil {
				return err
			}
			alloc, err := slurm.LoadAllocation()
			if err != nil {
				return err
			}
			coords, err := rendezvous.Resolve(alloc, job)
			if err != nil {
				return err
			}
			plan, err := launcher.NewPlan(job, preset, coords)
			if err != nil {
				return err
			}

			exec := launcher.NewExec()
			exec.Stdout, exec.Stderr = cmd.OutOrStdout(), cmd.ErrOrStderr()
			exec.DryRun = dryRun
			exec.GracePeriod = gracePeriod
			_, err = (&launcher.LocalBackend{Exec: exec}).Launch(klog.NewContext(ctx, klog.Background()), plan)
			return err
		},
	}
	addJobFileFlag(cmd, o)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the environment and launcher command instead of running it.")
	cmd.Flags().DurationVar(&gracePeriod, "grace-period", launcher.DefaultGracePeriod, "Time the launcher gets to exit after a termination signal.")
	return cmd
}
