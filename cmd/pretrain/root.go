// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kaito-project/pretrain/api/v1alpha1"
	"github.com/kaito-project/pretrain/pkg/config"
	"github.com/kaito-project/pretrain/pkg/featuregates"
	"github.com/kaito-project/pretrain/pkg/model"
	"github.com/kaito-project/pretrain/pkg/slurm"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

type rootOptions struct {
	fs           afero.Fs
	settings     *config.Settings
	featureGates string
	jobFile      string
	// runner executes the Slurm client commands.
	runner slurm.Runner
}

func newRootOptions() *rootOptions {
	return &rootOptions{fs: afero.NewOsFs(), runner: slurm.ExecRunner{}}
}

func (o *rootOptions) newSbatch() *slurm.Sbatch {
	sbatch := slurm.NewSbatch(o.fs, o.settings.ScriptDir)
	if o.runner != nil {
		sbatch.Runner = o.runner
	}
	return sbatch
}

// NewRootCommand wires every subcommand of the pretrain tool.
func NewRootCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pretrain",
		Short:         "Launch distributed LLM pretraining jobs on Slurm and Kubernetes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.LoadSettings()
			if err != nil {
				return err
			}
			o.settings = settings
			gates := o.featureGates
			if !cmd.Flags().Changed("feature-gates") {
				gates = settings.FeatureGates
			}
			if err := featuregates.ParseAndValidateFeatureGates(gates); err != nil {
				return fmt.Errorf("unable to parse `feature-gates` flag: %w", err)
			}
			o.featureGates = gates
			return nil
		},
	}

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	cmd.PersistentFlags().AddGoFlagSet(klogFlags)
	cmd.PersistentFlags().StringVar(&o.featureGates, "feature-gates", "", "Comma separated feature gates, e.g. ElasticRendezvous=true,PortFromJobID=true.")

	cmd.AddCommand(
		newRenderCommand(o),
		newSubmitCommand(o),
		newLaunchCommand(o),
		newArgsCommand(o),
		newPlanCommand(o),
		newPresetsCommand(),
		newKubeCommand(o),
	)
	return cmd
}

func addJobFileFlag(cmd *cobra.Command, o *rootOptions) {
	cmd.Flags().StringVarP(&o.jobFile, "file", "f", "", "Path to the PretrainJob document.")
	_ = cmd.MarkFlagRequired("file")
}

func (o *rootOptions) loadJob(ctx context.Context) (*v1alpha1.PretrainJob, *model.PresetParam, error) {
	return config.LoadJob(ctx, o.fs, o.jobFile)
}

// entryPoint is the command every node of a batch job runs to start its launcher.
func (o *rootOptions) entryPoint() ([]string, error) {
	exe := o.settings.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("failed to locate the pretrain executable: %w", err)
		}
	}
	jobFile, err := filepath.Abs(o.jobFile)
	if err != nil {
		return nil, err
	}
	cmd := []string{exe, "launch", "-f", jobFile}
	if o.featureGates != "" {
		cmd = append(cmd, "--feature-gates="+o.featureGates)
	}
	return cmd, nil
}
