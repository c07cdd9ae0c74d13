// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/kaito-project/pretrain/pkg/megatron"
	"github.com/kaito-project/pretrain/pkg/utils/plugin"
	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"
)

func newArgsCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "args",
		Short: "Print the training program arguments of a job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, preset, err := o.loadJob(cmd.Context())
			if err != nil {
				return err
			}
			trainArgs, err := megatron.BuildArgs(job, preset)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), shellquote.Join(trainArgs...))
			return err
		},
	}
	addJobFileFlag(cmd, o)
	return cmd
}

func newPlanCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Summarize the batch layout and token budget of a job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, _, err := o.loadJob(cmd.Context())
			if err != nil {
				return err
			}
			p, err := megatron.PlanBatch(job)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", job.Name, p)
			return err
		},
	}
	addJobFileFlag(cmd, o)
	return cmd
}

func newPresetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the supported model presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tFAMILY\tLAYERS\tHIDDEN\tHEADS\tSEQ\tTP\tPP")
			for _, name := range plugin.PresetRegister.ListModelNames() {
				p := plugin.PresetRegister.MustGet(name).GetPretrainParameters()
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n", name, p.ModelFamilyName, p.NumLayers,
					p.HiddenSize, p.NumAttentionHeads, p.SeqLength, p.TensorModelParallelSize, p.PipelineModelParallelSize)
			}
			return w.Flush()
		},
	}
}
