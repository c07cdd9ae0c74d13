// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package main

import (
	"fmt"
	"time"

	"github.com/kaito-project/pretrain/api/v1alpha1"
	"github.com/kaito-project/pretrain/pkg/kube"
	"github.com/kaito-project/pretrain/pkg/launcher"
	"github.com/spf13/cobra"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/yaml"
)

// newKubeClient is replaced in tests.
var newKubeClient = kube.NewClient

func newKubeCommand(o *rootOptions) *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "kube",
		Short: "Run jobs as Indexed Jobs on a Kubernetes cluster",
	}
	cmd.PersistentFlags().StringVarP(&namespace, "namespace", "n", "", "Namespace of the job. Defaults to the job's own or PRETRAIN_NAMESPACE.")

	jobNamespace := func(job *v1alpha1.PretrainJob) {
		switch {
		case namespace != "":
			job.Namespace = namespace
		case job.Namespace == "":
			job.Namespace = o.settings.Namespace
		}
	}

	var (
		image      string
		wait       bool
		timeout    time.Duration
		dryRunKube bool
	)
	apply := &cobra.Command{
		Use:   "apply",
		Short: "Create the headless service and the Indexed Job of a job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			job, preset, err := o.loadJob(ctx)
			if err != nil {
				return err
			}
			jobNamespace(job)
			plan, err := launcher.NewPlan(job, preset, nil)
			if err != nil {
				return err
			}
			backend := &kube.Backend{Image: image, Wait: wait, Timeout: timeout}
			if dryRunKube {
				return printManifests(cmd, backend, plan)
			}
			if backend.Client, err = newKubeClient(); err != nil {
				return err
			}
			name, err := backend.Launch(ctx, plan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job/%s created in %s\n", name, job.Namespace)
			return nil
		},
	}
	addJobFileFlag(apply, o)
	apply.Flags().StringVar(&image, "image", "", "Training image. Overrides launcher.container.image of the job.")
	apply.Flags().BoolVar(&wait, "wait", false, "Wait until the job succeeds or fails.")
	apply.Flags().DurationVar(&timeout, "timeout", 0, "How long to wait for the job. Zero waits until interrupted.")
	apply.Flags().BoolVar(&dryRunKube, "dry-run", false, "Print the manifests instead of creating them.")

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the Indexed Job, its pods and the headless service of a job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			job, _, err := o.loadJob(ctx)
			if err != nil {
				return err
			}
			jobNamespace(job)
			kubeClient, err := newKubeClient()
			if err != nil {
				return err
			}
			meta := metav1.ObjectMeta{Name: job.Name, Namespace: job.Namespace}
			svcMeta := metav1.ObjectMeta{Name: kube.HeadlessServiceName(job), Namespace: job.Namespace}
			for _, obj := range []client.Object{
				&batchv1.Job{ObjectMeta: meta},
				&corev1.Service{ObjectMeta: svcMeta},
			} {
				if err := kube.DeleteResource(ctx, obj, kubeClient); err != nil {
					return fmt.Errorf("failed to delete %s: %w", obj.GetName(), err)
				}
			}
			return nil
		},
	}
	addJobFileFlag(deleteCmd, o)

	cmd.AddCommand(apply, deleteCmd)
	return cmd
}

func printManifests(cmd *cobra.Command, backend *kube.Backend, plan *launcher.Plan) error {
	job, svc, err := backend.Manifests(plan)
	if err != nil {
		return err
	}
	for i, obj := range []client.Object{svc, job} {
		data, err := yaml.Marshal(obj)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", obj.GetName(), err)
		}
		if i > 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "---")
		}
		if _, err := cmd.OutOrStdout().Write(data); err != nil {
			return err
		}
	}
	return nil
}
