// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package kube

import (
	"context"
	"strings"
	"time"

	"github.com/kaito-project/pretrain/pkg/featuregates"
	"github.com/kaito-project/pretrain/pkg/launcher"
	"github.com/kaito-project/pretrain/pkg/utils/consts"
	"github.com/kaito-project/pretrain/pkg/utils/test"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"
)

var _ = Describe("Backend", func() {
	var (
		ctx  context.Context
		plan *launcher.Plan
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		plan, err = launcher.NewPlan(test.MockPretrainJobDistributed(), nil, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Coordinates", func() {
		It("points every pod at pod 0 of the headless service", func() {
			c := Coordinates(plan.Job)
			Expect(c.Master.String()).To(Equal("testjob-distributed-0.testjob-distributed-headless.kaito.svc.cluster.local:29500"))
			Expect(c.NodeRank).To(Equal(CompletionIndexRank))
			Expect(c.NumNodes).To(Equal(2))
			Expect(c.WorldSize()).To(Equal(4))
			Expect(c.Elastic).To(BeFalse())
		})

		It("uses elastic rendezvous when the gate is on", func() {
			prev := featuregates.FeatureGates[consts.FeatureFlagElasticRendezvous]
			featuregates.FeatureGates[consts.FeatureFlagElasticRendezvous] = true
			DeferCleanup(func() { featuregates.FeatureGates[consts.FeatureFlagElasticRendezvous] = prev })

			Expect(Coordinates(plan.Job).Elastic).To(BeTrue())
			j, _, err := (&Backend{}).Manifests(plan)
			Expect(err).NotTo(HaveOccurred())
			Expect(j.Spec.Template.Spec.Containers[0].Command[2]).To(ContainSubstring(
				"--rdzv_endpoint=testjob-distributed-0.testjob-distributed-headless.kaito.svc.cluster.local:29500"))
		})

		It("honors an explicit master address", func() {
			plan.Job.Spec.Rendezvous.MasterAddr = "10.0.0.4"
			Expect(Coordinates(plan.Job).Master.Host).To(Equal("10.0.0.4"))
		})
	})

	Describe("Manifests", func() {
		It("renders a pod command that resolves its rank at runtime", func() {
			b := &Backend{}
			j, svc, err := b.Manifests(plan)
			Expect(err).NotTo(HaveOccurred())
			Expect(svc.Name).To(Equal(j.Spec.Template.Spec.Subdomain))

			c := j.Spec.Template.Spec.Containers[0]
			Expect(c.Image).To(Equal("mcr.microsoft.com/aks/kaito/megatron:0.0.1"))
			Expect(c.Command).To(HaveLen(3))
			Expect(c.Command[2]).To(HavePrefix("export NODE_RANK=${JOB_COMPLETION_INDEX}\nexec torchrun --nnodes=2 --nproc_per_node=2 --node_rank=${JOB_COMPLETION_INDEX} "))
			Expect(c.Env).To(ContainElement(corev1.EnvVar{Name: "MASTER_PORT", Value: "29500"}))
			Expect(c.Env).NotTo(ContainElement(HaveField("Name", "NODE_RANK")))

			Expect(c.Resources.Limits).To(HaveKeyWithValue(corev1.ResourceName("nvidia.com/gpu"), resource.MustParse("2")))
			Expect(c.Resources.Requests).To(HaveKeyWithValue(corev1.ResourceCPU, resource.MustParse("16")))
			Expect(c.VolumeMounts).To(ContainElement(HaveField("MountPath", "/dev/shm")))
			Expect(c.VolumeMounts).To(ContainElement(HaveField("MountPath", "/mnt/data")))
		})

		It("requests the GPU resource of an AMD instance type", func() {
			plan.Job.Spec.Resource.InstanceType = "Standard_ND96is_MI300X_v5"
			plan.Job.Spec.Resource.GPUsPerNode = 8
			j, _, err := (&Backend{}).Manifests(plan)
			Expect(err).NotTo(HaveOccurred())

			pod := j.Spec.Template.Spec
			Expect(pod.Containers[0].Resources.Limits).To(HaveKeyWithValue(corev1.ResourceName("amd.com/gpu"), resource.MustParse("8")))
			Expect(pod.Containers[0].Resources.Limits).NotTo(HaveKey(corev1.ResourceName("nvidia.com/gpu")))
			Expect(pod.Tolerations).To(ContainElement(HaveField("Key", "amd.com/gpu")))
		})

		It("prefers the image of the backend", func() {
			b := &Backend{Image: "registry.local/megatron:dev"}
			j, _, err := b.Manifests(plan)
			Expect(err).NotTo(HaveOccurred())
			Expect(j.Spec.Template.Spec.Containers[0].Image).To(Equal("registry.local/megatron:dev"))
		})

		It("fails without an image", func() {
			plan.Job.Spec.Launcher.Container = nil
			_, _, err := (&Backend{}).Manifests(plan)
			Expect(err).To(MatchError(ErrNoImage))
		})

		It("requests the job memory", func() {
			plan.Job.Spec.Resource.Memory = "500Gi"
			j, _, err := (&Backend{}).Manifests(plan)
			Expect(err).NotTo(HaveOccurred())
			Expect(j.Spec.Template.Spec.Containers[0].Resources.Requests).To(HaveKeyWithValue(corev1.ResourceMemory, resource.MustParse("500Gi")))
		})

		It("rejects memory it cannot parse", func() {
			plan.Job.Spec.Resource.Memory = "lots"
			_, _, err := (&Backend{}).Manifests(plan)
			Expect(err).To(MatchError(ContainSubstring("invalid memory")))
		})
	})

	Describe("Launch", func() {
		It("creates the service and the indexed job", func() {
			cl := fake.NewClientBuilder().WithScheme(NewScheme()).Build()
			b := &Backend{Client: cl}

			name, err := b.Launch(ctx, plan)
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("testjob-distributed"))

			j := &batchv1.Job{}
			Expect(cl.Get(ctx, client.ObjectKey{Name: name, Namespace: "kaito"}, j)).To(Succeed())
			Expect(*j.Spec.Completions).To(Equal(int32(2)))
			Expect(*j.Spec.CompletionMode).To(Equal(batchv1.IndexedCompletion))
			svc := &corev1.Service{}
			Expect(cl.Get(ctx, client.ObjectKey{Name: "testjob-distributed-headless", Namespace: "kaito"}, svc)).To(Succeed())
		})

		It("is idempotent", func() {
			cl := fake.NewClientBuilder().WithScheme(NewScheme()).Build()
			b := &Backend{Client: cl}

			_, err := b.Launch(ctx, plan)
			Expect(err).NotTo(HaveOccurred())
			_, err = b.Launch(ctx, plan)
			Expect(err).NotTo(HaveOccurred())
		})

		It("waits for every pod to succeed", func() {
			cl := fake.NewClientBuilder().WithScheme(NewScheme()).WithInterceptorFuncs(interceptor.Funcs{
				Get: func(ctx context.Context, c client.WithWatch, key client.ObjectKey, obj client.Object, opts ...client.GetOption) error {
					if err := c.Get(ctx, key, obj, opts...); err != nil {
						return err
					}
					if j, ok := obj.(*batchv1.Job); ok {
						j.Status.Succeeded = *j.Spec.Completions
					}
					return nil
				},
			}).Build()
			b := &Backend{Client: cl, Wait: true, Timeout: 5 * time.Second}

			_, err := b.Launch(ctx, plan)
			Expect(err).NotTo(HaveOccurred())
		})

		It("reports a failed pod", func() {
			cl := fake.NewClientBuilder().WithScheme(NewScheme()).WithInterceptorFuncs(interceptor.Funcs{
				Get: func(ctx context.Context, c client.WithWatch, key client.ObjectKey, obj client.Object, opts ...client.GetOption) error {
					if err := c.Get(ctx, key, obj, opts...); err != nil {
						return err
					}
					if j, ok := obj.(*batchv1.Job); ok {
						j.Status.Failed = 1
					}
					return nil
				},
			}).Build()
			b := &Backend{Client: cl, Wait: true}

			_, err := b.Launch(ctx, plan)
			Expect(err).To(MatchError("job testjob-distributed has failed 1 pods"))
		})

		It("reports a job that does not finish in time", func() {
			cl := fake.NewClientBuilder().WithScheme(NewScheme()).Build()
			b := &Backend{Client: cl, Wait: true, Timeout: 50 * time.Millisecond}

			name, err := b.Launch(ctx, plan)
			Expect(name).To(Equal("testjob-distributed"))
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(strings.Contains(err.Error(), "is not complete")).To(BeTrue())
		})
	})
})
