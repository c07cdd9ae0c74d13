// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package e2e

import (
	"fmt"

	"github.com/kaito-project/pretrain/pkg/kube"
	"github.com/kaito-project/pretrain/pkg/launcher"
	"github.com/kaito-project/pretrain/pkg/utils/test"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/samber/lo"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

var _ = Describe("Kubernetes backend", func() {
	It("should create the indexed worker job and its headless service", func() {
		job := test.MockPretrainJobDistributed()
		job.Name = fmt.Sprintf("e2e-%s", lo.RandomString(6, lo.LowerCaseLettersCharset))
		job.Namespace = env.Namespace
		job.Spec.Resource.LabelSelector = nil

		plan, err := launcher.NewPlan(job, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		name, err := (&kube.Backend{Client: env.Client, Image: env.Image}).Launch(env, plan)
		Expect(err).NotTo(HaveOccurred())

		j := &batchv1.Job{ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: job.Namespace}}
		svc := &corev1.Service{ObjectMeta: metav1.ObjectMeta{Name: kube.HeadlessServiceName(job), Namespace: job.Namespace}}
		DeferCleanup(func() {
			env.EventuallyExpectDeleted(j, svc)
		})

		env.EventuallyExpectExists(j, svc)
		Expect(*j.Spec.Completions).To(Equal(int32(2)))
		Expect(*j.Spec.Parallelism).To(Equal(int32(2)))
		Expect(*j.Spec.CompletionMode).To(Equal(batchv1.IndexedCompletion))
		Expect(j.Spec.Template.Spec.Subdomain).To(Equal(svc.Name))
		Expect(svc.Spec.ClusterIP).To(Equal(corev1.ClusterIPNone))
	})
})
