// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package kube

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/util/retry"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

func retriable(err error) bool {
	return !apierrors.IsAlreadyExists(err) && !apierrors.IsInvalid(err) && !apierrors.IsForbidden(err)
}

func CreateResource(ctx context.Context, resource client.Object, kubeClient client.Client) error {
	switch r := resource.(type) {
	case *batchv1.Job:
		klog.InfoS("CreateJob", "job", klog.KObj(r))
	case *corev1.Service:
		klog.InfoS("CreateService", "service", klog.KObj(r))
	}

	return retry.OnError(retry.DefaultBackoff, retriable, func() error {
		return kubeClient.Create(ctx, resource, &client.CreateOptions{})
	})
}

func GetResource(ctx context.Context, name, namespace string, kubeClient client.Client, resource client.Object) error {
	return retry.OnError(retry.DefaultBackoff, func(err error) bool {
		return !apierrors.IsNotFound(err)
	}, func() error {
		return kubeClient.Get(ctx, client.ObjectKey{Name: name, Namespace: namespace}, resource, &client.GetOptions{})
	})
}

// DeleteResource removes the object, treating an already deleted object as success.
func DeleteResource(ctx context.Context, resource client.Object, kubeClient client.Client) error {
	klog.InfoS("DeleteResource", "kind", fmt.Sprintf("%T", resource), "resource", klog.KObj(resource))
	err := kubeClient.Delete(ctx, resource, client.PropagationPolicy("Background"))
	return client.IgnoreNotFound(err)
}

// jobConditionTrue reports whether the job carries the condition with status True.
func jobConditionTrue(job *batchv1.Job, conditionType batchv1.JobConditionType) bool {
	return lo.ContainsBy(job.Status.Conditions, func(c batchv1.JobCondition) bool {
		return c.Type == conditionType && c.Status == corev1.ConditionTrue
	})
}

// CheckResourceStatus polls obj until a Job completes, failing as soon as one of
// its pods fails. A timeoutDuration of zero leaves the deadline to ctx.
func CheckResourceStatus(ctx context.Context, obj client.Object, kubeClient client.Client, timeoutDuration time.Duration) error {
	if timeoutDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeoutDuration)
		defer cancel()
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s %s is not complete: %w", fmt.Sprintf("%T", obj), obj.GetName(), ctx.Err())

		case <-ticker.C:
			key := client.ObjectKeyFromObject(obj)
			if err := kubeClient.Get(ctx, key, obj); err != nil {
				return err
			}

			switch k8sResource := obj.(type) {
			case *batchv1.Job:
				if k8sResource.Status.Failed > 0 || jobConditionTrue(k8sResource, batchv1.JobFailed) {
					klog.ErrorS(nil, "job failed", "job", k8sResource.Name, "failed", k8sResource.Status.Failed)
					return fmt.Errorf("job %s has failed %d pods", k8sResource.Name, k8sResource.Status.Failed)
				}
				completions := lo.FromPtrOr(k8sResource.Spec.Completions, 1)
				if k8sResource.Status.Succeeded >= completions || jobConditionTrue(k8sResource, batchv1.JobComplete) {
					klog.InfoS("job status is complete", "job", k8sResource.Name)
					return nil
				}
				klog.V(4).InfoS("waiting for job", "job", k8sResource.Name,
					"active", k8sResource.Status.Active, "succeeded", k8sResource.Status.Succeeded, "completions", completions)
			default:
				return fmt.Errorf("unsupported resource type %T", obj)
			}
		}
	}
}
