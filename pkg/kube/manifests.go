// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package kube

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/kaito-project/pretrain/api/v1alpha1"
	"github.com/kaito-project/pretrain/pkg/utils/consts"
	"github.com/samber/lo"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

// HeadlessServiceName names the service that gives every worker pod a stable DNS name.
func HeadlessServiceName(job *v1alpha1.PretrainJob) string {
	return fmt.Sprintf("%s-headless", job.Name)
}

func selectorLabels(job *v1alpha1.PretrainJob) map[string]string {
	return map[string]string{
		v1alpha1.LabelPretrainJobName: job.Name,
	}
}

func GenerateHeadlessServiceManifest(job *v1alpha1.PretrainJob) *corev1.Service {
	return &corev1.Service{
		TypeMeta: v1.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: v1.ObjectMeta{
			Name:      HeadlessServiceName(job),
			Namespace: job.Namespace,
			Labels:    selectorLabels(job),
		},
		Spec: corev1.ServiceSpec{
			Selector:  selectorLabels(job),
			ClusterIP: corev1.ClusterIPNone,
			Ports: []corev1.ServicePort{
				{
					Name:       "torchrun",
					Protocol:   corev1.ProtocolTCP,
					Port:       consts.DefaultTorchRunPort,
					TargetPort: intstr.FromInt32(consts.DefaultTorchRunPort),
				},
			},
			// Workers resolve the master while it is still starting up.
			PublishNotReadyAddresses: true,
		},
	}
}

// GPUTolerations let worker pods onto nodes tainted with the GPU resource name.
func GPUTolerations(gpuResource corev1.ResourceName) []corev1.Toleration {
	return []corev1.Toleration{
		{
			Effect:   corev1.TaintEffectNoSchedule,
			Operator: corev1.TolerationOpExists,
			Key:      string(gpuResource),
		},
		{
			Effect:   corev1.TaintEffectNoSchedule,
			Value:    consts.GPUString,
			Key:      consts.SKUString,
			Operator: corev1.TolerationOpEqual,
		},
	}
}

func envVars(env map[string]string) []corev1.EnvVar {
	vars := lo.MapToSlice(env, func(k, v string) corev1.EnvVar {
		return corev1.EnvVar{Name: k, Value: v}
	})
	sort.Slice(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
	return vars
}

// GenerateJobManifest renders an Indexed Job with one pod per node. Pods get the
// hostname <job>-<index> under the headless service, so pod 0 is reachable as the master.
func GenerateJobManifest(job *v1alpha1.PretrainJob, imageName string, commands []string, env map[string]string,
	resourceRequirements corev1.ResourceRequirements, tolerations []corev1.Toleration,
	volumes []corev1.Volume, volumeMounts []corev1.VolumeMount) *batchv1.Job {

	var nodeRequirements []corev1.NodeSelectorRequirement
	if job.Spec.Resource.LabelSelector != nil {
		for _, key := range lo.Keys(job.Spec.Resource.LabelSelector.MatchLabels) {
			nodeRequirements = append(nodeRequirements, corev1.NodeSelectorRequirement{
				Key:      key,
				Operator: corev1.NodeSelectorOpIn,
				Values:   []string{job.Spec.Resource.LabelSelector.MatchLabels[key]},
			})
		}
	}
	if job.Spec.Resource.InstanceType != "" {
		nodeRequirements = append(nodeRequirements, corev1.NodeSelectorRequirement{
			Key:      corev1.LabelInstanceTypeStable,
			Operator: corev1.NodeSelectorOpIn,
			Values:   []string{job.Spec.Resource.InstanceType},
		})
	}
	sort.Slice(nodeRequirements, func(i, j int) bool { return nodeRequirements[i].Key < nodeRequirements[j].Key })
	var affinity *corev1.Affinity
	if len(nodeRequirements) > 0 {
		affinity = &corev1.Affinity{
			NodeAffinity: &corev1.NodeAffinity{
				RequiredDuringSchedulingIgnoredDuringExecution: &corev1.NodeSelector{
					NodeSelectorTerms: []corev1.NodeSelectorTerm{
						{
							MatchExpressions: nodeRequirements,
						},
					},
				},
			},
		}
	}

	podLabels := lo.Assign(selectorLabels(job), map[string]string{
		v1alpha1.LabelPresetName: string(job.Spec.Model.Preset),
	})

	nodes := int32(job.NodeCount())
	return &batchv1.Job{
		TypeMeta: v1.TypeMeta{APIVersion: "batch/v1", Kind: "Job"},
		ObjectMeta: v1.ObjectMeta{
			Name:      job.Name,
			Namespace: job.Namespace,
			Labels:    podLabels,
			Annotations: map[string]string{
				v1alpha1.AnnotationWorldSize: strconv.Itoa(job.WorldSize()),
			},
		},
		Spec: batchv1.JobSpec{
			CompletionMode: lo.ToPtr(batchv1.IndexedCompletion),
			Completions:    lo.ToPtr(nodes),
			Parallelism:    lo.ToPtr(nodes),
			// torchrun restarts workers itself, a failed pod fails the job.
			BackoffLimit: lo.ToPtr(int32(0)),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: v1.ObjectMeta{
					Labels: podLabels,
				},
				Spec: corev1.PodSpec{
					Subdomain:     HeadlessServiceName(job),
					RestartPolicy: corev1.RestartPolicyNever,
					Affinity:      affinity,
					Containers: []corev1.Container{
						{
							Name:       job.Name,
							Image:      imageName,
							Command:    commands,
							Env:        envVars(env),
							WorkingDir: job.Spec.Launcher.WorkDir,
							Resources:  resourceRequirements,
							Ports: []corev1.ContainerPort{
								{
									Name:          "torchrun",
									ContainerPort: consts.DefaultTorchRunPort,
								},
							},
							VolumeMounts: volumeMounts,
						},
					},
					Tolerations: tolerations,
					Volumes:     volumes,
				},
			},
		},
	}
}
