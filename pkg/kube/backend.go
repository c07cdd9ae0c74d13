// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package kube

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kaito-project/pretrain/api/v1alpha1"
	"github.com/kaito-project/pretrain/pkg/featuregates"
	"github.com/kaito-project/pretrain/pkg/launcher"
	"github.com/kaito-project/pretrain/pkg/rendezvous"
	"github.com/kaito-project/pretrain/pkg/sku"
	"github.com/kaito-project/pretrain/pkg/utils/consts"
	"github.com/samber/lo"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/config"
)

// CompletionIndexRank evaluates to the completion index the Job controller gives the pod.
const CompletionIndexRank = "${JOB_COMPLETION_INDEX}"

var ErrNoImage = errors.New("no container image for the job")

// NewScheme registers the core and batch types used by the backend.
func NewScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	_ = clientgoscheme.AddToScheme(scheme)
	return scheme
}

// NewClient builds a client from the kubeconfig or the in-cluster config.
func NewClient() (client.Client, error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	return client.New(cfg, client.Options{Scheme: NewScheme()})
}

// Coordinates places a worker pod of the job's Indexed Job. Pod 0 is the master and
// the node rank is the pod's completion index.
func Coordinates(job *v1alpha1.PretrainJob) *rendezvous.Coordinates {
	namespace := lo.Ternary(job.Namespace == "", "default", job.Namespace)
	master := job.Spec.Rendezvous.MasterAddr
	if master == "" {
		master = fmt.Sprintf("%s-0.%s.%s.svc.cluster.local", job.Name, HeadlessServiceName(job), namespace)
	}
	return &rendezvous.Coordinates{
		JobID:        job.Name,
		NumNodes:     job.NodeCount(),
		ProcsPerNode: job.Spec.Resource.GPUsPerNode,
		NodeRank:     CompletionIndexRank,
		Master:       rendezvous.Endpoint{Host: master, Port: consts.DefaultTorchRunPort},
		Elastic:      featuregates.Enabled(consts.FeatureFlagElasticRendezvous),
		Backend:      job.Spec.Rendezvous.Backend,
		MaxRestarts:  lo.FromPtr(job.Spec.Rendezvous.MaxRestarts),
	}
}

// Backend runs a job as an Indexed Job with one GPU pod per node behind a headless service.
type Backend struct {
	Client client.Client
	// Image overrides the job's container image.
	Image string
	// Wait blocks Launch until the job succeeds or fails. A zero Timeout waits
	// until the context is cancelled.
	Wait    bool
	Timeout time.Duration
}

func (b *Backend) Launch(ctx context.Context, plan *launcher.Plan) (string, error) {
	job, svc, err := b.Manifests(plan)
	if err != nil {
		return "", err
	}
	if err := CreateResource(ctx, svc, b.Client); err != nil && !apierrors.IsAlreadyExists(err) {
		return "", fmt.Errorf("failed to create service %s: %w", svc.Name, err)
	}
	if err := CreateResource(ctx, job, b.Client); err != nil {
		if !apierrors.IsAlreadyExists(err) {
			return "", fmt.Errorf("failed to create job %s: %w", job.Name, err)
		}
		klog.InfoS("Job already exists, leaving it unchanged", "job", klog.KObj(job))
	}

	if b.Wait {
		if err := CheckResourceStatus(ctx, &batchv1.Job{ObjectMeta: job.ObjectMeta}, b.Client, b.Timeout); err != nil {
			return job.Name, err
		}
	}
	return job.Name, nil
}

// Manifests renders the Indexed Job and headless Service of a plan.
func (b *Backend) Manifests(plan *launcher.Plan) (*batchv1.Job, *corev1.Service, error) {
	job := plan.Job
	image := b.Image
	if image == "" && job.Spec.Launcher.Container != nil {
		image = job.Spec.Launcher.Container.Image
	}
	if image == "" {
		return nil, nil, fmt.Errorf("%w %s", ErrNoImage, job.Name)
	}

	podPlan, err := launcher.NewPlan(job, plan.Preset, Coordinates(job))
	if err != nil {
		return nil, nil, err
	}
	line, err := launcher.ShellCommand(podPlan)
	if err != nil {
		return nil, nil, err
	}
	// The rank is only known inside the pod.
	env := lo.OmitByKeys(podPlan.Env, []string{"NODE_RANK"})
	command := []string{consts.DefaultShell, "-c", fmt.Sprintf("export NODE_RANK=%s\nexec %s", CompletionIndexRank, line)}

	requirements, err := resourceRequirements(job)
	if err != nil {
		return nil, nil, err
	}

	var volumes []corev1.Volume
	var volumeMounts []corev1.VolumeMount
	if job.Spec.Launcher.Container != nil {
		volumes, volumeMounts, err = ConfigDataVolumes(job.Spec.Launcher.Container.Mounts)
		if err != nil {
			return nil, nil, err
		}
	}
	if shm, shmMount, ok := ConfigSHMVolume(job.NodeCount()); ok {
		volumes = append(volumes, shm)
		volumeMounts = append(volumeMounts, shmMount)
	}

	tolerations := GPUTolerations(gpuResourceName(job))
	return GenerateJobManifest(job, image, command, env, requirements, tolerations, volumes, volumeMounts),
		GenerateHeadlessServiceManifest(job), nil
}

// gpuResourceName is the device plugin resource of the job's instance type,
// nvidia.com/gpu when the instance type is unset or unknown.
func gpuResourceName(job *v1alpha1.PretrainJob) corev1.ResourceName {
	if c, ok := sku.GetGPUConfigBySKU(job.Spec.Resource.InstanceType); ok {
		return corev1.ResourceName(c.ResourceName())
	}
	return corev1.ResourceName(consts.NvidiaGPU)
}

func resourceRequirements(job *v1alpha1.PretrainJob) (corev1.ResourceRequirements, error) {
	r := job.Spec.Resource
	gpus := resource.MustParse(fmt.Sprint(r.GPUsPerNode))
	gpuResource := gpuResourceName(job)
	requirements := corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			gpuResource:        gpus,
			corev1.ResourceCPU: resource.MustParse(fmt.Sprint(r.CPUsPerTask)),
		},
		Limits: corev1.ResourceList{
			gpuResource: gpus,
		},
	}
	// Slurm uses 0 for all of the node's memory.
	if r.Memory != "" && r.Memory != "0" {
		mem, err := resource.ParseQuantity(r.Memory)
		if err != nil {
			return requirements, fmt.Errorf("invalid memory %q for job %s: %w", r.Memory, job.Name, err)
		}
		requirements.Requests[corev1.ResourceMemory] = mem
	}
	return requirements, nil
}
