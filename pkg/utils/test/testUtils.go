// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package test

import (
	"github.com/kaito-project/pretrain/api/v1alpha1"
	"github.com/samber/lo"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

const (
	LabelKeyNvidia    = "accelerator"
	LabelValueNvidia  = "nvidia"
	CapacityNvidiaGPU = "nvidia.com/gpu"
)

// MockPretrainJob returns a defaulted single node job on the "test-model" preset.
// RegisterTestModel must have been called.
func MockPretrainJob() *v1alpha1.PretrainJob {
	j := &v1alpha1.PretrainJob{
		TypeMeta: metav1.TypeMeta{
			APIVersion: v1alpha1.GroupVersion.String(),
			Kind:       "PretrainJob",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      "testjob",
			Namespace: "kaito",
		},
		Spec: v1alpha1.PretrainJobSpec{
			Resource: v1alpha1.ResourceSpec{
				Nodes:       lo.ToPtr(1),
				GPUsPerNode: 2,
				CPUsPerTask: 16,
				LabelSelector: &metav1.LabelSelector{
					MatchLabels: map[string]string{
						"apps": "test",
					},
				},
			},
			Model: v1alpha1.ModelSpec{Preset: "test-model"},
			Training: v1alpha1.TrainingSpec{
				TrainIters: 100,
			},
			Optimizer: v1alpha1.OptimizerSpec{
				LR:    1e-4,
				MinLR: 1e-5,
			},
			Data: v1alpha1.DataSpec{
				Paths:     []v1alpha1.DataPath{{Prefix: "/mnt/data/corpus_text_document"}},
				VocabFile: "/mnt/data/vocab.json",
				MergeFile: "/mnt/data/merges.txt",
			},
			Launcher: v1alpha1.LauncherSpec{
				WorkDir: "/workspace/Megatron-LM",
				Container: &v1alpha1.ContainerSpec{
					Image:  "mcr.microsoft.com/aks/kaito/megatron:0.0.1",
					Mounts: []string{"/mnt/data:/mnt/data"},
				},
			},
		},
	}
	j.ApplyPreset((&testModel{}).GetPretrainParameters())
	j.SetDefaults()
	return j
}

// MockPretrainJobDistributed is MockPretrainJob spread over two nodes with tensor
// and pipeline parallelism.
func MockPretrainJobDistributed() *v1alpha1.PretrainJob {
	j := MockPretrainJob()
	j.Name = "testjob-distributed"
	j.Spec.Model = v1alpha1.ModelSpec{Preset: "test-parallel-model"}
	j.Spec.Resource.Nodes = lo.ToPtr(2)
	j.Spec.Parallelism = v1alpha1.ParallelismSpec{}
	j.Spec.Training.GlobalBatchSize = 0
	j.Spec.Data.TokenizerType = v1alpha1.TokenizerSentencePiece
	j.Spec.Data.TokenizerModel = "/mnt/data/tokenizer.model"
	j.ApplyPreset((&testParallelModel{}).GetPretrainParameters())
	j.SetDefaults()
	return j
}

var (
	MockJobSucceeded = &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "testjob-distributed",
			Namespace: "kaito",
		},
		Spec: batchv1.JobSpec{
			Completions: lo.ToPtr(int32(2)),
			Parallelism: lo.ToPtr(int32(2)),
		},
		Status: batchv1.JobStatus{
			Succeeded: 2,
		},
	}

	MockGPUNode = &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{
			Name: "gpu-node-1",
			Labels: map[string]string{
				LabelKeyNvidia: LabelValueNvidia,
				"apps":         "test",
			},
		},
	}
)

func NewTestScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	_ = corev1.AddToScheme(scheme)
	_ = batchv1.AddToScheme(scheme)
	return scheme
}
