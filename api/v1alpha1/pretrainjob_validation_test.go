// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package v1alpha1

import (
	"context"
	"strings"
	"testing"

	"github.com/kaito-project/pretrain/pkg/model"
	"github.com/kaito-project/pretrain/pkg/utils/plugin"
	"github.com/samber/lo"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

type testModel struct{}

func (*testModel) GetPretrainParameters() *model.PresetParam {
	return &model.PresetParam{
		NumLayers:                 24,
		HiddenSize:                1024,
		NumAttentionHeads:         16,
		SeqLength:                 2048,
		MaxPositionEmbeddings:     2048,
		PositionEmbeddingType:     "learned_absolute",
		TokenizerType:             TokenizerGPT2BPE,
		TensorModelParallelSize:   1,
		PipelineModelParallelSize: 1,
		PerGPUMemoryRequirement:   "40Gi",
	}
}
func (*testModel) SupportPipelineParallel() bool {
	return true
}

type testModelNoPipeline struct {
	testModel
}

func (*testModelNoPipeline) SupportPipelineParallel() bool {
	return false
}

func RegisterValidationTestModels() {
	plugin.PresetRegister.Register(&plugin.Registration{
		Name:     "test-validation",
		Instance: &testModel{},
	})
	plugin.PresetRegister.Register(&plugin.Registration{
		Name:     "test-validation-no-pipeline",
		Instance: &testModelNoPipeline{},
	})
}

func basePretrainJob() *PretrainJob {
	return &PretrainJob{
		TypeMeta: metav1.TypeMeta{
			APIVersion: GroupVersion.String(),
			Kind:       "PretrainJob",
		},
		ObjectMeta: metav1.ObjectMeta{Name: "gpt-run"},
		Spec: PretrainJobSpec{
			Resource: ResourceSpec{Nodes: lo.ToPtr(2), GPUsPerNode: 8},
			Model:    ModelSpec{Preset: "test-validation"},
			Training: TrainingSpec{TrainIters: 1000},
			Optimizer: OptimizerSpec{
				LR:    3e-4,
				MinLR: 3e-5,
			},
			Data: DataSpec{
				Paths:     []DataPath{{Prefix: "/data/corpus_text_document"}},
				VocabFile: "/data/gpt2-vocab.json",
				MergeFile: "/data/gpt2-merges.txt",
			},
		},
	}
}

// defaulted runs the same steps the CLI runs before validation.
func defaulted(j *PretrainJob) *PretrainJob {
	if m, ok := plugin.PresetRegister.Get(string(j.Spec.Model.Preset)); ok {
		j.ApplyPreset(m.GetPretrainParameters())
	}
	j.SetDefaults()
	return j
}

func TestPretrainJobValidate(t *testing.T) {
	RegisterValidationTestModels()
	tests := []struct {
		name       string
		mutate     func(j *PretrainJob)
		errContent string // Content expect error to include, if any
		expectErrs bool
	}{
		{
			name:   "Valid job",
			mutate: func(j *PretrainJob) {},
		},
		{
			name: "Valid job with explicit model and sample based schedule",
			mutate: func(j *PretrainJob) {
				j.Spec.Model = ModelSpec{NumLayers: 12, HiddenSize: 768, NumAttentionHeads: 12, SeqLength: 1024}
				j.Spec.Training = TrainingSpec{TrainSamples: 1000000, GlobalBatchSize: 64, RampupBatchSize: []int{16, 16, 5000}}
				j.Spec.Optimizer.LRWarmupSamples = 10000
			},
		},
		{
			name: "Valid job on a known instance type",
			mutate: func(j *PretrainJob) {
				j.Spec.Resource.InstanceType = "Standard_ND96asr_v4"
			},
		},
		{
			name: "Unknown instance type",
			mutate: func(j *PretrainJob) {
				j.Spec.Resource.InstanceType = "Standard_D4s_v3"
			},
			errContent: "Unsupported instance type Standard_D4s_v3: spec.resource.instanceType",
			expectErrs: true,
		},
		{
			name: "More GPUs per node than the instance type has",
			mutate: func(j *PretrainJob) {
				j.Spec.Resource.InstanceType = "Standard_NC96ads_A100_v4"
			},
			errContent: "instance type Standard_NC96ads_A100_v4 has 4 GPUs but gpusPerNode is 8",
			expectErrs: true,
		},
		{
			name: "Instance type with too little memory per GPU",
			mutate: func(j *PretrainJob) {
				j.Spec.Resource.InstanceType = "Standard_NC24s_v3"
				j.Spec.Resource.GPUsPerNode = 4
			},
			errContent: "has 16Gi of memory per GPU, preset test-validation needs 40Gi",
			expectErrs: true,
		},
		{
			name: "Invalid kind",
			mutate: func(j *PretrainJob) {
				j.Kind = "Workspace"
			},
			errContent: "kind",
			expectErrs: true,
		},
		{
			name: "Invalid name",
			mutate: func(j *PretrainJob) {
				j.Name = "GPT_Run"
			},
			errContent: "metadata.name",
			expectErrs: true,
		},
		{
			name: "Unsupported preset",
			mutate: func(j *PretrainJob) {
				j.Spec.Model.Preset = "unknown-model"
			},
			errContent: "Unsupported preset name unknown-model",
			expectErrs: true,
		},
		{
			name: "Zero GPUs per node",
			mutate: func(j *PretrainJob) {
				j.Spec.Resource.GPUsPerNode = -1
			},
			errContent: "spec.resource.gpusPerNode",
			expectErrs: true,
		},
		{
			name: "World size not divisible by model parallel size",
			mutate: func(j *PretrainJob) {
				j.Spec.Parallelism.TensorModelParallelSize = 3
				j.Spec.Parallelism.PipelineModelParallelSize = 1
			},
			errContent: "world size 16 is not divisible by tensor (3) x pipeline (1) model parallel size",
			expectErrs: true,
		},
		{
			name: "Attention heads not divisible by tensor parallel size",
			mutate: func(j *PretrainJob) {
				j.Spec.Model.NumAttentionHeads = 8
				j.Spec.Model.HiddenSize = 1024
				j.Spec.Parallelism.TensorModelParallelSize = 16
				j.Spec.Parallelism.PipelineModelParallelSize = 1
			},
			errContent: "numAttentionHeads 8 is not divisible by tensorModelParallelSize 16",
			expectErrs: true,
		},
		{
			name: "Layers not divisible by pipeline parallel size",
			mutate: func(j *PretrainJob) {
				j.Spec.Model.NumLayers = 25
				j.Spec.Parallelism.TensorModelParallelSize = 1
				j.Spec.Parallelism.PipelineModelParallelSize = 2
			},
			errContent: "numLayers 25 is not divisible by pipelineModelParallelSize 2",
			expectErrs: true,
		},
		{
			name: "Interleaved schedule with a short pipeline",
			mutate: func(j *PretrainJob) {
				j.Spec.Parallelism.TensorModelParallelSize = 1
				j.Spec.Parallelism.PipelineModelParallelSize = 2
				j.Spec.Parallelism.VirtualPipelineModelParallelSize = 2
			},
			errContent: "interleaved schedule requires pipelineModelParallelSize > 2",
			expectErrs: true,
		},
		{
			name: "Valid interleaved schedule",
			mutate: func(j *PretrainJob) {
				j.Spec.Parallelism.TensorModelParallelSize = 1
				j.Spec.Parallelism.PipelineModelParallelSize = 4
				j.Spec.Parallelism.VirtualPipelineModelParallelSize = 2
			},
		},
		{
			name: "Layers not divisible by pipeline times virtual pipeline size",
			mutate: func(j *PretrainJob) {
				j.Spec.Parallelism.TensorModelParallelSize = 1
				j.Spec.Parallelism.PipelineModelParallelSize = 4
				j.Spec.Parallelism.VirtualPipelineModelParallelSize = 4
			},
			errContent: "numLayers 24 is not divisible by pipeline (4) x virtual pipeline (4) size",
			expectErrs: true,
		},
		{
			name: "Pipeline parallelism on a preset without support",
			mutate: func(j *PretrainJob) {
				j.Spec.Model.Preset = "test-validation-no-pipeline"
				j.Spec.Parallelism.TensorModelParallelSize = 1
				j.Spec.Parallelism.PipelineModelParallelSize = 2
			},
			errContent: "preset test-validation-no-pipeline does not support pipeline parallelism",
			expectErrs: true,
		},
		{
			name: "Sequence parallelism without tensor parallelism",
			mutate: func(j *PretrainJob) {
				j.Spec.Parallelism.SequenceParallel = true
			},
			errContent: "sequence parallelism requires tensorModelParallelSize > 1",
			expectErrs: true,
		},
		{
			name: "Hidden size not divisible by attention heads",
			mutate: func(j *PretrainJob) {
				j.Spec.Model.HiddenSize = 1000
			},
			errContent: "hiddenSize 1000 is not divisible by numAttentionHeads 16",
			expectErrs: true,
		},
		{
			name: "Global batch not divisible by micro batch times data parallel size",
			mutate: func(j *PretrainJob) {
				j.Spec.Training.GlobalBatchSize = 20
			},
			errContent: "globalBatchSize 20 is not divisible by microBatchSize (1) x data parallel size (16)",
			expectErrs: true,
		},
		{
			name: "Both iteration and sample budgets",
			mutate: func(j *PretrainJob) {
				j.Spec.Training.TrainSamples = 100
			},
			errContent: "expected exactly one, got both",
			expectErrs: true,
		},
		{
			name: "Neither iteration nor sample budget",
			mutate: func(j *PretrainJob) {
				j.Spec.Training.TrainIters = 0
			},
			errContent: "expected exactly one, got neither",
			expectErrs: true,
		},
		{
			name: "Rampup with an iteration budget",
			mutate: func(j *PretrainJob) {
				j.Spec.Training.GlobalBatchSize = 64
				j.Spec.Training.RampupBatchSize = []int{16, 16, 1000}
			},
			errContent: "batch size rampup requires trainSamples",
			expectErrs: true,
		},
		{
			name: "Rampup with two values",
			mutate: func(j *PretrainJob) {
				j.Spec.Training.GlobalBatchSize = 64
				j.Spec.Training.RampupBatchSize = []int{16, 16}
			},
			errContent: "spec.training.rampupBatchSize",
			expectErrs: true,
		},
		{
			name: "Rampup start not a multiple of micro batch times data parallel size",
			mutate: func(j *PretrainJob) {
				j.Spec.Training = TrainingSpec{TrainSamples: 100000, GlobalBatchSize: 64, RampupBatchSize: []int{8, 16, 1000}}
			},
			errContent: "rampup start and increment must be positive multiples of 16",
			expectErrs: true,
		},
		{
			name: "Rampup increment not a multiple of micro batch times data parallel size",
			mutate: func(j *PretrainJob) {
				j.Spec.Training = TrainingSpec{TrainSamples: 100000, GlobalBatchSize: 64, RampupBatchSize: []int{16, 24, 1000}}
			},
			errContent: "rampup start and increment must be positive multiples of 16",
			expectErrs: true,
		},
		{
			name: "Rampup start above the global batch",
			mutate: func(j *PretrainJob) {
				j.Spec.Training = TrainingSpec{TrainSamples: 100000, GlobalBatchSize: 64, RampupBatchSize: []int{128, 16, 1000}}
			},
			errContent: "rampup start exceeds globalBatchSize",
			expectErrs: true,
		},
		{
			name: "Unknown precision",
			mutate: func(j *PretrainJob) {
				j.Spec.Training.Precision = "fp8"
			},
			errContent: "spec.training.precision",
			expectErrs: true,
		},
		{
			name: "Missing learning rate",
			mutate: func(j *PretrainJob) {
				j.Spec.Optimizer.LR = 0
				j.Spec.Optimizer.MinLR = 0
			},
			errContent: "spec.optimizer.lr",
			expectErrs: true,
		},
		{
			name: "Minimum learning rate above learning rate",
			mutate: func(j *PretrainJob) {
				j.Spec.Optimizer.MinLR = 1e-3
			},
			errContent: "spec.optimizer.minLR",
			expectErrs: true,
		},
		{
			name: "Iteration schedule with a sample budget",
			mutate: func(j *PretrainJob) {
				j.Spec.Training.TrainIters = 0
				j.Spec.Training.TrainSamples = 100000
				j.Spec.Optimizer.LRWarmupIters = 100
			},
			errContent: "iteration based lr schedule cannot be used with trainSamples",
			expectErrs: true,
		},
		{
			name: "Warmup fraction together with warmup iterations",
			mutate: func(j *PretrainJob) {
				j.Spec.Optimizer.LRWarmupFraction = 0.01
				j.Spec.Optimizer.LRWarmupIters = 100
			},
			errContent: "expected exactly one, got both",
			expectErrs: true,
		},
		{
			name: "Warmup fraction of one",
			mutate: func(j *PretrainJob) {
				j.Spec.Optimizer.LRWarmupFraction = 1
			},
			errContent: "spec.optimizer.lrWarmupFraction",
			expectErrs: true,
		},
		{
			name: "Negative warmup fraction",
			mutate: func(j *PretrainJob) {
				j.Spec.Optimizer.LRWarmupFraction = -0.1
			},
			errContent: "spec.optimizer.lrWarmupFraction",
			expectErrs: true,
		},
		{
			name: "Unknown decay style",
			mutate: func(j *PretrainJob) {
				j.Spec.Optimizer.LRDecayStyle = "step"
			},
			errContent: "spec.optimizer.lrDecayStyle",
			expectErrs: true,
		},
		{
			name: "No data paths",
			mutate: func(j *PretrainJob) {
				j.Spec.Data.Paths = nil
			},
			errContent: "spec.data.paths",
			expectErrs: true,
		},
		{
			name: "Blended data without weights",
			mutate: func(j *PretrainJob) {
				j.Spec.Data.Paths = []DataPath{{Prefix: "/data/a"}, {Weight: 0.5, Prefix: "/data/b"}}
			},
			errContent: "blended datasets need a positive weight: spec.data.paths[0].weight",
			expectErrs: true,
		},
		{
			name: "Two way split",
			mutate: func(j *PretrainJob) {
				j.Spec.Data.Split = "90,10"
			},
			errContent: "spec.data.split",
			expectErrs: true,
		},
		{
			name: "BPE tokenizer without merge file",
			mutate: func(j *PretrainJob) {
				j.Spec.Data.MergeFile = ""
			},
			errContent: "spec.data.mergeFile",
			expectErrs: true,
		},
		{
			name: "SentencePiece tokenizer without model",
			mutate: func(j *PretrainJob) {
				j.Spec.Data.TokenizerType = TokenizerSentencePiece
			},
			errContent: "spec.data.tokenizerModel",
			expectErrs: true,
		},
		{
			name: "Structured logs directory without structured logs",
			mutate: func(j *PretrainJob) {
				j.Spec.Logging.StructuredLogsDir = "/logs"
			},
			errContent: "structuredLogsDir requires structuredLogs",
			expectErrs: true,
		},
		{
			name: "Wandb entity without project",
			mutate: func(j *PretrainJob) {
				j.Spec.Logging.WandbEntity = "team"
			},
			errContent: "wandbEntity and wandbProject must be set together",
			expectErrs: true,
		},
		{
			name: "Invalid environment variable name",
			mutate: func(j *PretrainJob) {
				j.Spec.Launcher.Env = map[string]string{"NCCL DEBUG": "INFO"}
			},
			errContent: "spec.launcher.env",
			expectErrs: true,
		},
		{
			name: "Container without image",
			mutate: func(j *PretrainJob) {
				j.Spec.Launcher.Container = &ContainerSpec{}
			},
			errContent: "spec.launcher.container.image",
			expectErrs: true,
		},
		{
			name: "Master port out of range",
			mutate: func(j *PretrainJob) {
				j.Spec.Rendezvous.MasterPort = 70000
			},
			errContent: "spec.rendezvous.masterPort",
			expectErrs: true,
		},
		{
			name: "Negative max restarts",
			mutate: func(j *PretrainJob) {
				j.Spec.Rendezvous.MaxRestarts = lo.ToPtr(-1)
			},
			errContent: "spec.rendezvous.maxRestarts",
			expectErrs: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			j := basePretrainJob()
			tc.mutate(j)
			errs := defaulted(j).Validate(context.Background())
			hasErrs := errs != nil
			if hasErrs != tc.expectErrs {
				t.Errorf("Validate() errors = %v, expectErrs %v", errs, tc.expectErrs)
			}

			if hasErrs && !strings.Contains(errs.Error(), tc.errContent) {
				t.Errorf("Validate() error = %v, expected to contain %q", errs.Error(), tc.errContent)
			}
		})
	}
}
