// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package megatron

import (
	"testing"

	"github.com/kaito-project/pretrain/api/v1alpha1"
	"github.com/kaito-project/pretrain/pkg/model"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func newArgsTestJob() *v1alpha1.PretrainJob {
	j := &v1alpha1.PretrainJob{ObjectMeta: metav1.ObjectMeta{Name: "gpt"}}
	j.Spec.Resource.Nodes = lo.ToPtr(2)
	j.Spec.Model = v1alpha1.ModelSpec{NumLayers: 24, HiddenSize: 2048, NumAttentionHeads: 16, SeqLength: 2048}
	j.Spec.Parallelism = v1alpha1.ParallelismSpec{TensorModelParallelSize: 2, PipelineModelParallelSize: 1, SequenceParallel: true}
	j.Spec.Training = v1alpha1.TrainingSpec{MicroBatchSize: 4, GlobalBatchSize: 256, TrainIters: 500000, ExitDurationInMins: 1190}
	j.Spec.Optimizer = v1alpha1.OptimizerSpec{LR: 0.0002, MinLR: 0.00002, LRWarmupIters: 2000, LRDecayIters: 320000}
	j.Spec.Data = v1alpha1.DataSpec{
		Paths:     []v1alpha1.DataPath{{Prefix: "/data/oscar_text_document"}},
		VocabFile: "/data/gpt2-vocab.json",
		MergeFile: "/data/gpt2-merges.txt",
	}
	j.Spec.Checkpoint = v1alpha1.CheckpointSpec{SaveDir: "/ckpt", LoadDir: "/ckpt"}
	j.Spec.Logging = v1alpha1.LoggingSpec{TensorboardDir: "/tb", LogTimersToTensorboard: true}
	j.Spec.Launcher.ExtraArgs = `--no-masked-softmax-fusion --kv-channels 128`
	j.SetDefaults()
	return j
}

func TestBuildArgs(t *testing.T) {
	preset := &model.PresetParam{ModelRunParams: map[string]string{"swiglu": "", "normalization": "RMSNorm"}}
	args, err := BuildArgs(newArgsTestJob(), preset)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"--num-layers", "24",
		"--hidden-size", "2048",
		"--ffn-hidden-size", "8192",
		"--num-attention-heads", "16",
		"--seq-length", "2048",
		"--max-position-embeddings", "2048",
		"--position-embedding-type", "learned_absolute",
		"--init-method-std", "0.02",
		"--tensor-model-parallel-size", "2",
		"--pipeline-model-parallel-size", "1",
		"--sequence-parallel",
		"--distributed-backend", "nccl",
		"--distributed-timeout", "600",
		"--micro-batch-size", "4",
		"--global-batch-size", "256",
		"--train-iters", "500000",
		"--bf16",
		"--seed", "42",
		"--exit-duration-in-mins", "1190",
		"--lr", "0.0002",
		"--min-lr", "2e-05",
		"--lr-decay-style", "cosine",
		"--lr-warmup-iters", "2000",
		"--lr-decay-iters", "320000",
		"--weight-decay", "0.1",
		"--clip-grad", "1",
		"--adam-beta1", "0.9",
		"--adam-beta2", "0.95",
		"--adam-eps", "1e-08",
		"--data-path", "/data/oscar_text_document",
		"--split", "949,50,1",
		"--tokenizer-type", "GPT2BPETokenizer",
		"--vocab-file", "/data/gpt2-vocab.json",
		"--merge-file", "/data/gpt2-merges.txt",
		"--data-impl", "mmap",
		"--num-workers", "2",
		"--save", "/ckpt",
		"--load", "/ckpt",
		"--save-interval", "1000",
		"--exit-signal-handler",
		"--log-interval", "10",
		"--eval-interval", "1000",
		"--eval-iters", "5",
		"--tensorboard-dir", "/tb",
		"--log-timers-to-tensorboard",
		"--normalization", "RMSNorm",
		"--swiglu",
		"--no-masked-softmax-fusion",
		"--kv-channels", "128",
	}, args)
}

func TestBuildArgsVariants(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(j *v1alpha1.PretrainJob)
		contains [][]string
		absent   []string
	}{
		{
			name: "Blended data",
			mutate: func(j *v1alpha1.PretrainJob) {
				j.Spec.Data.Paths = []v1alpha1.DataPath{{Weight: 0.3, Prefix: "/a"}, {Weight: 0.7, Prefix: "/b"}}
			},
			contains: [][]string{{"--data-path", "0.3", "/a", "0.7", "/b"}},
		},
		{
			name: "Sample budget with rampup",
			mutate: func(j *v1alpha1.PretrainJob) {
				j.Spec.Training.TrainIters = 0
				j.Spec.Training.TrainSamples = 300000000
				j.Spec.Training.RampupBatchSize = []int{32, 32, 2000000}
			},
			contains: [][]string{
				{"--rampup-batch-size", "32", "32", "2000000"},
				{"--train-samples", "300000000"},
			},
			absent: []string{"--train-iters"},
		},
		{
			name: "Interleaved pipeline",
			mutate: func(j *v1alpha1.PretrainJob) {
				j.Spec.Parallelism.PipelineModelParallelSize = 4
				j.Spec.Parallelism.VirtualPipelineModelParallelSize = 2
			},
			contains: [][]string{{"--num-layers-per-virtual-pipeline-stage", "3"}},
		},
		{
			name: "Half precision and wandb",
			mutate: func(j *v1alpha1.PretrainJob) {
				j.Spec.Training.Precision = v1alpha1.PrecisionFP16
				j.Spec.Logging.WandbProject = "llm"
				j.Spec.Logging.WandbEntity = "team"
			},
			contains: [][]string{{"--fp16"}, {"--wandb-project-name", "llm"}, {"--wandb-entity-name", "team"}},
			absent:   []string{"--bf16"},
		},
		{
			name: "Full precision without checkpoints",
			mutate: func(j *v1alpha1.PretrainJob) {
				j.Spec.Training.Precision = v1alpha1.PrecisionFP32
				j.Spec.Checkpoint.SaveDir = ""
			},
			absent: []string{"--bf16", "--fp16", "--save", "--exit-signal-handler"},
		},
		{
			name: "Structured logs",
			mutate: func(j *v1alpha1.PretrainJob) {
				j.Spec.Logging.StructuredLogs = true
				j.Spec.Logging.StructuredLogsDir = "/logs"
			},
			contains: [][]string{{"--structured-logs", "--structured-logs-dir", "/logs"}},
		},
		{
			name: "Quoted extra arguments",
			mutate: func(j *v1alpha1.PretrainJob) {
				j.Spec.Launcher.ExtraArgs = `--valid-weighted-split-names "c4 valid"`
			},
			contains: [][]string{{"--valid-weighted-split-names", "c4 valid"}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			j := newArgsTestJob()
			tc.mutate(j)
			args, err := BuildArgs(j, nil)
			require.NoError(t, err)
			for _, seq := range tc.contains {
				assert.True(t, containsSequence(args, seq), "expected %v in %v", seq, args)
			}
			for _, flag := range tc.absent {
				assert.NotContains(t, args, flag)
			}
		})
	}
}

func containsSequence(args, seq []string) bool {
	for i := 0; i+len(seq) <= len(args); i++ {
		if assert.ObjectsAreEqual(args[i:i+len(seq)], seq) {
			return true
		}
	}
	return false
}

func TestArgs(t *testing.T) {
	a := &Args{}
	a.Add("lr", 1.5e-4)
	a.AddIf(false, "skipped", 1)
	a.AddBool("fp16", true)
	a.AddBool("bf16", false)
	a.Add("rampup-batch-size", 8, 8, 100)
	a.Append("--raw")

	out := a.Strings()
	assert.Equal(t, []string{"--lr", "0.00015", "--fp16", "--rampup-batch-size", "8", "8", "100", "--raw"}, out)

	out[0] = "--changed"
	assert.Equal(t, "--lr", a.Strings()[0], "Strings returns a copy")
}
