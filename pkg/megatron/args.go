// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package megatron

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/anmitsu/go-shlex"
	"github.com/kaito-project/pretrain/api/v1alpha1"
	"github.com/kaito-project/pretrain/pkg/model"
	"github.com/samber/lo"
)

// Args is an ordered list of command line flags for the training program.
type Args struct {
	args []string
}

// Add appends --flag followed by its values.
func (a *Args) Add(flag string, values ...any) {
	a.args = append(a.args, "--"+flag)
	for _, v := range values {
		a.args = append(a.args, formatValue(v))
	}
}

// AddIf appends the flag only when cond holds.
func (a *Args) AddIf(cond bool, flag string, values ...any) {
	if cond {
		a.Add(flag, values...)
	}
}

// AddBool appends a switch when on.
func (a *Args) AddBool(flag string, on bool) {
	a.AddIf(on, flag)
}

// Append adds already formatted arguments verbatim.
func (a *Args) Append(raw ...string) {
	a.args = append(a.args, raw...)
}

func (a *Args) Strings() []string {
	return append([]string(nil), a.args...)
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	default:
		return fmt.Sprint(t)
	}
}

// BuildArgs assembles the training program arguments of a defaulted job. Preset
// architecture flags follow the job's own flags, then the user's extra arguments.
func BuildArgs(job *v1alpha1.PretrainJob, preset *model.PresetParam) ([]string, error) {
	s := job.Spec
	a := &Args{}

	m := s.Model
	a.Add("num-layers", m.NumLayers)
	a.Add("hidden-size", m.HiddenSize)
	a.Add("ffn-hidden-size", m.FFNHiddenSize)
	a.Add("num-attention-heads", m.NumAttentionHeads)
	a.Add("seq-length", m.SeqLength)
	a.Add("max-position-embeddings", m.MaxPositionEmbeddings)
	a.Add("position-embedding-type", m.PositionEmbeddingType)
	a.Add("init-method-std", m.InitMethodStd)

	p := s.Parallelism
	a.Add("tensor-model-parallel-size", p.TensorModelParallelSize)
	a.Add("pipeline-model-parallel-size", p.PipelineModelParallelSize)
	if p.VirtualPipelineModelParallelSize > 0 {
		a.Add("num-layers-per-virtual-pipeline-stage", m.NumLayers/(p.PipelineModelParallelSize*p.VirtualPipelineModelParallelSize))
	}
	a.AddBool("sequence-parallel", p.SequenceParallel)
	a.Add("distributed-backend", p.DistributedBackend)
	a.Add("distributed-timeout", p.DistributedTimeoutMinutes*60)

	t := s.Training
	a.Add("micro-batch-size", t.MicroBatchSize)
	a.Add("global-batch-size", t.GlobalBatchSize)
	if len(t.RampupBatchSize) > 0 {
		a.Add("rampup-batch-size", lo.ToAnySlice(t.RampupBatchSize)...)
	}
	a.AddIf(t.TrainIters > 0, "train-iters", t.TrainIters)
	a.AddIf(t.TrainSamples > 0, "train-samples", t.TrainSamples)
	switch t.Precision {
	case v1alpha1.PrecisionBF16:
		a.Add("bf16")
	case v1alpha1.PrecisionFP16:
		a.Add("fp16")
	}
	a.Add("seed", t.Seed)
	a.AddIf(t.ExitDurationInMins > 0, "exit-duration-in-mins", t.ExitDurationInMins)
	a.AddIf(t.ExitInterval > 0, "exit-interval", t.ExitInterval)

	o := s.Optimizer
	a.Add("lr", o.LR)
	a.Add("min-lr", o.MinLR)
	a.Add("lr-decay-style", o.LRDecayStyle)
	a.AddIf(o.LRWarmupIters > 0, "lr-warmup-iters", o.LRWarmupIters)
	a.AddIf(o.LRDecayIters > 0, "lr-decay-iters", o.LRDecayIters)
	a.AddIf(o.LRWarmupSamples > 0, "lr-warmup-samples", o.LRWarmupSamples)
	a.AddIf(o.LRDecaySamples > 0, "lr-decay-samples", o.LRDecaySamples)
	a.AddIf(o.LRWarmupFraction > 0, "lr-warmup-fraction", o.LRWarmupFraction)
	a.Add("weight-decay", lo.FromPtr(o.WeightDecay))
	a.Add("clip-grad", lo.FromPtr(o.ClipGrad))
	a.Add("adam-beta1", o.AdamBeta1)
	a.Add("adam-beta2", o.AdamBeta2)
	a.Add("adam-eps", o.AdamEps)

	d := s.Data
	a.Add("data-path", dataPathValues(d.Paths)...)
	a.Add("split", d.Split)
	a.Add("tokenizer-type", d.TokenizerType)
	a.AddIf(d.VocabFile != "", "vocab-file", d.VocabFile)
	a.AddIf(d.MergeFile != "", "merge-file", d.MergeFile)
	a.AddIf(d.TokenizerModel != "", "tokenizer-model", d.TokenizerModel)
	a.Add("data-impl", d.DataImpl)
	a.Add("num-workers", lo.FromPtr(d.NumWorkers))

	c := s.Checkpoint
	a.AddIf(c.SaveDir != "", "save", c.SaveDir)
	a.AddIf(c.LoadDir != "", "load", c.LoadDir)
	a.Add("save-interval", c.SaveInterval)
	a.AddBool("use-checkpoint-args", c.UseCheckpointArgs)
	// Checkpoint and exit when the launcher forwards SIGTERM.
	a.AddBool("exit-signal-handler", c.SaveDir != "")

	l := s.Logging
	a.Add("log-interval", t.LogInterval)
	a.Add("eval-interval", t.EvalInterval)
	a.Add("eval-iters", t.EvalIters)
	a.AddIf(l.TensorboardDir != "", "tensorboard-dir", l.TensorboardDir)
	a.AddBool("log-timers-to-tensorboard", l.LogTimersToTensorboard)
	a.AddBool("log-validation-ppl-to-tensorboard", l.LogValidationPPLToTensorboard)
	a.AddIf(l.WandbProject != "", "wandb-project-name", l.WandbProject)
	a.AddIf(l.WandbEntity != "", "wandb-entity-name", l.WandbEntity)
	a.AddBool("structured-logs", l.StructuredLogs)
	a.AddIf(l.StructuredLogsDir != "", "structured-logs-dir", l.StructuredLogsDir)

	if preset != nil {
		addRunParams(a, preset.ModelRunParams)
	}

	if s.Launcher.ExtraArgs != "" {
		extra, err := shlex.Split(s.Launcher.ExtraArgs, true)
		if err != nil {
			return nil, fmt.Errorf("failed to parse extraArgs %q: %w", s.Launcher.ExtraArgs, err)
		}
		a.Append(extra...)
	}
	return a.Strings(), nil
}

// dataPathValues renders a single corpus as its prefix and a blend as weight/prefix pairs.
func dataPathValues(paths []v1alpha1.DataPath) []any {
	if len(paths) == 1 && paths[0].Weight == 0 {
		return []any{paths[0].Prefix}
	}
	values := make([]any, 0, 2*len(paths))
	for _, p := range paths {
		values = append(values, p.Weight, p.Prefix)
	}
	return values
}

// addRunParams adds preset flags in name order. An empty value is a switch.
func addRunParams(a *Args, params map[string]string) {
	keys := lo.Keys(params)
	sort.Strings(keys)
	for _, k := range keys {
		if v := params[k]; v != "" {
			a.Add(k, v)
		} else {
			a.Add(k)
		}
	}
}
