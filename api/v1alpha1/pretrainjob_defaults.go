// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package v1alpha1

import (
	"github.com/kaito-project/pretrain/pkg/model"
	"github.com/kaito-project/pretrain/pkg/utils/consts"
	"github.com/samber/lo"
)

const (
	DefaultGPUsPerNode     = 8
	DefaultCPUsPerTask     = 32
	DefaultMicroBatchSize  = 1
	DefaultSeed            = 42
	DefaultLogInterval     = 10
	DefaultEvalInterval    = 1000
	DefaultEvalIters       = 5
	DefaultSaveInterval    = 1000
	DefaultLRDecayStyle    = "cosine"
	DefaultAdamBeta1       = 0.9
	DefaultAdamBeta2       = 0.95
	DefaultAdamEps         = 1e-8
	DefaultWeightDecay     = 0.1
	DefaultClipGrad        = 1.0
	DefaultSplit           = "949,50,1"
	DefaultDataImpl        = "mmap"
	DefaultNumWorkers      = 2
	DefaultInitMethodStd   = 0.02
	DefaultPositionEmbType = "learned_absolute"
)

// ApplyPreset fills every model field the job leaves unset from the preset. The preset's
// recommended parallel layout is used only when the job sets none.
func (j *PretrainJob) ApplyPreset(p *model.PresetParam) {
	if p == nil {
		return
	}
	m := &j.Spec.Model
	m.NumLayers = lo.Ternary(m.NumLayers == 0, p.NumLayers, m.NumLayers)
	m.HiddenSize = lo.Ternary(m.HiddenSize == 0, p.HiddenSize, m.HiddenSize)
	m.FFNHiddenSize = lo.Ternary(m.FFNHiddenSize == 0, p.FFNHiddenSize, m.FFNHiddenSize)
	m.NumAttentionHeads = lo.Ternary(m.NumAttentionHeads == 0, p.NumAttentionHeads, m.NumAttentionHeads)
	m.SeqLength = lo.Ternary(m.SeqLength == 0, p.SeqLength, m.SeqLength)
	m.MaxPositionEmbeddings = lo.Ternary(m.MaxPositionEmbeddings == 0, p.MaxPositionEmbeddings, m.MaxPositionEmbeddings)
	m.PositionEmbeddingType = lo.Ternary(m.PositionEmbeddingType == "", p.PositionEmbeddingType, m.PositionEmbeddingType)

	par := &j.Spec.Parallelism
	if par.TensorModelParallelSize == 0 && par.PipelineModelParallelSize == 0 {
		par.TensorModelParallelSize = p.TensorModelParallelSize
		par.PipelineModelParallelSize = p.PipelineModelParallelSize
	}
	if j.Spec.Data.TokenizerType == "" {
		j.Spec.Data.TokenizerType = p.TokenizerType
	}
}

// SetDefaults fills the remaining unset fields with the launcher defaults.
func (j *PretrainJob) SetDefaults() {
	if j.APIVersion == "" {
		j.APIVersion = GroupVersion.String()
	}
	if j.Kind == "" {
		j.Kind = consts.KindPretrain
	}

	r := &j.Spec.Resource
	if r.Nodes == nil {
		r.Nodes = lo.ToPtr(1)
	}
	r.GPUsPerNode = lo.Ternary(r.GPUsPerNode == 0, DefaultGPUsPerNode, r.GPUsPerNode)
	r.CPUsPerTask = lo.Ternary(r.CPUsPerTask == 0, DefaultCPUsPerTask, r.CPUsPerTask)
	if r.Exclusive == nil {
		r.Exclusive = lo.ToPtr(true)
	}

	m := &j.Spec.Model
	m.PositionEmbeddingType = lo.Ternary(m.PositionEmbeddingType == "", DefaultPositionEmbType, m.PositionEmbeddingType)
	m.MaxPositionEmbeddings = lo.Ternary(m.MaxPositionEmbeddings == 0, m.SeqLength, m.MaxPositionEmbeddings)
	if m.FFNHiddenSize == 0 {
		m.FFNHiddenSize = 4 * m.HiddenSize
	}
	m.InitMethodStd = lo.Ternary(m.InitMethodStd == 0, DefaultInitMethodStd, m.InitMethodStd)

	par := &j.Spec.Parallelism
	par.TensorModelParallelSize = lo.Ternary(par.TensorModelParallelSize == 0, 1, par.TensorModelParallelSize)
	par.PipelineModelParallelSize = lo.Ternary(par.PipelineModelParallelSize == 0, 1, par.PipelineModelParallelSize)
	par.DistributedBackend = lo.Ternary(par.DistributedBackend == "", consts.DefaultDistBackend, par.DistributedBackend)
	par.DistributedTimeoutMinutes = lo.Ternary(par.DistributedTimeoutMinutes == 0, consts.DefaultTimeoutMinutes, par.DistributedTimeoutMinutes)

	t := &j.Spec.Training
	t.MicroBatchSize = lo.Ternary(t.MicroBatchSize == 0, DefaultMicroBatchSize, t.MicroBatchSize)
	if t.GlobalBatchSize == 0 && len(t.RampupBatchSize) == 0 {
		if dp := j.DataParallelSize(); dp > 0 {
			t.GlobalBatchSize = t.MicroBatchSize * dp
		}
	}
	t.Precision = lo.Ternary(t.Precision == "", PrecisionBF16, t.Precision)
	t.Seed = lo.Ternary(t.Seed == 0, DefaultSeed, t.Seed)
	t.LogInterval = lo.Ternary(t.LogInterval == 0, DefaultLogInterval, t.LogInterval)
	t.EvalInterval = lo.Ternary(t.EvalInterval == 0, DefaultEvalInterval, t.EvalInterval)
	t.EvalIters = lo.Ternary(t.EvalIters == 0, DefaultEvalIters, t.EvalIters)

	o := &j.Spec.Optimizer
	o.LRDecayStyle = lo.Ternary(o.LRDecayStyle == "", DefaultLRDecayStyle, o.LRDecayStyle)
	o.AdamBeta1 = lo.Ternary(o.AdamBeta1 == 0, DefaultAdamBeta1, o.AdamBeta1)
	o.AdamBeta2 = lo.Ternary(o.AdamBeta2 == 0, DefaultAdamBeta2, o.AdamBeta2)
	o.AdamEps = lo.Ternary(o.AdamEps == 0, DefaultAdamEps, o.AdamEps)
	if o.WeightDecay == nil {
		o.WeightDecay = lo.ToPtr(DefaultWeightDecay)
	}
	if o.ClipGrad == nil {
		o.ClipGrad = lo.ToPtr(DefaultClipGrad)
	}

	d := &j.Spec.Data
	d.Split = lo.Ternary(d.Split == "", DefaultSplit, d.Split)
	d.TokenizerType = lo.Ternary(d.TokenizerType == "", TokenizerGPT2BPE, d.TokenizerType)
	d.DataImpl = lo.Ternary(d.DataImpl == "", DefaultDataImpl, d.DataImpl)
	if d.NumWorkers == nil {
		d.NumWorkers = lo.ToPtr(DefaultNumWorkers)
	}

	c := &j.Spec.Checkpoint
	c.SaveInterval = lo.Ternary(c.SaveInterval == 0, DefaultSaveInterval, c.SaveInterval)

	l := &j.Spec.Launcher
	l.Command = lo.Ternary(l.Command == "", consts.DefaultLauncher, l.Command)
	l.Program = lo.Ternary(l.Program == "", consts.DefaultProgram, l.Program)

	rdzv := &j.Spec.Rendezvous
	rdzv.MasterPort = lo.Ternary(rdzv.MasterPort == 0, consts.DefaultMasterPort, rdzv.MasterPort)
	rdzv.Backend = lo.Ternary(rdzv.Backend == "", consts.DefaultRdzvBackend, rdzv.Backend)
	if rdzv.MaxRestarts == nil {
		rdzv.MaxRestarts = lo.ToPtr(0)
	}
}
