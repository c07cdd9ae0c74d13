// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package model

import (
	"maps"
)

type Model interface {
	GetPretrainParameters() *PresetParam
	SupportPipelineParallel() bool // If false, the preset is always trained with pipeline-model-parallel-size 1.
}

// PresetParam defines the preset architecture and launch parameters for a model.
type PresetParam struct {
	ModelFamilyName           string // The name of the model family.
	NumLayers                 int
	HiddenSize                int
	FFNHiddenSize             int
	NumAttentionHeads         int
	SeqLength                 int
	MaxPositionEmbeddings     int
	PositionEmbeddingType     string            // e.g. learned_absolute, rotary, alibi.
	TokenizerType             string            // Suggested tokenizer, used when the job does not set one.
	TensorModelParallelSize   int               // Recommended tensor parallel degree.
	PipelineModelParallelSize int               // Recommended pipeline parallel degree.
	PerGPUMemoryRequirement   string            // GPU memory required per GPU with the recommended parallelism.
	ModelRunParams            map[string]string // Extra architecture flags passed verbatim to the training program. Empty value means a switch.
	Tag                       string            // The training image tag.
}

func (p *PresetParam) DeepCopy() *PresetParam {
	if p == nil {
		return nil
	}
	out := &PresetParam{}
	*out = *p
	out.ModelRunParams = maps.Clone(p.ModelRunParams)
	return out
}

// ParameterCount estimates the number of trainable parameters of a dense decoder-only
// transformer with the given shape and vocabulary size.
func (p *PresetParam) ParameterCount(vocabSize int) int64 {
	h := int64(p.HiddenSize)
	ffn := int64(p.FFNHiddenSize)
	if ffn == 0 {
		ffn = 4 * h
	}
	perLayer := 4*h*h + 2*h*ffn
	return int64(p.NumLayers)*perLayer + int64(vocabSize)*h
}
