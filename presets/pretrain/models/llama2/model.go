// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package llama2

import (
	"github.com/kaito-project/pretrain/pkg/model"
	"github.com/kaito-project/pretrain/pkg/utils/plugin"
)

func init() {
	plugin.PresetRegister.Register(&plugin.Registration{
		Name:     PresetLlama2AModel,
		Instance: &llama2A,
	})
	plugin.PresetRegister.Register(&plugin.Registration{
		Name:     PresetLlama2BModel,
		Instance: &llama2B,
	})
	plugin.PresetRegister.Register(&plugin.Registration{
		Name:     PresetLlama2CModel,
		Instance: &llama2C,
	})
}

var (
	PresetLlama2AModel = "llama2-7b"
	PresetLlama2BModel = "llama2-13b"
	PresetLlama2CModel = "llama2-70b"

	llamaTag       = "0.0.2"
	llamaRunParams = map[string]string{
		"swiglu":                              "",
		"normalization":                       "RMSNorm",
		"disable-bias-linear":                 "",
		"untie-embeddings-and-output-weights": "",
	}
)

func llamaParams(layers, hidden, heads, ffn, tp, pp int, memory string) *model.PresetParam {
	return &model.PresetParam{
		ModelFamilyName:           "LLaMa2",
		NumLayers:                 layers,
		HiddenSize:                hidden,
		FFNHiddenSize:             ffn,
		NumAttentionHeads:         heads,
		SeqLength:                 4096,
		MaxPositionEmbeddings:     4096,
		PositionEmbeddingType:     "rotary",
		TokenizerType:             "SentencePieceTokenizer",
		TensorModelParallelSize:   tp,
		PipelineModelParallelSize: pp,
		PerGPUMemoryRequirement:   memory,
		ModelRunParams:            llamaRunParams,
		Tag:                       llamaTag,
	}
}

var llama2A llama2Text7b

type llama2Text7b struct{}

func (*llama2Text7b) GetPretrainParameters() *model.PresetParam {
	return llamaParams(32, 4096, 32, 11008, 2, 1, "60Gi")
}
func (*llama2Text7b) SupportPipelineParallel() bool {
	return false
}

var llama2B llama2Text13b

type llama2Text13b struct{}

func (*llama2Text13b) GetPretrainParameters() *model.PresetParam {
	return llamaParams(40, 5120, 40, 13824, 4, 1, "70Gi")
}
func (*llama2Text13b) SupportPipelineParallel() bool {
	return true
}

var llama2C llama2Text70b

type llama2Text70b struct{}

func (*llama2Text70b) GetPretrainParameters() *model.PresetParam {
	// 70b uses grouped-query attention with 8 key/value heads.
	p := llamaParams(80, 8192, 64, 28672, 8, 4, "75Gi")
	p.ModelRunParams = map[string]string{"num-key-value-heads": "8"}
	for k, v := range llamaRunParams {
		p.ModelRunParams[k] = v
	}
	return p
}
func (*llama2Text70b) SupportPipelineParallel() bool {
	return true
}
