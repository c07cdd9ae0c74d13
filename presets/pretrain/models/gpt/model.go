// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package gpt

import (
	"github.com/kaito-project/pretrain/pkg/model"
	"github.com/kaito-project/pretrain/pkg/utils/plugin"
)

func init() {
	for name, preset := range gptPresets {
		plugin.PresetRegister.Register(&plugin.Registration{
			Name:     name,
			Instance: preset,
		})
	}
}

var (
	PresetGPT125MModel = "gpt-125m"
	PresetGPT350MModel = "gpt-350m"
	PresetGPT1B3Model  = "gpt-1.3b"
	PresetGPT2B7Model  = "gpt-2.7b"
	PresetGPT6B7Model  = "gpt-6.7b"
	PresetGPT13BModel  = "gpt-13b"
	PresetGPT176BModel = "gpt-176b"

	gptTag = "0.0.3"

	// The 176b preset follows the BLOOM recipe: alibi positions and a layernorm on the embeddings.
	bloomRunParams = map[string]string{
		"embed-layernorm":   "",
		"pad-vocab-size-to": "250880",
	}

	gptPresets = map[string]*gptModel{
		PresetGPT125MModel: {layers: 12, hidden: 768, heads: 12, tp: 1, pp: 1, memory: "8Gi"},
		PresetGPT350MModel: {layers: 24, hidden: 1024, heads: 16, tp: 1, pp: 1, memory: "16Gi"},
		PresetGPT1B3Model:  {layers: 24, hidden: 2048, heads: 16, tp: 1, pp: 1, memory: "40Gi"},
		PresetGPT2B7Model:  {layers: 32, hidden: 2560, heads: 32, tp: 2, pp: 1, memory: "40Gi"},
		PresetGPT6B7Model:  {layers: 32, hidden: 4096, heads: 32, tp: 2, pp: 2, memory: "60Gi"},
		PresetGPT13BModel:  {layers: 40, hidden: 5120, heads: 40, tp: 4, pp: 2, memory: "60Gi"},
		PresetGPT176BModel: {layers: 70, hidden: 14336, heads: 112, tp: 4, pp: 14, memory: "75Gi",
			positionEmbedding: "alibi", runParams: bloomRunParams},
	}
)

type gptModel struct {
	layers, hidden, heads int
	tp, pp                int
	memory                string
	positionEmbedding     string
	runParams             map[string]string
}

func (g *gptModel) GetPretrainParameters() *model.PresetParam {
	posEmb := g.positionEmbedding
	if posEmb == "" {
		posEmb = "learned_absolute"
	}
	return &model.PresetParam{
		ModelFamilyName:           "GPT",
		NumLayers:                 g.layers,
		HiddenSize:                g.hidden,
		FFNHiddenSize:             4 * g.hidden,
		NumAttentionHeads:         g.heads,
		SeqLength:                 2048,
		MaxPositionEmbeddings:     2048,
		PositionEmbeddingType:     posEmb,
		TokenizerType:             "GPT2BPETokenizer",
		TensorModelParallelSize:   g.tp,
		PipelineModelParallelSize: g.pp,
		PerGPUMemoryRequirement:   g.memory,
		ModelRunParams:            g.runParams,
		Tag:                       gptTag,
	}
}

func (g *gptModel) SupportPipelineParallel() bool {
	return true
}
