// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package test

import (
	"github.com/kaito-project/pretrain/pkg/model"
	"github.com/kaito-project/pretrain/pkg/utils/plugin"
)

type baseTestModel struct{}

func (*baseTestModel) GetPretrainParameters() *model.PresetParam {
	return &model.PresetParam{
		ModelFamilyName:           "test",
		NumLayers:                 4,
		HiddenSize:                256,
		FFNHiddenSize:             1024,
		NumAttentionHeads:         8,
		SeqLength:                 512,
		MaxPositionEmbeddings:     512,
		PositionEmbeddingType:     "learned_absolute",
		TokenizerType:             "GPT2BPETokenizer",
		TensorModelParallelSize:   1,
		PipelineModelParallelSize: 1,
		PerGPUMemoryRequirement:   "4Gi",
		Tag:                       "0.0.1",
	}
}
func (*baseTestModel) SupportPipelineParallel() bool {
	return true
}

type testModel struct {
	baseTestModel
}

type testParallelModel struct {
	baseTestModel
}

func (*testParallelModel) GetPretrainParameters() *model.PresetParam {
	return &model.PresetParam{
		ModelFamilyName:           "test",
		NumLayers:                 8,
		HiddenSize:                512,
		FFNHiddenSize:             1376,
		NumAttentionHeads:         8,
		SeqLength:                 1024,
		MaxPositionEmbeddings:     1024,
		PositionEmbeddingType:     "rotary",
		TokenizerType:             "SentencePieceTokenizer",
		TensorModelParallelSize:   2,
		PipelineModelParallelSize: 2,
		PerGPUMemoryRequirement:   "8Gi",
		ModelRunParams: map[string]string{
			"swiglu":        "",
			"normalization": "RMSNorm",
		},
		Tag: "0.0.1",
	}
}

type testNoPipelineParallelModel struct {
	baseTestModel
}

func (*testNoPipelineParallelModel) SupportPipelineParallel() bool {
	return false
}

func RegisterTestModel() {
	plugin.PresetRegister.Register(&plugin.Registration{
		Name:     "test-model",
		Instance: &testModel{},
	})

	plugin.PresetRegister.Register(&plugin.Registration{
		Name:     "test-parallel-model",
		Instance: &testParallelModel{},
	})

	plugin.PresetRegister.Register(&plugin.Registration{
		Name:     "test-no-pipeline-parallel-model",
		Instance: &testNoPipelineParallelModel{},
	})
}
