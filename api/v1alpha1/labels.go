// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package v1alpha1

const (

	// Non-prefixed labels/annotations are reserved for end-use.

	// PretrainPrefix is the prefix of every label owned by the launcher.
	PretrainPrefix = "pretrain.kaito.sh/"

	// LabelPretrainJobName is the label for pretrain job name.
	LabelPretrainJobName = PretrainPrefix + "job"

	// LabelPresetName is the label carrying the model preset of the job.
	LabelPresetName = PretrainPrefix + "preset"

	// AnnotationWorldSize records the number of training processes of the job.
	AnnotationWorldSize = PretrainPrefix + "worldsize"
)
