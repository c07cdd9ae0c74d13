// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

type PresetModelName string

type PrecisionType string

const (
	PrecisionBF16 PrecisionType = "bf16"
	PrecisionFP16 PrecisionType = "fp16"
	PrecisionFP32 PrecisionType = "fp32"
)

const (
	TokenizerGPT2BPE       = "GPT2BPETokenizer"
	TokenizerSentencePiece = "SentencePieceTokenizer"
)

type ResourceSpec struct {
	// The number of nodes in the allocation.
	//+optional
	//+kubebuilder:default:=1
	Nodes *int `json:"nodes,omitempty"`

	// The number of GPUs on each node. One training process runs per GPU.
	GPUsPerNode int `json:"gpusPerNode,omitempty"`

	// CPUs handed to the per-node launcher task.
	CPUsPerTask int `json:"cpusPerTask,omitempty"`

	Partition   string `json:"partition,omitempty"`
	Account     string `json:"account,omitempty"`
	QOS         string `json:"qos,omitempty"`
	Constraint  string `json:"constraint,omitempty"`
	Reservation string `json:"reservation,omitempty"`

	// Wall clock limit in Slurm's time format, e.g. 20:00:00.
	TimeLimit string `json:"timeLimit,omitempty"`

	// Memory per node, e.g. 0 for all memory on the node.
	Memory string `json:"memory,omitempty"`

	// Request whole nodes. Defaults to true.
	//+optional
	Exclusive *bool `json:"exclusive,omitempty"`

	// Hostlist of nodes the scheduler must not use.
	ExcludeNodes string `json:"excludeNodes,omitempty"`

	// Scheduler stdout/stderr file patterns, e.g. logs/%x-%j.out.
	OutputPath string `json:"outputPath,omitempty"`
	ErrorPath  string `json:"errorPath,omitempty"`

	// Instance type of the GPU nodes, e.g. Standard_ND96isr_H100_v5. Known GPU SKUs are
	// checked against the job and the kubernetes backend pins workers to the type.
	//+optional
	InstanceType string `json:"instanceType,omitempty"`

	// The GPU node label used by the kubernetes backend to pin workers.
	//+optional
	LabelSelector *metav1.LabelSelector `json:"labelSelector,omitempty"`
}

type ModelSpec struct {
	// Name of a supported preset model, e.g., gpt-1.3b.
	Preset PresetModelName `json:"preset,omitempty"`

	// Fields below override the preset.
	NumLayers             int     `json:"numLayers,omitempty"`
	HiddenSize            int     `json:"hiddenSize,omitempty"`
	FFNHiddenSize         int     `json:"ffnHiddenSize,omitempty"`
	NumAttentionHeads     int     `json:"numAttentionHeads,omitempty"`
	SeqLength             int     `json:"seqLength,omitempty"`
	MaxPositionEmbeddings int     `json:"maxPositionEmbeddings,omitempty"`
	PositionEmbeddingType string  `json:"positionEmbeddingType,omitempty"`
	InitMethodStd         float64 `json:"initMethodStd,omitempty"`
}

type ParallelismSpec struct {
	TensorModelParallelSize          int  `json:"tensorModelParallelSize,omitempty"`
	PipelineModelParallelSize        int  `json:"pipelineModelParallelSize,omitempty"`
	VirtualPipelineModelParallelSize int  `json:"virtualPipelineModelParallelSize,omitempty"`
	SequenceParallel                 bool `json:"sequenceParallel,omitempty"`

	// Backend for the framework's process group, nccl or gloo.
	DistributedBackend        string `json:"distributedBackend,omitempty"`
	DistributedTimeoutMinutes int    `json:"distributedTimeoutMinutes,omitempty"`
}

type TrainingSpec struct {
	MicroBatchSize  int `json:"microBatchSize,omitempty"`
	GlobalBatchSize int `json:"globalBatchSize,omitempty"`

	// Batch size ramp up as <start> <increment> <ramp-up samples>.
	//+optional
	RampupBatchSize []int `json:"rampupBatchSize,omitempty"`

	// Exactly one of TrainIters and TrainSamples is set.
	TrainIters   int64 `json:"trainIters,omitempty"`
	TrainSamples int64 `json:"trainSamples,omitempty"`

	Precision          PrecisionType `json:"precision,omitempty"`
	Seed               int           `json:"seed,omitempty"`
	LogInterval        int           `json:"logInterval,omitempty"`
	EvalInterval       int           `json:"evalInterval,omitempty"`
	EvalIters          int           `json:"evalIters,omitempty"`
	ExitDurationInMins int           `json:"exitDurationInMins,omitempty"`
	ExitInterval       int           `json:"exitInterval,omitempty"`
}

type OptimizerSpec struct {
	LR           float64 `json:"lr,omitempty"`
	MinLR        float64 `json:"minLR,omitempty"`
	LRDecayStyle string  `json:"lrDecayStyle,omitempty"`

	// Iteration based schedule, used with TrainIters.
	LRWarmupIters int64 `json:"lrWarmupIters,omitempty"`
	LRDecayIters  int64 `json:"lrDecayIters,omitempty"`

	// Sample based schedule, used with TrainSamples.
	LRWarmupSamples int64 `json:"lrWarmupSamples,omitempty"`
	LRDecaySamples  int64 `json:"lrDecaySamples,omitempty"`

	LRWarmupFraction float64 `json:"lrWarmupFraction,omitempty"`

	//+optional
	WeightDecay *float64 `json:"weightDecay,omitempty"`
	//+optional
	ClipGrad  *float64 `json:"clipGrad,omitempty"`
	AdamBeta1 float64  `json:"adamBeta1,omitempty"`
	AdamBeta2 float64  `json:"adamBeta2,omitempty"`
	AdamEps   float64  `json:"adamEps,omitempty"`
}

// DataPath is one corpus of a blended dataset.
type DataPath struct {
	//+optional
	Weight float64 `json:"weight,omitempty"`
	Prefix string  `json:"prefix"`
}

type DataSpec struct {
	Paths          []DataPath `json:"paths,omitempty"`
	Split          string     `json:"split,omitempty"`
	TokenizerType  string     `json:"tokenizerType,omitempty"`
	VocabFile      string     `json:"vocabFile,omitempty"`
	MergeFile      string     `json:"mergeFile,omitempty"`
	TokenizerModel string     `json:"tokenizerModel,omitempty"`
	DataImpl       string     `json:"dataImpl,omitempty"`
	//+optional
	NumWorkers *int `json:"numWorkers,omitempty"`
}

type CheckpointSpec struct {
	SaveDir           string `json:"saveDir,omitempty"`
	LoadDir           string `json:"loadDir,omitempty"`
	SaveInterval      int    `json:"saveInterval,omitempty"`
	UseCheckpointArgs bool   `json:"useCheckpointArgs,omitempty"`
}

type LoggingSpec struct {
	TensorboardDir                string `json:"tensorboardDir,omitempty"`
	LogTimersToTensorboard        bool   `json:"logTimersToTensorboard,omitempty"`
	LogValidationPPLToTensorboard bool   `json:"logValidationPPLToTensorboard,omitempty"`
	WandbEntity                   string `json:"wandbEntity,omitempty"`
	WandbProject                  string `json:"wandbProject,omitempty"`
	StructuredLogs                bool   `json:"structuredLogs,omitempty"`
	StructuredLogsDir             string `json:"structuredLogsDir,omitempty"`
}

type ContainerSpec struct {
	Image  string   `json:"image"`
	Mounts []string `json:"mounts,omitempty"`
}

type LauncherSpec struct {
	// The distributed launcher binary, torchrun by default.
	Command string `json:"command,omitempty"`
	// The training entry point handed to the launcher.
	Program string `json:"program,omitempty"`
	WorkDir string `json:"workDir,omitempty"`
	//+optional
	Env map[string]string `json:"env,omitempty"`
	// Additional training arguments, parsed with shell word splitting.
	ExtraArgs string `json:"extraArgs,omitempty"`
	// Run every node's launcher inside this container (pyxis on Slurm, the pod image on kubernetes).
	//+optional
	Container *ContainerSpec `json:"container,omitempty"`
}

type RendezvousSpec struct {
	// Overrides the first host of the allocation.
	MasterAddr string `json:"masterAddr,omitempty"`
	MasterPort int    `json:"masterPort,omitempty"`
	Backend    string `json:"backend,omitempty"`
	//+optional
	MaxRestarts *int `json:"maxRestarts,omitempty"`
}

type PretrainJobSpec struct {
	Resource    ResourceSpec    `json:"resource,omitempty"`
	Model       ModelSpec       `json:"model,omitempty"`
	Parallelism ParallelismSpec `json:"parallelism,omitempty"`
	Training    TrainingSpec    `json:"training,omitempty"`
	Optimizer   OptimizerSpec   `json:"optimizer,omitempty"`
	Data        DataSpec        `json:"data,omitempty"`
	Checkpoint  CheckpointSpec  `json:"checkpoint,omitempty"`
	Logging     LoggingSpec     `json:"logging,omitempty"`
	Launcher    LauncherSpec    `json:"launcher,omitempty"`
	Rendezvous  RendezvousSpec  `json:"rendezvous,omitempty"`
}

// PretrainJob is the declarative description of one pretraining run.
type PretrainJob struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec PretrainJobSpec `json:"spec,omitempty"`
}

// NodeCount returns the number of nodes, treating an unset count as one.
func (j *PretrainJob) NodeCount() int {
	if j.Spec.Resource.Nodes == nil {
		return 1
	}
	return *j.Spec.Resource.Nodes
}

// WorldSize is the total number of training processes.
func (j *PretrainJob) WorldSize() int {
	return j.NodeCount() * j.Spec.Resource.GPUsPerNode
}

// DataParallelSize is the number of model replicas, zero when the world does not divide.
func (j *PretrainJob) DataParallelSize() int {
	mp := j.Spec.Parallelism.TensorModelParallelSize * j.Spec.Parallelism.PipelineModelParallelSize
	if mp <= 0 || j.WorldSize()%mp != 0 {
		return 0
	}
	return j.WorldSize() / mp
}
