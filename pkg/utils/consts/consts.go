// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package consts

const (
	APIGroup     = "pretrain.kaito.sh"
	KindPretrain = "PretrainJob"
	GPUString    = "gpu"
	SKUString    = "sku"
	NvidiaGPU    = "nvidia.com/gpu"
	AMDGPU       = "amd.com/gpu"
	SbatchPrefix = "#SBATCH"
	DefaultShell = "/bin/bash"

	// Feature flags
	FeatureFlagElasticRendezvous = "ElasticRendezvous"
	FeatureFlagPortFromJobID     = "PortFromJobID"

	// Rendezvous defaults
	DefaultMasterPort     = 6000
	DefaultTorchRunPort   = 29500
	DefaultRdzvBackend    = "c10d" // Pytorch Native Distributed data store
	JobIDPortRange        = 1000
	DefaultLauncher       = "torchrun"
	DefaultProgram        = "pretrain_gpt.py"
	DefaultDistBackend    = "nccl"
	DefaultTimeoutMinutes = 10

	// Slurm job-step supervision
	SrunWaitSeconds = 60
)
