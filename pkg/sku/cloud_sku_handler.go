// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package sku

import (
	"strings"

	"github.com/kaito-project/pretrain/pkg/utils/consts"
)

type CloudSKUHandler interface {
	GetSupportedSKUs() []string
	GetGPUConfigs() map[string]GPUConfig
}

// GPUConfig describes the GPUs of one instance type. GPUMem is the total across
// all GPUs of the instance, in GiB.
type GPUConfig struct {
	SKU      string
	GPUCount int
	GPUMem   int
	GPUModel string
	// NVLink reports an all-to-all GPU interconnect inside the instance, which
	// tensor parallelism relies on.
	NVLink bool
}

// PerGPUMem is the memory of a single GPU in GiB.
func (c GPUConfig) PerGPUMem() int {
	if c.GPUCount == 0 {
		return 0
	}
	return c.GPUMem / c.GPUCount
}

// ResourceName is the extended resource the GPU device plugin of the instance advertises.
func (c GPUConfig) ResourceName() string {
	if strings.HasPrefix(c.GPUModel, "AMD") {
		return consts.AMDGPU
	}
	return consts.NvidiaGPU
}
