// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package sku

var _ CloudSKUHandler = &AwsSKUHandler{}

type AwsSKUHandler struct {
	supportedSKUs map[string]GPUConfig
}

func NewAwsSKUHandler() *AwsSKUHandler {
	return &AwsSKUHandler{
		// Reference: https://aws.amazon.com/ec2/instance-types/
		supportedSKUs: map[string]GPUConfig{
			"p3.8xlarge":    {SKU: "p3.8xlarge", GPUCount: 4, GPUMem: 64, GPUModel: "NVIDIA V100", NVLink: true},
			"p3.16xlarge":   {SKU: "p3.16xlarge", GPUCount: 8, GPUMem: 128, GPUModel: "NVIDIA V100", NVLink: true},
			"p3dn.24xlarge": {SKU: "p3dn.24xlarge", GPUCount: 8, GPUMem: 256, GPUModel: "NVIDIA V100", NVLink: true},
			"p4d.24xlarge":  {SKU: "p4d.24xlarge", GPUCount: 8, GPUMem: 320, GPUModel: "NVIDIA A100", NVLink: true},
			"p4de.24xlarge": {SKU: "p4de.24xlarge", GPUCount: 8, GPUMem: 640, GPUModel: "NVIDIA A100", NVLink: true},
			"p5.48xlarge":   {SKU: "p5.48xlarge", GPUCount: 8, GPUMem: 640, GPUModel: "NVIDIA H100", NVLink: true},
			"p5e.48xlarge":  {SKU: "p5e.48xlarge", GPUCount: 8, GPUMem: 1128, GPUModel: "NVIDIA H200", NVLink: true},
			"g5.12xlarge":   {SKU: "g5.12xlarge", GPUCount: 4, GPUMem: 96, GPUModel: "NVIDIA A10G"},
			"g5.48xlarge":   {SKU: "g5.48xlarge", GPUCount: 8, GPUMem: 192, GPUModel: "NVIDIA A10G"},
			"g6.48xlarge":   {SKU: "g6.48xlarge", GPUCount: 8, GPUMem: 192, GPUModel: "NVIDIA L4"},
		},
	}
}

func (a *AwsSKUHandler) GetSupportedSKUs() []string {
	return GetMapKeys(a.supportedSKUs)
}

func (a *AwsSKUHandler) GetGPUConfigs() map[string]GPUConfig {
	return a.supportedSKUs
}
