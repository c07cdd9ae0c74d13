// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package sku

var _ CloudSKUHandler = &AzureSKUHandler{}

type AzureSKUHandler struct {
	supportedSKUs map[string]GPUConfig
}

func NewAzureSKUHandler() *AzureSKUHandler {
	return &AzureSKUHandler{
		// Reference: https://learn.microsoft.com/en-us/azure/virtual-machines/sizes-gpu
		supportedSKUs: map[string]GPUConfig{
			"Standard_ND40rs_v2":        {SKU: "Standard_ND40rs_v2", GPUCount: 8, GPUMem: 256, GPUModel: "NVIDIA V100", NVLink: true},
			"Standard_ND96asr_v4":       {SKU: "Standard_ND96asr_v4", GPUCount: 8, GPUMem: 320, GPUModel: "NVIDIA A100", NVLink: true},
			"Standard_ND96amsr_A100_v4": {SKU: "Standard_ND96amsr_A100_v4", GPUCount: 8, GPUMem: 640, GPUModel: "NVIDIA A100", NVLink: true},
			"Standard_ND96isr_H100_v5":  {SKU: "Standard_ND96isr_H100_v5", GPUCount: 8, GPUMem: 640, GPUModel: "NVIDIA H100", NVLink: true},
			"Standard_ND96isr_H200_v5":  {SKU: "Standard_ND96isr_H200_v5", GPUCount: 8, GPUMem: 1128, GPUModel: "NVIDIA H200", NVLink: true},
			"Standard_NC24ads_A100_v4":  {SKU: "Standard_NC24ads_A100_v4", GPUCount: 1, GPUMem: 80, GPUModel: "NVIDIA A100"},
			"Standard_NC48ads_A100_v4":  {SKU: "Standard_NC48ads_A100_v4", GPUCount: 2, GPUMem: 160, GPUModel: "NVIDIA A100"},
			"Standard_NC96ads_A100_v4":  {SKU: "Standard_NC96ads_A100_v4", GPUCount: 4, GPUMem: 320, GPUModel: "NVIDIA A100"},
			"Standard_NC40ads_H100_v5":  {SKU: "Standard_NC40ads_H100_v5", GPUCount: 1, GPUMem: 94, GPUModel: "NVIDIA H100"},
			"Standard_NC80adis_H100_v5": {SKU: "Standard_NC80adis_H100_v5", GPUCount: 2, GPUMem: 188, GPUModel: "NVIDIA H100", NVLink: true},
			"Standard_NC12s_v3":         {SKU: "Standard_NC12s_v3", GPUCount: 2, GPUMem: 32, GPUModel: "NVIDIA V100"},
			"Standard_NC24s_v3":         {SKU: "Standard_NC24s_v3", GPUCount: 4, GPUMem: 64, GPUModel: "NVIDIA V100"},
			"Standard_NC24rs_v3":        {SKU: "Standard_NC24rs_v3", GPUCount: 4, GPUMem: 64, GPUModel: "NVIDIA V100"},
			"Standard_ND96is_MI300X_v5": {SKU: "Standard_ND96is_MI300X_v5", GPUCount: 8, GPUMem: 1536, GPUModel: "AMD MI300X"},
			"Standard_NC64as_T4_v3":     {SKU: "Standard_NC64as_T4_v3", GPUCount: 4, GPUMem: 64, GPUModel: "NVIDIA T4"},
			"Standard_NV72ads_A10_v5":   {SKU: "Standard_NV72ads_A10_v5", GPUCount: 2, GPUMem: 48, GPUModel: "NVIDIA A10"},
		},
	}
}

func (a *AzureSKUHandler) GetSupportedSKUs() []string {
	return GetMapKeys(a.supportedSKUs)
}

func (a *AzureSKUHandler) GetGPUConfigs() map[string]GPUConfig {
	return a.supportedSKUs
}
