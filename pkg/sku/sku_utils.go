// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package sku

import (
	"sort"

	"github.com/samber/lo"
)

const (
	AzureCloudName = "azure"
	AwsCloudName   = "aws"
)

func GetMapKeys(m map[string]GPUConfig) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}

// GetCloudSKUHandler returns the handler of the named cloud, or nil.
func GetCloudSKUHandler(cloud string) CloudSKUHandler {
	switch cloud {
	case AzureCloudName:
		return NewAzureSKUHandler()
	case AwsCloudName:
		return NewAwsSKUHandler()
	}
	return nil
}

// GetGPUConfigBySKU looks the instance type up in every known cloud.
func GetGPUConfigBySKU(instanceType string) (GPUConfig, bool) {
	for _, cloud := range []string{AzureCloudName, AwsCloudName} {
		if c, ok := GetCloudSKUHandler(cloud).GetGPUConfigs()[instanceType]; ok {
			return c, true
		}
	}
	return GPUConfig{}, false
}
