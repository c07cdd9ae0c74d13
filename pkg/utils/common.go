// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package utils

import (
	"fmt"
	"sort"
)

// MergeMaps returns a new map holding baseMap overlaid with overrideMap.
func MergeMaps(baseMap, overrideMap map[string]string) map[string]string {
	merged := make(map[string]string, len(baseMap)+len(overrideMap))
	for k, v := range baseMap {
		merged[k] = v
	}

	// Override with values from overrideMap
	for k, v := range overrideMap {
		merged[k] = v
	}

	return merged
}

// EnvList renders env as sorted NAME=value pairs.
func EnvList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(list)
	return list
}
