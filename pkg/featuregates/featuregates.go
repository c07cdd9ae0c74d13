// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package featuregates

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kaito-project/pretrain/pkg/utils/consts"
	"github.com/samber/lo"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/klog/v2"
)

var (
	// FeatureGates is a map that holds the feature gates and their default values for the launcher.
	FeatureGates = map[string]bool{
		consts.FeatureFlagElasticRendezvous: false,
		consts.FeatureFlagPortFromJobID:     false,
	}
)

// ParseAndValidateFeatureGates parses the feature gates flag and updates FeatureGates.
// Nothing is updated when the flag names an unknown gate.
func ParseAndValidateFeatureGates(featureGates string) error {
	gateMap := map[string]bool{}
	if err := cliflag.NewMapStringBool(&gateMap).Set(featureGates); err != nil {
		return err
	}
	if len(gateMap) == 0 {
		// no feature gates set
		return nil
	}

	invalid := lo.Filter(lo.Keys(gateMap), func(key string, _ int) bool {
		_, ok := FeatureGates[key]
		return !ok
	})
	if len(invalid) > 0 {
		sort.Strings(invalid)
		known := lo.Keys(FeatureGates)
		sort.Strings(known)
		return fmt.Errorf("invalid feature gate(s) %s, known gates are %s", strings.Join(invalid, ", "), strings.Join(known, ", "))
	}

	for key, val := range gateMap {
		FeatureGates[key] = val
	}
	klog.V(2).InfoS("Feature gates set", "gates", FeatureGates)
	return nil
}

// Enabled reports whether the named gate is on.
func Enabled(name string) bool {
	return FeatureGates[name]
}
