// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Settings are tool wide knobs read from PRETRAIN_* environment variables. Flags
// take precedence where both exist.
type Settings struct {
	// Directory for rendered batch scripts.
	ScriptDir string `envconfig:"SCRIPT_DIR" default:".pretrain"`
	// Feature gates in the --feature-gates format.
	FeatureGates string `envconfig:"FEATURE_GATES"`
	// Namespace for the kubernetes backend.
	Namespace string `envconfig:"NAMESPACE" default:"default"`
	// Executable started on every node by the batch script. Defaults to this binary.
	Executable string `envconfig:"EXECUTABLE"`
}

func LoadSettings() (*Settings, error) {
	s := &Settings{}
	if err := envconfig.Process("pretrain", s); err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return s, nil
}
