// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package config

import (
	"context"
	"fmt"

	"github.com/kaito-project/pretrain/api/v1alpha1"
	"github.com/kaito-project/pretrain/pkg/model"
	"github.com/kaito-project/pretrain/pkg/utils/plugin"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"
)

// ParseJob decodes a job document. Unknown fields are rejected so typos in a long
// hyperparameter list do not go unnoticed.
func ParseJob(data []byte) (*v1alpha1.PretrainJob, error) {
	job := &v1alpha1.PretrainJob{}
	if err := yaml.UnmarshalStrict(data, job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return job, nil
}

// LoadJob reads the job at path, applies its preset and the defaults, and validates
// the result. The returned preset is nil for jobs without one.
func LoadJob(ctx context.Context, fs afero.Fs, path string) (*v1alpha1.PretrainJob, *model.PresetParam, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read job file: %w", err)
	}
	job, err := ParseJob(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	var preset *model.PresetParam
	if name := string(job.Spec.Model.Preset); name != "" {
		if m, ok := plugin.PresetRegister.Get(name); ok {
			preset = m.GetPretrainParameters().DeepCopy()
			job.ApplyPreset(preset)
		}
	}
	job.SetDefaults()

	if errs := job.Validate(ctx); errs != nil {
		return nil, nil, fmt.Errorf("invalid job %s: %w", path, errs)
	}
	klog.V(2).InfoS("Loaded job", "job", klog.KObj(job), "preset", job.Spec.Model.Preset, "worldSize", job.WorldSize())
	return job, preset, nil
}
