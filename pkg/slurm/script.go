// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package slurm

import (
	"fmt"
	"io"
	"sort"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/kaito-project/pretrain/api/v1alpha1"
	"github.com/kballard/go-shellquote"
	"github.com/samber/lo"
)

const batchScriptTemplate = `#!/bin/bash
{{ range .Directives }}{{ . }}
{{ end }}
set -euo pipefail
{{ if .WorkDir }}cd {{ shellWord .WorkDir }}
{{ end }}{{ range .Env }}export {{ .Name }}={{ shellWord .Value }}
{{ end }}
echo "Starting pretrain job ${SLURM_JOB_ID} on ${SLURM_JOB_NUM_NODES} nodes: ${SLURM_JOB_NODELIST}"
{{ shellWords .Srun | join " \\\n  " }} \
  {{ shellWords .Command | join " " }}
`

var batchScript = template.Must(template.New("sbatch").
	Funcs(sprig.TxtFuncMap()).
	Funcs(template.FuncMap{
		"shellWord": func(s string) string { return shellquote.Join(s) },
		"shellWords": func(words []string) []string {
			return lo.Map(words, func(w string, _ int) string { return shellquote.Join(w) })
		},
	}).
	Parse(batchScriptTemplate))

type EnvVar struct {
	Name  string
	Value string
}

// BatchScript is everything rendered into an sbatch script.
type BatchScript struct {
	Directives []string
	WorkDir    string
	Env        []EnvVar
	// Srun is the job step prefix, Command runs once per node under it.
	Srun    []string
	Command []string
}

// NewBatchScript builds the script for a defaulted job. command is the per-node
// entry point, normally this binary's launch subcommand.
func NewBatchScript(job *v1alpha1.PretrainJob, command []string) *BatchScript {
	s := &BatchScript{
		Directives: Directives(job),
		Command:    command,
	}
	// Inside a container the working directory is set by srun, and the entry point
	// has to be mounted from the host.
	if c := job.Spec.Launcher.Container; c != nil {
		s.Srun = SrunArgs(job, EntryPointMounts(command, c.Mounts)...)
	} else {
		s.Srun = SrunArgs(job)
		s.WorkDir = job.Spec.Launcher.WorkDir
	}
	for k, v := range job.Spec.Launcher.Env {
		s.Env = append(s.Env, EnvVar{Name: k, Value: v})
	}
	sort.Slice(s.Env, func(i, j int) bool { return s.Env[i].Name < s.Env[j].Name })
	return s
}

// RenderBatchScript writes the bash script for s to w.
func RenderBatchScript(w io.Writer, s *BatchScript) error {
	if len(s.Srun) == 0 || len(s.Command) == 0 {
		return fmt.Errorf("batch script needs a job step and a command")
	}
	if err := batchScript.Execute(w, s); err != nil {
		return fmt.Errorf("failed to render batch script: %w", err)
	}
	return nil
}
