// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package launcher

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kaito-project/pretrain/api/v1alpha1"
	"github.com/kaito-project/pretrain/pkg/megatron"
	"github.com/kaito-project/pretrain/pkg/model"
	"github.com/kaito-project/pretrain/pkg/rendezvous"
	"github.com/kaito-project/pretrain/pkg/utils"
	"github.com/kballard/go-shellquote"
	"github.com/samber/lo"
)

// Plan is everything needed to start the training program on one node.
type Plan struct {
	Job    *v1alpha1.PretrainJob
	Preset *model.PresetParam
	// Coordinates is nil when the plan is only submitted, not launched.
	Coordinates *rendezvous.Coordinates
	Args        []string
	Env         map[string]string
}

// NewPlan assembles the launch plan of a loaded job.
func NewPlan(job *v1alpha1.PretrainJob, preset *model.PresetParam, coords *rendezvous.Coordinates) (*Plan, error) {
	args, err := megatron.BuildArgs(job, preset)
	if err != nil {
		return nil, err
	}
	return &Plan{
		Job:         job,
		Preset:      preset,
		Coordinates: coords,
		Args:        args,
		Env:         buildEnv(job, coords),
	}, nil
}

func buildEnv(job *v1alpha1.PretrainJob, coords *rendezvous.Coordinates) map[string]string {
	r := job.Spec.Resource
	env := map[string]string{
		"PYTHONUNBUFFERED": "1",
		"OMP_NUM_THREADS":  strconv.Itoa(max(1, r.CPUsPerTask/max(1, r.GPUsPerNode))),
	}
	// Sequence parallelism relies on kernels being queued in issue order.
	if job.Spec.Parallelism.SequenceParallel {
		env["CUDA_DEVICE_MAX_CONNECTIONS"] = "1"
	}
	if coords != nil {
		env = utils.MergeMaps(env, coords.Env())
	}
	return utils.MergeMaps(env, job.Spec.Launcher.Env)
}

// Command is the launcher invocation:
// <launcher> <torchrun params> [<rdzv params>] <program> <training args>
func Command(plan *Plan) ([]string, error) {
	if plan.Coordinates == nil {
		return nil, fmt.Errorf("job %s has no rendezvous coordinates", plan.Job.Name)
	}
	l := plan.Job.Spec.Launcher
	cmd := []string{l.Command}
	cmd = append(cmd, plan.Coordinates.TorchRunArgs()...)
	cmd = append(cmd, plan.Coordinates.RdzvArgs()...)
	cmd = append(cmd, l.Program)
	return append(cmd, plan.Args...), nil
}

// ShellCommand renders Command for sh -c. A node rank given as a shell expression
// stays unquoted so the shell evaluates it on the node.
func ShellCommand(plan *Plan) (string, error) {
	cmd, err := Command(plan)
	if err != nil {
		return "", err
	}
	rankFlag := "--node_rank=" + plan.Coordinates.NodeRank
	words := lo.Map(cmd, func(word string, _ int) string {
		return lo.Ternary(word == rankFlag, word, shellquote.Join(word))
	})
	return strings.Join(words, " "), nil
}

// EnvList is the plan environment as sorted NAME=value pairs.
func (p *Plan) EnvList() []string {
	return utils.EnvList(p.Env)
}
