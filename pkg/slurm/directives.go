// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package slurm

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kaito-project/pretrain/api/v1alpha1"
	"github.com/kaito-project/pretrain/pkg/utils/consts"
	"github.com/samber/lo"
)

// Directives returns the #SBATCH header of the job's batch script. One task runs per
// node and the per-node launcher forks one training process per GPU.
func Directives(job *v1alpha1.PretrainJob) []string {
	r := job.Spec.Resource
	var lines []string
	add := func(flag string, value any) {
		lines = append(lines, fmt.Sprintf("%s --%s=%v", consts.SbatchPrefix, flag, value))
	}
	addIf := func(flag, value string) {
		if value != "" {
			add(flag, value)
		}
	}

	add("job-name", job.Name)
	add("nodes", job.NodeCount())
	add("ntasks-per-node", 1)
	add("cpus-per-task", r.CPUsPerTask)
	add("gres", fmt.Sprintf("gpu:%d", r.GPUsPerNode))
	addIf("partition", r.Partition)
	addIf("account", r.Account)
	addIf("qos", r.QOS)
	addIf("time", r.TimeLimit)
	addIf("mem", r.Memory)
	if lo.FromPtrOr(r.Exclusive, true) {
		lines = append(lines, consts.SbatchPrefix+" --exclusive")
	}
	addIf("constraint", r.Constraint)
	addIf("reservation", r.Reservation)
	addIf("exclude", r.ExcludeNodes)
	addIf("output", r.OutputPath)
	addIf("error", r.ErrorPath)
	return lines
}

// SrunArgs returns the job step command prefix that starts one launcher per node.
// A failing rank ends the step, and the remaining ranks get a grace period to exit.
// extraMounts follow the job's own container mounts.
func SrunArgs(job *v1alpha1.PretrainJob, extraMounts ...string) []string {
	args := []string{
		"srun",
		fmt.Sprintf("--nodes=%d", job.NodeCount()),
		"--ntasks-per-node=1",
		fmt.Sprintf("--cpus-per-task=%d", job.Spec.Resource.CPUsPerTask),
		"--kill-on-bad-exit=1",
		fmt.Sprintf("--wait=%d", consts.SrunWaitSeconds),
	}
	if c := job.Spec.Launcher.Container; c != nil {
		args = append(args, "--container-image="+c.Image)
		if mounts := append(append([]string{}, c.Mounts...), extraMounts...); len(mounts) > 0 {
			args = append(args, "--container-mounts="+strings.Join(mounts, ","))
		}
		if wd := job.Spec.Launcher.WorkDir; wd != "" {
			args = append(args, "--container-workdir="+wd)
		}
	}
	return args
}

// EntryPointMounts returns read-only container mounts exposing the host paths of command
// at the same location inside the container: the executable itself and the directory of
// every other absolute argument. Paths already reachable through mounts are skipped.
func EntryPointMounts(command []string, mounts []string) []string {
	var paths []string
	for i, arg := range command {
		if !filepath.IsAbs(arg) {
			continue
		}
		if i > 0 {
			arg = filepath.Dir(arg)
		}
		if !mountedInPlace(mounts, arg) {
			paths = append(paths, arg)
		}
	}
	return lo.Map(lo.Uniq(paths), func(p string, _ int) string { return p + ":" + p + ":ro" })
}

// mountedInPlace reports whether path is under a SRC[:DST[:FLAGS]] mount with SRC == DST.
func mountedInPlace(mounts []string, path string) bool {
	return lo.ContainsBy(mounts, func(m string) bool {
		parts := strings.Split(m, ":")
		src, dst := parts[0], parts[0]
		if len(parts) > 1 {
			dst = parts[1]
		}
		src = filepath.Clean(src)
		return src == filepath.Clean(dst) && (path == src || strings.HasPrefix(path, strings.TrimSuffix(src, "/")+"/"))
	})
}
