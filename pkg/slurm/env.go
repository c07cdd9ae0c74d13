// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package slurm

import (
	"errors"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
)

// ErrNotInAllocation is returned when a per-node operation runs outside a Slurm job.
var ErrNotInAllocation = errors.New("not running inside a slurm allocation")

// Allocation is the part of the Slurm job environment the launcher consumes.
type Allocation struct {
	JobID       string `envconfig:"JOB_ID"`
	JobName     string `envconfig:"JOB_NAME"`
	NodeList    string `envconfig:"JOB_NODELIST"`
	NumNodes    int    `envconfig:"JOB_NUM_NODES"`
	NodeID      int    `envconfig:"NODEID" default:"-1"`
	ProcID      int    `envconfig:"PROCID" default:"-1"`
	LocalID     int    `envconfig:"LOCALID" default:"-1"`
	GPUsOnNode  int    `envconfig:"GPUS_ON_NODE"`
	CPUsPerTask int    `envconfig:"CPUS_PER_TASK"`
	SubmitDir   string `envconfig:"SUBMIT_DIR"`
	StepID      string `envconfig:"STEP_ID"`
}

// LoadAllocation reads the SLURM_* variables of the current process.
func LoadAllocation() (*Allocation, error) {
	a := &Allocation{}
	if err := envconfig.Process("slurm", a); err != nil {
		return nil, fmt.Errorf("failed to read slurm environment: %w", err)
	}
	return a, nil
}

// InAllocation reports whether the process runs under a Slurm job.
func (a *Allocation) InAllocation() bool {
	return a != nil && a.JobID != ""
}

// Hosts expands the allocation's node list.
func (a *Allocation) Hosts() ([]string, error) {
	if !a.InAllocation() {
		return nil, ErrNotInAllocation
	}
	hosts, err := ExpandHostList(a.NodeList)
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("slurm job %s has an empty node list", a.JobID)
	}
	if a.NumNodes > 0 && a.NumNodes != len(hosts) {
		return nil, fmt.Errorf("slurm job %s reports %d nodes but node list %q has %d", a.JobID, a.NumNodes, a.NodeList, len(hosts))
	}
	return hosts, nil
}

// NodeRank is this node's index in the allocation. SLURM_NODEID wins, otherwise the
// hostname is looked up in the node list.
func (a *Allocation) NodeRank() (int, error) {
	hosts, err := a.Hosts()
	if err != nil {
		return 0, err
	}
	if a.NodeID >= 0 {
		if a.NodeID >= len(hosts) {
			return 0, fmt.Errorf("SLURM_NODEID %d is outside the %d node allocation", a.NodeID, len(hosts))
		}
		return a.NodeID, nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return 0, fmt.Errorf("failed to read hostname: %w", err)
	}
	if i := HostIndex(hosts, hostname); i >= 0 {
		return i, nil
	}
	return 0, fmt.Errorf("host %s is not part of node list %q", hostname, a.NodeList)
}
