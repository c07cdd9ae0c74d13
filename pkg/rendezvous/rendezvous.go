// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package rendezvous

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/kaito-project/pretrain/api/v1alpha1"
	"github.com/kaito-project/pretrain/pkg/featuregates"
	"github.com/kaito-project/pretrain/pkg/slurm"
	"github.com/kaito-project/pretrain/pkg/utils/consts"
	"github.com/samber/lo"
	"k8s.io/klog/v2"
)

// Endpoint is the address workers dial to form the process group.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Coordinates place one node inside a distributed job.
type Coordinates struct {
	JobID        string
	NumNodes     int
	ProcsPerNode int
	// NodeRank is usually a number but may be a shell expression evaluated on the node.
	NodeRank string
	Master   Endpoint

	// Elastic switches torchrun to the rendezvous handler, which tolerates node restarts.
	Elastic     bool
	Backend     string
	MaxRestarts int
}

// WorldSize is the number of training processes across all nodes.
func (c *Coordinates) WorldSize() int {
	return c.NumNodes * c.ProcsPerNode
}

// Resolve computes the coordinates of the current node inside a Slurm allocation.
// The first host of the node list is the master unless the job names one.
func Resolve(alloc *slurm.Allocation, job *v1alpha1.PretrainJob) (*Coordinates, error) {
	hosts, err := alloc.Hosts()
	if err != nil {
		return nil, err
	}
	if len(hosts) != job.NodeCount() {
		return nil, fmt.Errorf("job %s asks for %d nodes but allocation %s has %d", job.Name, job.NodeCount(), alloc.JobID, len(hosts))
	}
	rank, err := alloc.NodeRank()
	if err != nil {
		return nil, err
	}
	gpus := job.Spec.Resource.GPUsPerNode
	if alloc.GPUsOnNode > 0 && alloc.GPUsOnNode != gpus {
		klog.InfoS("GPU count of the allocation differs from the job", "job", job.Name, "gpusPerNode", gpus, "gpusOnNode", alloc.GPUsOnNode)
	}
	port, err := MasterPort(job.Spec.Rendezvous.MasterPort, alloc.JobID)
	if err != nil {
		return nil, err
	}

	rdzv := job.Spec.Rendezvous
	c := &Coordinates{
		JobID:        alloc.JobID,
		NumNodes:     len(hosts),
		ProcsPerNode: gpus,
		NodeRank:     strconv.Itoa(rank),
		Master: Endpoint{
			Host: lo.Ternary(rdzv.MasterAddr != "", rdzv.MasterAddr, hosts[0]),
			Port: port,
		},
		Elastic:     featuregates.Enabled(consts.FeatureFlagElasticRendezvous),
		Backend:     rdzv.Backend,
		MaxRestarts: lo.FromPtr(rdzv.MaxRestarts),
	}
	klog.V(2).InfoS("Resolved rendezvous", "job", job.Name, "master", c.Master.String(), "nodeRank", c.NodeRank, "nodes", c.NumNodes)
	return c, nil
}

// MasterPort returns base, or base offset by the job id when PortFromJobID is on so
// jobs sharing a node do not collide.
func MasterPort(base int, jobID string) (int, error) {
	if !featuregates.Enabled(consts.FeatureFlagPortFromJobID) {
		return base, nil
	}
	// Array and heterogeneous job ids look like 1234_7 or 1234+1.
	digits := strings.FieldsFunc(jobID, func(r rune) bool { return r < '0' || r > '9' })
	if len(digits) == 0 {
		return 0, fmt.Errorf("cannot derive a port from job id %q", jobID)
	}
	id, err := strconv.Atoi(digits[0])
	if err != nil {
		return 0, fmt.Errorf("cannot derive a port from job id %q: %w", jobID, err)
	}
	port := base + id%consts.JobIDPortRange
	if port > 65535 {
		return 0, fmt.Errorf("port %d derived from job id %s is out of range", port, jobID)
	}
	return port, nil
}

// TorchRunArgs are the process-group flags of the launcher.
func (c *Coordinates) TorchRunArgs() []string {
	return []string{
		fmt.Sprintf("--nnodes=%d", c.NumNodes),
		fmt.Sprintf("--nproc_per_node=%d", c.ProcsPerNode),
		"--node_rank=" + c.NodeRank,
		"--master_addr=" + c.Master.Host,
		fmt.Sprintf("--master_port=%d", c.Master.Port),
	}
}

// RdzvArgs are the elastic rendezvous flags, empty unless Elastic is set.
func (c *Coordinates) RdzvArgs() []string {
	if !c.Elastic {
		return nil
	}
	return []string{
		"--rdzv_id=" + c.JobID,
		"--rdzv_backend=" + c.Backend,
		"--rdzv_endpoint=" + c.Master.String(),
		fmt.Sprintf("--max_restarts=%d", c.MaxRestarts),
	}
}

// Env is the rendezvous environment read by the training program.
func (c *Coordinates) Env() map[string]string {
	return map[string]string{
		"MASTER_ADDR": c.Master.Host,
		"MASTER_PORT": strconv.Itoa(c.Master.Port),
		"WORLD_SIZE":  strconv.Itoa(c.WorldSize()),
		"NNODES":      strconv.Itoa(c.NumNodes),
		"NODE_RANK":   c.NodeRank,
	}
}
