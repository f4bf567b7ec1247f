package plugins

import (
	log "github.com/sirupsen/logrus"

	"github.com/forgelabs/forge-orchestrator/pkg/scheduler/model"
)

// NewBinPack creates the bin-packing strategy. It favors nodes that will
// be most utilized after the placement, minimizing fragmentation.
func NewBinPack() Strategy {
	log.Info("Using bin-pack placement strategy")
	return &binPack{}
}

type binPack struct{}

// Score returns the mean post-placement utilization fraction across CPU
// and memory.
func (b *binPack) Score(workload *model.Workload, node *model.NodeResources) float64 {
	if node.CPUCapacity == 0 || node.MemoryCapacity == 0 {
		return 0
	}

	cpuAfter := float64(node.CPUAllocated+workload.Requirements.CPUMillis) /
		float64(node.CPUCapacity)
	memAfter := float64(node.MemoryAllocated+workload.Requirements.MemoryMB) /
		float64(node.MemoryCapacity)

	return (cpuAfter + memAfter) / 2
}

func (b *binPack) Name() string {
	return "bin-pack"
}
