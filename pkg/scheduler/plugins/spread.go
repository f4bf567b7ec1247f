package plugins

import (
	log "github.com/sirupsen/logrus"

	"github.com/forgelabs/forge-orchestrator/pkg/scheduler/model"
)

// NewSpread creates the spread strategy. It favors the least utilized
// eligible node, balancing load across the cluster.
func NewSpread() Strategy {
	log.Info("Using spread placement strategy")
	return &spread{}
}

type spread struct{}

// Score returns one minus the mean pre-placement utilization fraction, so
// emptier nodes score higher.
func (s *spread) Score(_ *model.Workload, node *model.NodeResources) float64 {
	util := (node.CPUUtilization() + node.MemoryUtilization()) / 2
	return 1 - util
}

func (s *spread) Name() string {
	return "spread"
}
