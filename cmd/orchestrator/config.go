package main

import (
	"time"

	"github.com/forgelabs/forge-orchestrator/pkg/autoscaler"
	"github.com/forgelabs/forge-orchestrator/pkg/storage"
)

// Config is the orchestrator daemon configuration, loaded from one or
// more yaml files merged in order.
type Config struct {
	Scheduler  SchedulerConfig   `yaml:"scheduler"`
	Autoscaler autoscaler.Config `yaml:"autoscaler"`
	Router     RouterConfig      `yaml:"router"`
	Storage    StorageConfig     `yaml:"storage"`
	Metrics    MetricsConfig     `yaml:"metrics"`
}

// SchedulerConfig selects the placement strategy and run loop tick.
type SchedulerConfig struct {
	// Strategy is one of binpack, spread, learned.
	Strategy string `yaml:"strategy" validate:"nonzero"`
	// SchedulingPeriod is the run loop tick interval.
	SchedulingPeriod time.Duration `yaml:"scheduling_period"`
}

// RouterConfig selects the expert selection policy.
type RouterConfig struct {
	// Policy is one of round-robin, least-load, gpu-aware,
	// version-aware.
	Policy string `yaml:"policy" validate:"nonzero"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is memory or etcd.
	Backend string             `yaml:"backend" validate:"nonzero"`
	Etcd    storage.EtcdConfig `yaml:"etcd"`
}

// MetricsConfig names the root metric scope.
type MetricsConfig struct {
	Prefix string `yaml:"prefix"`
}
