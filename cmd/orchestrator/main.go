// The orchestrator daemon runs the scheduling, autoscaling and routing
// control loops behind a yaml-configured process.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
	"go.uber.org/multierr"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/forgelabs/forge-orchestrator/pkg/autoscaler"
	"github.com/forgelabs/forge-orchestrator/pkg/common/circuitbreaker"
	"github.com/forgelabs/forge-orchestrator/pkg/common/config"
	"github.com/forgelabs/forge-orchestrator/pkg/router"
	"github.com/forgelabs/forge-orchestrator/pkg/scheduler"
	"github.com/forgelabs/forge-orchestrator/pkg/scheduler/model"
	"github.com/forgelabs/forge-orchestrator/pkg/scheduler/plugins"
	"github.com/forgelabs/forge-orchestrator/pkg/storage"
)

var (
	version string
	app     = kingpin.New("forge-orchestrator", "Workload scheduling and routing daemon")

	debug = app.Flag(
		"debug", "enable debug logging").
		Short('d').
		Default("false").
		Envar("ENABLE_DEBUG_LOGGING").
		Bool()

	cfgFiles = app.Flag(
		"config",
		"YAML config files (can be provided multiple times to merge configs)").
		Short('c').
		Required().
		ExistingFiles()

	etcdEndpoints = app.Flag(
		"etcd-endpoint",
		"etcd endpoint (storage.etcd.endpoints override, repeatable) (set $ETCD_ENDPOINTS to override)").
		Envar("ETCD_ENDPOINTS").
		Strings()
)

func main() {
	app.Version(version)
	app.HelpFlag.Short('h')
	kingpin.MustParse(app.Parse(os.Args[1:]))

	log.SetFormatter(&log.JSONFormatter{})
	if *debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	log.WithField("files", *cfgFiles).Info("loading orchestrator config")
	var cfg Config
	if err := config.Parse(&cfg, *cfgFiles...); err != nil {
		log.WithError(err).Fatal("cannot parse yaml config")
	}
	if len(*etcdEndpoints) > 0 {
		cfg.Storage.Etcd.Endpoints = *etcdEndpoints
	}

	prefix := cfg.Metrics.Prefix
	if prefix == "" {
		prefix = "forge_orchestrator"
	}
	rootScope, scopeCloser := tally.NewRootScope(tally.ScopeOptions{
		Prefix: prefix,
	}, time.Second)

	store, err := buildStore(cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("cannot initialize storage")
	}

	strategy, err := buildStrategy(cfg.Scheduler.Strategy)
	if err != nil {
		log.WithError(err).Fatal("cannot initialize placement strategy")
	}

	opts := []scheduler.Option{scheduler.WithStore(store)}
	if cfg.Scheduler.SchedulingPeriod > 0 {
		opts = append(opts, scheduler.WithSchedulingPeriod(cfg.Scheduler.SchedulingPeriod))
	}
	sched, err := scheduler.New(strategy, rootScope.SubScope("scheduler"), opts...)
	if err != nil {
		log.WithError(err).Fatal("cannot initialize scheduler")
	}

	scaler, err := autoscaler.New(cfg.Autoscaler, rootScope.SubScope("autoscaler"))
	if err != nil {
		log.WithError(err).Fatal("cannot initialize autoscaler")
	}

	policy, err := buildPolicy(cfg.Router.Policy)
	if err != nil {
		log.WithError(err).Fatal("cannot initialize router policy")
	}
	registry := router.NewRegistry()
	d := &daemon{
		scheduler:  sched,
		autoscaler: scaler,
		router:     router.New(registry, policy, rootScope.SubScope("router")),
		registry:   registry,
		store:      store,
	}

	if err := d.scheduler.Recover(context.Background()); err != nil {
		log.WithError(err).Fatal("cannot recover persisted state")
	}

	d.scheduler.Start()
	d.autoscaler.Start(
		&clusterProvider{scheduler: d.scheduler},
		autoscaler.NewSubmitterActuator(d.scheduler, replicaFactory))

	log.WithFields(log.Fields{
		"strategy": cfg.Scheduler.Strategy,
		"policy":   cfg.Router.Policy,
		"storage":  cfg.Storage.Backend,
	}).Info("orchestrator started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("shutting down")

	if err := d.shutdown(scopeCloser); err != nil {
		log.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
}

// daemon holds the orchestrator's control loops and shared state.
// Callers embedding the daemon route requests through router and submit
// workloads through scheduler.
type daemon struct {
	scheduler  *scheduler.Scheduler
	autoscaler *autoscaler.Autoscaler
	router     *router.Router
	registry   *router.Registry
	store      storage.Store
}

func (d *daemon) shutdown(scopeCloser io.Closer) error {
	d.autoscaler.Stop()
	d.scheduler.Stop()
	return multierr.Combine(d.store.Close(), scopeCloser.Close())
}

func buildStore(cfg StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewInMem(), nil
	case "etcd":
		store, err := storage.NewEtcd(cfg.Etcd)
		if err != nil {
			return nil, err
		}
		breaker := circuitbreaker.New("etcd", circuitbreaker.DefaultConfig())
		return storage.NewGuarded(store, breaker), nil
	}
	return nil, errors.Errorf("unknown storage backend %q", cfg.Backend)
}

func buildStrategy(name string) (plugins.Strategy, error) {
	switch name {
	case "binpack":
		return plugins.NewBinPack(), nil
	case "spread":
		return plugins.NewSpread(), nil
	case "learned":
		return plugins.NewLearned(plugins.LearnedConfig{}), nil
	}
	return nil, errors.Errorf("unknown placement strategy %q", name)
}

func buildPolicy(name string) (router.Policy, error) {
	switch name {
	case "round-robin":
		return router.NewRoundRobin(), nil
	case "least-load":
		return router.NewLeastLoad(), nil
	case "gpu-aware":
		return router.NewGPUAware(), nil
	case "version-aware":
		return router.NewVersionAware(), nil
	}
	return nil, errors.Errorf("unknown router policy %q", name)
}

// clusterProvider feeds the autoscaler with cluster-wide utilization
// derived from the scheduler's node registry.
type clusterProvider struct {
	scheduler *scheduler.Scheduler
}

func (p *clusterProvider) Targets() []string {
	return []string{"cluster"}
}

func (p *clusterProvider) Snapshot(string) (autoscaler.Snapshot, error) {
	return autoscaler.Snapshot{
		Utilization:     p.scheduler.ClusterUtilization(),
		CurrentReplicas: uint32(p.scheduler.NodeCount()),
		Timestamp:       time.Now(),
	}, nil
}

// replicaFactory builds the workload submitted for one scale-up step.
func replicaFactory(targetID string, target uint32) *model.Workload {
	return model.NewWorkload(
		fmt.Sprintf("%s-replica-%d", targetID, target),
		targetID,
	).WithPriorityClass("production-medium")
}
