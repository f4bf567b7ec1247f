package plugins

import (
	"math"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/forgelabs/forge-orchestrator/pkg/scheduler/model"
)

const (
	// weightClamp bounds each learned weight to [-weightClamp, weightClamp].
	weightClamp = 2.0
)

// FeatureExtractor derives the feature vector a learned strategy scores
// with. The extractor is a configuration point: callers may supply their
// own features as long as the dimension stays fixed per strategy instance.
type FeatureExtractor func(workload *model.Workload, node *model.NodeResources) []float64

// DefaultFeatures is the 8-dimensional extractor used when none is
// configured: cpu/memory/gpu utilization, post-placement cpu and memory
// headroom, normalized priority, gpu-request flag and schedulable flag.
func DefaultFeatures(workload *model.Workload, node *model.NodeResources) []float64 {
	gpuUtil := 0.0
	if len(node.GPUs) > 0 {
		gpuUtil = float64(len(node.GPUsAllocated)) / float64(len(node.GPUs))
	}

	cpuHeadroom := 0.0
	if node.CPUCapacity > 0 {
		cpuHeadroom = (float64(node.CPUAvailable()) - float64(workload.Requirements.CPUMillis)) /
			float64(node.CPUCapacity)
	}
	memHeadroom := 0.0
	if node.MemoryCapacity > 0 {
		memHeadroom = (float64(node.MemoryAvailable()) - float64(workload.Requirements.MemoryMB)) /
			float64(node.MemoryCapacity)
	}

	gpuRequested := 0.0
	if workload.Requirements.GPUCount > 0 {
		gpuRequested = 1.0
	}
	schedulable := 0.0
	if node.Schedulable {
		schedulable = 1.0
	}

	return []float64{
		node.CPUUtilization(),
		node.MemoryUtilization(),
		gpuUtil,
		cpuHeadroom,
		memHeadroom,
		float64(workload.Priority) / 100.0,
		gpuRequested,
		schedulable,
	}
}

// LearnedConfig configures the learned strategy.
type LearnedConfig struct {
	// LearningRate of the least-mean-squares update.
	LearningRate float64 `yaml:"learning_rate"`
	// Features overrides the default feature extractor.
	Features FeatureExtractor `yaml:"-"`
	// NumFeatures is the feature vector dimension. Defaults to 8.
	NumFeatures int `yaml:"num_features"`
}

// Learned is a placement strategy that scores nodes with a weight vector
// adjusted online from placement feedback. The update is a plain LMS step,
// a heuristic without convergence guarantees, not a full optimizer.
type Learned struct {
	mu       sync.RWMutex
	weights  []float64
	lr       float64
	features FeatureExtractor
}

// NewLearned creates a learned strategy. Weights start at a neutral 0.5
// and retain their last value until feedback arrives.
func NewLearned(cfg LearnedConfig) *Learned {
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.01
	}
	if cfg.NumFeatures <= 0 {
		cfg.NumFeatures = 8
	}
	if cfg.Features == nil {
		cfg.Features = DefaultFeatures
	}

	weights := make([]float64, cfg.NumFeatures)
	for i := range weights {
		weights[i] = 0.5
	}

	log.WithFields(log.Fields{
		"num_features":  cfg.NumFeatures,
		"learning_rate": cfg.LearningRate,
	}).Info("Using learned placement strategy")

	return &Learned{
		weights:  weights,
		lr:       cfg.LearningRate,
		features: cfg.Features,
	}
}

// Score returns the sigmoid of the dot product between the weight vector
// and the extracted features, bounding the score to (0, 1).
func (l *Learned) Score(workload *model.Workload, node *model.NodeResources) float64 {
	features := l.features(workload, node)

	l.mu.RLock()
	defer l.mu.RUnlock()

	var dot float64
	for i, f := range features {
		if i >= len(l.weights) {
			break
		}
		dot += f * l.weights[i]
	}
	return 1 / (1 + math.Exp(-dot))
}

func (l *Learned) Name() string {
	return "learned"
}

// ExtractFeatures exposes the configured extractor so callers can capture
// the features used for a decision and hand them back with RecordFeedback.
func (l *Learned) ExtractFeatures(workload *model.Workload, node *model.NodeResources) []float64 {
	return l.features(workload, node)
}

// RecordFeedback nudges every weight toward reducing the squared error
// between the predicted score and the observed performance.
func (l *Learned) RecordFeedback(features []float64, performance float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var prediction float64
	for i, f := range features {
		if i >= len(l.weights) {
			break
		}
		prediction += f * l.weights[i]
	}

	err := performance - prediction
	for i, f := range features {
		if i >= len(l.weights) {
			break
		}
		w := l.weights[i] + l.lr*err*f
		if w > weightClamp {
			w = weightClamp
		} else if w < -weightClamp {
			w = -weightClamp
		}
		l.weights[i] = w
	}
}

// Weights returns a snapshot of the current weight vector.
func (l *Learned) Weights() []float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]float64, len(l.weights))
	copy(out, l.weights)
	return out
}
