// Package preemption defines priority classes and the victim selection
// used when a workload cannot be placed without evicting others.
package preemption

import (
	"github.com/pkg/errors"
)

// Policy governs whether a priority class may evict lower classes.
type Policy int

const (
	// Never means workloads of this class do not evict others.
	Never Policy = iota
	// PreemptLowerPriority allows evicting workloads whose class value
	// is strictly lower.
	PreemptLowerPriority
)

func (p Policy) String() string {
	if p == Never {
		return "Never"
	}
	return "PreemptLowerPriority"
}

// PriorityClass assigns a priority value and preemption policy to the
// workloads referencing it.
type PriorityClass struct {
	// Name identifies the class.
	Name string `yaml:"name"`
	// Value is the priority; higher is more important.
	Value int32 `yaml:"value"`
	// Policy is the class preemption policy.
	Policy Policy `yaml:"policy"`
	// Description is optional documentation.
	Description string `yaml:"description,omitempty"`
	// GlobalDefault marks the class applied to workloads that name none.
	GlobalDefault bool `yaml:"global_default"`
}

// Standard priority classes, highest to lowest value.
var (
	SystemCritical = PriorityClass{
		Name:        "system-critical",
		Value:       2000000000,
		Policy:      PreemptLowerPriority,
		Description: "Critical system workloads",
	}
	SystemHigh = PriorityClass{
		Name:        "system-high",
		Value:       1000000000,
		Policy:      PreemptLowerPriority,
		Description: "High priority system workloads",
	}
	ProductionHigh = PriorityClass{
		Name:        "production-high",
		Value:       100000,
		Policy:      PreemptLowerPriority,
		Description: "High priority production workloads",
	}
	ProductionMedium = PriorityClass{
		Name:          "production-medium",
		Value:         50000,
		Policy:        PreemptLowerPriority,
		Description:   "Medium priority production workloads",
		GlobalDefault: true,
	}
	Batch = PriorityClass{
		Name:        "batch",
		Value:       10000,
		Policy:      Never,
		Description: "Batch processing workloads",
	}
	BestEffort = PriorityClass{
		Name:        "best-effort",
		Value:       0,
		Policy:      Never,
		Description: "Best effort workloads, can be preempted",
	}
)

// StandardClasses returns the built-in class set.
func StandardClasses() []PriorityClass {
	return []PriorityClass{
		SystemCritical,
		SystemHigh,
		ProductionHigh,
		ProductionMedium,
		Batch,
		BestEffort,
	}
}

// ClassTable holds the registered priority classes. It is immutable once
// built, so lookups need no locking.
type ClassTable struct {
	classes      map[string]PriorityClass
	defaultClass PriorityClass
}

// NewClassTable validates and indexes the given classes. It fails fast on
// duplicate names or when the default is not unique; these are
// configuration-time errors, never scheduling-time ones.
func NewClassTable(classes ...PriorityClass) (*ClassTable, error) {
	if len(classes) == 0 {
		return nil, errors.New("priority class table requires at least one class")
	}

	table := &ClassTable{classes: make(map[string]PriorityClass, len(classes))}
	defaults := 0
	for _, class := range classes {
		if _, ok := table.classes[class.Name]; ok {
			return nil, errors.Errorf(
				"duplicate priority class %q", class.Name)
		}
		table.classes[class.Name] = class
		if class.GlobalDefault {
			defaults++
			table.defaultClass = class
		}
	}
	if defaults != 1 {
		return nil, errors.Errorf(
			"priority class table must have exactly one default, got %d",
			defaults)
	}
	return table, nil
}

// Lookup returns the class by name, falling back to the default class.
func (t *ClassTable) Lookup(name string) PriorityClass {
	if class, ok := t.classes[name]; ok {
		return class
	}
	return t.defaultClass
}

// Default returns the default class.
func (t *ClassTable) Default() PriorityClass {
	return t.defaultClass
}

// Classes returns all registered classes.
func (t *ClassTable) Classes() []PriorityClass {
	out := make([]PriorityClass, 0, len(t.classes))
	for _, class := range t.classes {
		out = append(out, class)
	}
	return out
}
