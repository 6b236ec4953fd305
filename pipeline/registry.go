package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/postersafari/postr-engine/config"
	"github.com/postersafari/postr-engine/errors"
)

// Factory creates a stage instance. Stage parameters are read from
// sc.Params().
type Factory func(sc *Scheduler) (Stage, error)

// StageInfo describes a registered stage.
type StageInfo struct {
	Name        string
	Description string
}

type registration struct {
	info    StageInfo
	factory Factory
}

// Registry maps stage names to factories and merge names to merge
// functions, so chains can be described by name in configuration.
type Registry struct {
	mu     sync.RWMutex
	stages map[string]registration
	merges map[string]MergeFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		stages: make(map[string]registration),
		merges: make(map[string]MergeFunc),
	}
}

// Register adds a stage factory. Names must be unique.
func (r *Registry) Register(name, description string, f Factory) error {
	if name == "" || f == nil {
		return errors.InvalidInput("name", "stage registration needs a name and a factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stages[name]; ok {
		return errors.Conflict(fmt.Sprintf("stage %q is already registered", name))
	}
	r.stages[name] = registration{info: StageInfo{Name: name, Description: description}, factory: f}
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(name, description string, f Factory) {
	if err := r.Register(name, description, f); err != nil {
		panic(err)
	}
}

// RegisterMerge adds a named merge function.
func (r *Registry) RegisterMerge(name string, m MergeFunc) error {
	if name == "" || m == nil {
		return errors.InvalidInput("name", "merge registration needs a name and a function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.merges[name]; ok {
		return errors.Conflict(fmt.Sprintf("merge %q is already registered", name))
	}
	r.merges[name] = m
	return nil
}

// New creates a fresh instance of the named stage and registers it with the
// scheduler for Shutdown.
func (r *Registry) New(sc *Scheduler, name string) (Stage, error) {
	r.mu.RLock()
	reg, ok := r.stages[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("stage", name)
	}
	s, err := reg.factory(sc)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", name, err)
	}
	sc.Track(s)
	return s, nil
}

// Merge returns the named merge function.
func (r *Registry) Merge(name string) (MergeFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.merges[name]
	if !ok {
		return nil, errors.NotFound("merge", name)
	}
	return m, nil
}

// Names returns the sorted names of all registered stages.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stages))
	for name := range r.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the registered stages sorted by name.
func (r *Registry) Describe() []StageInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StageInfo, 0, len(r.stages))
	for _, reg := range r.stages {
		out = append(out, reg.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BuildChain compiles declarative steps into a chain. Every stage reference
// gets its own instance, so parallel branches never share one.
func (r *Registry) BuildChain(sc *Scheduler, steps []config.StepConfig) (Chain, error) {
	b, err := r.builder(sc, steps)
	if err != nil {
		return Chain{}, err
	}
	return b.Build(), nil
}

func (r *Registry) builder(sc *Scheduler, steps []config.StepConfig) (Builder, error) {
	b := New()
	for _, st := range steps {
		if st.Fork == nil {
			s, err := r.New(sc, st.Stage)
			if err != nil {
				return Builder{}, err
			}
			b = b.Then(s)
			continue
		}
		left, err := r.BuildChain(sc, st.Fork.A)
		if err != nil {
			return Builder{}, err
		}
		right, err := r.BuildChain(sc, st.Fork.B)
		if err != nil {
			return Builder{}, err
		}
		merge, err := r.Merge(st.Fork.Merge)
		if err != nil {
			return Builder{}, err
		}
		b = b.Fork(left, right, merge)
	}
	return b, nil
}
