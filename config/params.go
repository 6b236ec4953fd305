package config

import (
	"sort"
	"sync"
	"time"

	"github.com/spf13/cast"
)

// ParamKind names the type of a stage parameter.
type ParamKind string

const (
	KindString   ParamKind = "string"
	KindInt      ParamKind = "int"
	KindFloat    ParamKind = "float"
	KindBool     ParamKind = "bool"
	KindDuration ParamKind = "duration"
)

// ParamSpec records a parameter a stage has read.
type ParamSpec struct {
	Stage       string    `json:"stage"`
	Name        string    `json:"name"`
	Kind        ParamKind `json:"kind"`
	Default     any       `json:"default"`
	Value       any       `json:"value"`
	Description string    `json:"description,omitempty"`
}

// Params is a concurrency-safe store of named, typed, defaulted stage
// parameters. Reading a parameter registers its spec so the full set of
// parameters can be listed with Specs. Values that cannot be converted to
// the requested type fall back to the default.
type Params struct {
	mu     sync.RWMutex
	values map[string]map[string]any
	specs  map[string]ParamSpec
}

// NewParams creates a store seeded with values keyed by stage then name.
func NewParams(values map[string]map[string]any) *Params {
	p := &Params{
		values: make(map[string]map[string]any, len(values)),
		specs:  make(map[string]ParamSpec),
	}
	for stage, kv := range values {
		for name, v := range kv {
			p.set(stage, name, v)
		}
	}
	return p
}

// Set overrides a single parameter.
func (p *Params) Set(stage, name string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set(stage, name, value)
}

func (p *Params) set(stage, name string, value any) {
	if p.values[stage] == nil {
		p.values[stage] = make(map[string]any)
	}
	p.values[stage][name] = value
}

// String reads a string parameter.
func (p *Params) String(stage, name, def, descr string) string {
	return lookup(p, stage, name, KindString, def, descr, cast.ToStringE)
}

// Int reads an integer parameter.
func (p *Params) Int(stage, name string, def int, descr string) int {
	return lookup(p, stage, name, KindInt, def, descr, cast.ToIntE)
}

// Float reads a floating point parameter.
func (p *Params) Float(stage, name string, def float64, descr string) float64 {
	return lookup(p, stage, name, KindFloat, def, descr, cast.ToFloat64E)
}

// Bool reads a boolean parameter.
func (p *Params) Bool(stage, name string, def bool, descr string) bool {
	return lookup(p, stage, name, KindBool, def, descr, cast.ToBoolE)
}

// Duration reads a duration parameter ("250ms", "2s", or nanoseconds).
func (p *Params) Duration(stage, name string, def time.Duration, descr string) time.Duration {
	return lookup(p, stage, name, KindDuration, def, descr, cast.ToDurationE)
}

// Specs returns every parameter read so far, sorted by stage and name.
func (p *Params) Specs() []ParamSpec {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ParamSpec, 0, len(p.specs))
	for _, s := range p.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stage != out[j].Stage {
			return out[i].Stage < out[j].Stage
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Snapshot returns the effective values keyed by stage then name, including
// defaults of every parameter read so far.
func (p *Params) Snapshot() map[string]map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]map[string]any)
	for _, s := range p.specs {
		if out[s.Stage] == nil {
			out[s.Stage] = make(map[string]any)
		}
		out[s.Stage][s.Name] = s.Value
	}
	return out
}

func lookup[T any](p *Params, stage, name string, kind ParamKind, def T, descr string, conv func(any) (T, error)) T {
	p.mu.Lock()
	defer p.mu.Unlock()

	val := def
	if raw, ok := p.values[stage][name]; ok {
		if v, err := conv(raw); err == nil {
			val = v
		}
	}
	p.specs[stage+"."+name] = ParamSpec{
		Stage:       stage,
		Name:        name,
		Kind:        kind,
		Default:     def,
		Value:       val,
		Description: descr,
	}
	return val
}
