package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/postersafari/postr-engine/validation"
)

const (
	defaultMaxInFlight     = 5
	defaultPollInterval    = 500 * time.Millisecond
	defaultTeardownTimeout = 10 * time.Second
	defaultClaimRetryLimit = 3
	defaultPluginTimeout   = 5 * time.Minute
	defaultPluginReset     = time.Minute
)

// EngineConfig configures the scheduler, the pump and the processing chain.
type EngineConfig struct {
	// ID is written into claimed items as the owner tag. Defaults to
	// "<hostname>-<random suffix>".
	ID string `yaml:"id" mapstructure:"id" validate:"required,max=128"`

	// MaxInFlight bounds the number of runs the pump keeps in flight.
	MaxInFlight int `yaml:"max_in_flight" mapstructure:"max_in_flight" validate:"gte=1"`

	// PollInterval is how long the pump sleeps when saturated or when the
	// source has nothing claimable.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval" validate:"gt=0"`

	// TeardownTimeout bounds how long closing a stage waits for its
	// in-flight activation to acknowledge cancellation.
	TeardownTimeout time.Duration `yaml:"teardown_timeout" mapstructure:"teardown_timeout" validate:"gt=0"`

	// ClaimRetryLimit is the number of consecutive lost claims retried
	// without sleeping.
	ClaimRetryLimit int `yaml:"claim_retry_limit" mapstructure:"claim_retry_limit" validate:"gte=0"`

	// Chain lists the processing steps in execution order.
	Chain []StepConfig `yaml:"chain" mapstructure:"chain" validate:"dive"`

	// Plugins declares out-of-process stages.
	Plugins []PluginConfig `yaml:"plugins" mapstructure:"plugins" validate:"dive"`

	// Params holds stage parameters keyed by stage name.
	Params map[string]map[string]any `yaml:"params" mapstructure:"params"`
}

// StepConfig is one step of a declarative chain: either a stage reference
// or a fork of two sub-chains.
type StepConfig struct {
	Stage string      `yaml:"stage" mapstructure:"stage" validate:"omitempty,ident"`
	Fork  *ForkConfig `yaml:"fork" mapstructure:"fork" validate:"omitempty"`
}

// ForkConfig runs A and B on copies of the item and merges B into A.
type ForkConfig struct {
	A     []StepConfig `yaml:"a" mapstructure:"a" validate:"dive"`
	B     []StepConfig `yaml:"b" mapstructure:"b" validate:"dive"`
	Merge string       `yaml:"merge" mapstructure:"merge" validate:"required,ident"`
}

// PluginConfig describes a stage implemented by an external executable that
// reads an item as JSON on stdin and writes the processed item to stdout.
type PluginConfig struct {
	Name    string        `yaml:"name" mapstructure:"name" validate:"required,ident"`
	Command string        `yaml:"command" mapstructure:"command" validate:"required"`
	Args    []string      `yaml:"args" mapstructure:"args"`
	Env     []string      `yaml:"env" mapstructure:"env"`
	Dir     string        `yaml:"dir" mapstructure:"dir"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
	// MaxConcurrent bounds live subprocesses across every instance of the
	// plugin stage. Defaults to MaxInFlight.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent" validate:"gte=0"`
	// MaxFailures consecutive crashes stop the plugin from being started
	// for ResetTimeout. Zero disables this.
	MaxFailures  int           `yaml:"max_failures" mapstructure:"max_failures" validate:"gte=0"`
	ResetTimeout time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout" validate:"gte=0"`
}

// DefaultChain is used when no chain is configured.
func DefaultChain() []StepConfig {
	return []StepConfig{{Stage: "regex"}, {Stage: "wordsplit"}}
}

// ApplyDefaults fills in zero-value fields with defaults.
func (c *EngineConfig) ApplyDefaults() {
	if c.ID == "" {
		c.ID = DefaultEngineID()
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = defaultMaxInFlight
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = defaultTeardownTimeout
	}
	if c.ClaimRetryLimit == 0 {
		c.ClaimRetryLimit = defaultClaimRetryLimit
	}
	if len(c.Chain) == 0 {
		c.Chain = DefaultChain()
	}
	for i := range c.Plugins {
		pl := &c.Plugins[i]
		if pl.Timeout <= 0 {
			pl.Timeout = defaultPluginTimeout
		}
		if pl.MaxConcurrent <= 0 {
			pl.MaxConcurrent = c.MaxInFlight
		}
		if pl.MaxFailures > 0 && pl.ResetTimeout <= 0 {
			pl.ResetTimeout = defaultPluginReset
		}
	}
}

// Validate checks the configuration against its struct tags.
func (c *EngineConfig) Validate() error {
	if err := validation.Validate(c); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return validateSteps("chain", c.Chain)
}

func validateSteps(path string, steps []StepConfig) error {
	for i, step := range steps {
		at := fmt.Sprintf("%s[%d]", path, i)
		switch {
		case step.Stage == "" && step.Fork == nil:
			return fmt.Errorf("engine: %s: needs a stage or a fork", at)
		case step.Stage != "" && step.Fork != nil:
			return fmt.Errorf("engine: %s: stage and fork are mutually exclusive", at)
		case step.Fork != nil:
			if err := validateSteps(at+".fork.a", step.Fork.A); err != nil {
				return err
			}
			if err := validateSteps(at+".fork.b", step.Fork.B); err != nil {
				return err
			}
		}
	}
	return nil
}

// DefaultEngineID returns "<hostname>-<8 hex chars>".
func DefaultEngineID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "engine"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
