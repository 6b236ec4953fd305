package config

import (
	"fmt"
	"time"

	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/validation"
)

// Source kinds.
const (
	SourceMemory  = "memory"
	SourceCouchDB = "couchdb"
	SourceSQLite  = "sqlite"
)

// SourceConfig selects and configures the backlog the pump drains.
type SourceConfig struct {
	Kind string `yaml:"kind" mapstructure:"kind" validate:"required,oneof=memory couchdb sqlite"`
	// DebugDB switches to the debug databases or tables.
	DebugDB bool `yaml:"debug_db" mapstructure:"debug_db"`
	// DryRun claims and processes items without writing anything back.
	DryRun bool `yaml:"dry_run" mapstructure:"dry_run"`

	Memory  MemoryConfig  `yaml:"memory" mapstructure:"memory"`
	CouchDB CouchDBConfig `yaml:"couchdb" mapstructure:"couchdb"`
	SQLite  SQLiteConfig  `yaml:"sqlite" mapstructure:"sqlite"`
}

// MemoryConfig configures the in-process backlog.
type MemoryConfig struct {
	// Dir is loaded into the backlog at startup; every *.json file is one document.
	Dir string `yaml:"dir" mapstructure:"dir"`
	// Input names the attachment a document needs to be claimable.
	Input string `yaml:"input" mapstructure:"input"`
}

// CouchDBConfig configures the CouchDB adapter.
type CouchDBConfig struct {
	URL      string `yaml:"url" mapstructure:"url" validate:"omitempty,url"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	// JWTSecret enables JWT bearer auth instead of basic auth.
	JWTSecret string   `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	JWTRoles  []string `yaml:"jwt_roles" mapstructure:"jwt_roles"`

	PosterDB string `yaml:"poster_db" mapstructure:"poster_db" validate:"omitempty,ident"`
	EventDB  string `yaml:"event_db" mapstructure:"event_db" validate:"omitempty,ident"`

	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
	MaxRetries  int           `yaml:"max_retries" mapstructure:"max_retries" validate:"gte=0"`
	MaxFailures int           `yaml:"max_failures" mapstructure:"max_failures" validate:"gte=0"`
	// ResetTimeout is how long the source reports unhealthy after the
	// connection breaker opens.
	ResetTimeout time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout" validate:"gte=0"`
	// RequestsPerSecond limits request rate. Zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gte=0"`
}

// SQLiteConfig configures the embedded SQL backlog.
type SQLiteConfig struct {
	Path  string `yaml:"path" mapstructure:"path"`
	Input string `yaml:"input" mapstructure:"input"`
}

// ApplyDefaults fills in zero-value fields.
func (c *SourceConfig) ApplyDefaults() {
	if c.Kind == "" {
		c.Kind = SourceMemory
	}
	if c.Memory.Input == "" {
		c.Memory.Input = document.AttachmentOriginal
	}
	if c.SQLite.Path == "" {
		c.SQLite.Path = "postr.db"
	}
	if c.SQLite.Input == "" {
		c.SQLite.Input = document.AttachmentOriginal
	}

	cd := &c.CouchDB
	if cd.URL == "" {
		cd.URL = "http://localhost:5984"
	}
	if cd.PosterDB == "" {
		cd.PosterDB = "poster"
		if c.DebugDB {
			cd.PosterDB = "debug_poster"
		}
	}
	if cd.EventDB == "" {
		cd.EventDB = "event"
		if c.DebugDB {
			cd.EventDB = "debug_event"
		}
	}
	if cd.Timeout <= 0 {
		cd.Timeout = 30 * time.Second
	}
	if cd.MaxRetries == 0 {
		cd.MaxRetries = 3
	}
	if cd.MaxFailures == 0 {
		cd.MaxFailures = 5
	}
	if cd.ResetTimeout <= 0 {
		cd.ResetTimeout = 30 * time.Second
	}
}

// Validate checks the configuration against its struct tags.
func (c *SourceConfig) Validate() error {
	if err := validation.Validate(c); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	return nil
}
