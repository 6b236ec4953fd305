package main

import (
	"context"
	"fmt"

	"github.com/postersafari/postr-engine/bootstrap"
	"github.com/postersafari/postr-engine/config"
	"github.com/postersafari/postr-engine/logger"
	"github.com/postersafari/postr-engine/observability"
	"github.com/postersafari/postr-engine/pipeline"
	"github.com/postersafari/postr-engine/server"
	"github.com/postersafari/postr-engine/source/couchdb"
	"github.com/postersafari/postr-engine/source/memory"
	"github.com/postersafari/postr-engine/source/sqlite"
	"github.com/postersafari/postr-engine/stages"
)

const serviceName = "postr-engine"

// AppConfig is the full configuration of the binary.
type AppConfig struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Engine    config.EngineConfig  `yaml:"engine" mapstructure:"engine"`
	Source    config.SourceConfig  `yaml:"source" mapstructure:"source"`
	Telemetry observability.Config `yaml:"telemetry" mapstructure:"telemetry"`
	Status    server.Config        `yaml:"status" mapstructure:"status"`
}

// ApplyDefaults fills in every section.
func (c *AppConfig) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	c.Engine.ApplyDefaults()
	c.Source.ApplyDefaults()
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = c.Name
	}
	if c.Telemetry.ServiceVersion == "" {
		c.Telemetry.ServiceVersion = c.Version
	}
	if c.Telemetry.Environment == "" {
		c.Telemetry.Environment = c.Environment
	}
	c.Telemetry.ApplyDefaults()
	c.Status.ApplyDefaults()
}

// Validate checks every section.
func (c *AppConfig) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if err := c.Source.Validate(); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	return c.Status.Validate()
}

// loadConfig reads the config file and environment, then applies the
// command line flags on top.
func loadConfig(flags *globalFlags) (*AppConfig, error) {
	cfg := &AppConfig{}
	var opts []config.LoaderOption
	if flags.configFile != "" {
		opts = append(opts, config.WithConfigFile(flags.configFile))
	}
	if err := config.LoadConfig(serviceName, cfg, opts...); err != nil {
		return nil, err
	}
	flags.apply(cfg)
	return cfg, nil
}

func (f *globalFlags) apply(cfg *AppConfig) {
	if f.debug {
		cfg.Debug = true
	}
	if level := f.logLevel(); level != "" {
		cfg.Logging.Level = level
	}
	if f.debugDB {
		cfg.Source.DebugDB = true
	}
	if f.dryRun {
		cfg.Source.DryRun = true
	}
}

func newApp(flags *globalFlags) (*bootstrap.App[*AppConfig], error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	return bootstrap.NewApp(cfg)
}

// engine holds everything a command needs to process items.
type engine struct {
	cfg   *AppConfig
	log   *logger.Logger
	sc    *pipeline.Scheduler
	reg   *pipeline.Registry
	chain pipeline.Chain
	src   pipeline.Source
}

// newEngine builds the scheduler, the stage registry and the configured
// chain, and opens the source. Teardown is registered as stop hooks on app.
func newEngine(ctx context.Context, app *bootstrap.App[*AppConfig], reporter pipeline.ProgressReporter) (*engine, error) {
	cfg := app.Cfg
	log := app.Logger.WithFields(logger.Fields(logger.FieldEngineID, cfg.Engine.ID))

	opts := []pipeline.Option{
		pipeline.WithLogger(log),
		pipeline.WithParams(config.NewParams(cfg.Engine.Params)),
		pipeline.WithTeardownTimeout(cfg.Engine.TeardownTimeout),
	}
	if reporter != nil {
		opts = append(opts, pipeline.WithProgressReporter(reporter))
	}
	if cfg.Telemetry.Enabled {
		obs, err := initTelemetry(ctx, app)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithObserver(obs))
	}
	sc := pipeline.NewScheduler(opts...)

	reg := pipeline.NewRegistry()
	if err := stages.Register(reg, cfg.Engine.Plugins, log); err != nil {
		return nil, err
	}
	chain, err := reg.BuildChain(sc, cfg.Engine.Chain)
	if err != nil {
		return nil, fmt.Errorf("building chain: %w", err)
	}

	src, err := openSource(ctx, cfg.Source, cfg.Engine.ID, log)
	if err != nil {
		return nil, fmt.Errorf("opening %s source: %w", cfg.Source.Kind, err)
	}

	app.OnStop(
		func(context.Context) error { return src.Close() },
		sc.Shutdown,
	)
	log.Debug("engine ready", logger.Fields("source", cfg.Source.Kind, "chain_weight", chain.Weight()))
	return &engine{cfg: cfg, log: log, sc: sc, reg: reg, chain: chain, src: src}, nil
}

// initTelemetry installs the OTLP providers and returns an observer
// recording into them.
func initTelemetry(ctx context.Context, app *bootstrap.App[*AppConfig]) (pipeline.Observer, error) {
	tc := app.Cfg.Telemetry
	tp, err := observability.InitTracer(ctx, tc)
	if err != nil {
		return nil, err
	}
	app.OnStop(tp.Shutdown)

	mp, err := observability.InitMeter(ctx, tc)
	if err != nil {
		return nil, err
	}
	app.OnStop(mp.Shutdown)

	return observability.NewPipelineObserver(mp.Meter(serviceName), tp.Tracer(serviceName))
}

func openSource(ctx context.Context, cfg config.SourceConfig, owner string, log *logger.Logger) (pipeline.Source, error) {
	switch cfg.Kind {
	case config.SourceCouchDB:
		src, err := couchdb.New(cfg.CouchDB, owner,
			couchdb.WithDryRun(cfg.DryRun),
			couchdb.WithLogger(log),
		)
		if err != nil {
			return nil, err
		}
		return src, nil
	case config.SourceSQLite:
		src, err := sqlite.Open(ctx, cfg.SQLite, owner,
			sqlite.WithDebugTables(cfg.DebugDB),
			sqlite.WithDryRun(cfg.DryRun),
			sqlite.WithLogger(log),
		)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		backlog := memory.NewBacklog()
		if cfg.Memory.Dir != "" {
			n, err := backlog.Load(cfg.Memory.Dir)
			if err != nil {
				return nil, err
			}
			log.Info("backlog loaded", logger.Fields("dir", cfg.Memory.Dir, "documents", n))
		}
		return memory.NewSource(backlog, owner,
			memory.WithInput(cfg.Memory.Input),
			memory.WithDryRun(cfg.DryRun),
			memory.WithLogger(log),
		), nil
	}
}
