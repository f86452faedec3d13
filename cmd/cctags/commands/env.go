// Package commands implements CLI command handlers for cctags.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/parameterIT/experiment-toolkit/pkg/config"
	"github.com/parameterIT/experiment-toolkit/pkg/observability"
	"github.com/parameterIT/experiment-toolkit/pkg/version"
)

// Globals holds the persistent flags shared by every command.
type Globals struct {
	ConfigPath  string
	Verbose     bool
	LogJSON     bool
	MetricsAddr string
}

// Register binds the persistent flags.
func (g *Globals) Register(flags *pflag.FlagSet) {
	flags.StringVar(&g.ConfigPath, "config", "", "Config file (default: ./cctags.yaml, ./config/, ~/.config/cctags/)")
	flags.BoolVarP(&g.Verbose, "verbose", "v", false, "Debug logging")
	flags.BoolVar(&g.LogJSON, "log-json", false, "Log as JSON")
	flags.StringVar(&g.MetricsAddr, "metrics-addr", "", "Serve /healthz, /readyz and /metrics on this address")
}

// environment is what a command needs once config and telemetry are up.
type environment struct {
	cfg       *config.Config
	providers observability.Providers
	pipeline  *observability.PipelineMetrics
	red       *observability.REDMetrics
	logger    *slog.Logger
	diag      *observability.DiagnosticsServer
}

// loadConfig reads the config file named by --config, or searches for one.
func (g *Globals) loadConfig() (*config.Config, error) {
	return config.LoadConfig(g.ConfigPath)
}

// setup starts telemetry for mode. The returned close func must be called
// once the command is done.
func setup(g *Globals, cfg *config.Config, mode observability.AppMode, ready ...observability.ReadyCheck) (*environment, func(), error) {
	level, err := observability.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}

	if g.Verbose {
		level = slog.LevelDebug
	}

	metricsAddr := cfg.Telemetry.MetricsAddr
	if g.MetricsAddr != "" {
		metricsAddr = g.MetricsAddr
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.Mode = mode
	obsCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	obsCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	obsCfg.Prometheus = metricsAddr != ""
	obsCfg.LogLevel = level
	obsCfg.LogJSON = cfg.Logging.JSON || g.LogJSON
	obsCfg.DebugTrace = g.Verbose

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return nil, nil, err
	}

	env := &environment{cfg: cfg, providers: providers, logger: providers.Logger}

	closeFn := func() {
		if env.diag != nil {
			closeErr := env.diag.Close(context.Background())
			if closeErr != nil {
				env.logger.Warn("diagnostics shutdown failed", "error", closeErr)
			}
		}

		shutdownErr := providers.Shutdown(context.Background())
		if shutdownErr != nil {
			env.logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}

	env.pipeline, err = observability.NewPipelineMetrics(providers.Meter)
	if err == nil {
		env.red, err = observability.NewREDMetrics(providers.Meter)
	}

	if err == nil && metricsAddr != "" {
		env.diag, err = observability.NewDiagnosticsServer(metricsAddr, observability.DiagnosticsOptions{
			Metrics: providers.MetricsHandler,
			Tracer:  providers.Tracer,
			Ready:   ready,
			Logger:  providers.Logger,
		})
	}

	if err != nil {
		closeFn()

		return nil, nil, fmt.Errorf("start telemetry: %w", err)
	}

	return env, closeFn, nil
}
