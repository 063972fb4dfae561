package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/3cpo-dev/gpipe/internal/core"
	"github.com/3cpo-dev/gpipe/internal/pipelines"
	"github.com/3cpo-dev/gpipe/internal/telemetry"
	"github.com/3cpo-dev/gpipe/internal/transport"
	"github.com/3cpo-dev/gpipe/internal/zones"
)

// env is what a command needs to talk to the API, built once per invocation.
type env struct {
	cfg     core.Config
	http    *transport.Client
	client  *pipelines.Client
	metrics *telemetry.Collector
}

// exitError carries a process exit status without an extra message.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// loadConfig reads --config and applies --project.
func loadConfig(cmd *cobra.Command) (core.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := core.LoadConfig(cfgPath)
	if err != nil {
		return cfg, err
	}
	if project, _ := cmd.Flags().GetString("project"); project != "" {
		cfg.Project = project
	}
	return cfg, nil
}

// resolveEnv loads configuration and builds the authorized clients.
func resolveEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	hc, err := transport.NewHTTPClient(cmd.Context(), cfg.Token, time.Duration(cfg.API.TimeoutSeconds)*time.Second)
	if err != nil {
		return nil, err
	}
	retry := transport.DefaultRetryConfig()
	retry.MaxRetries = cfg.API.Retries
	tc := transport.New(hc, retry, cfg.API.RequestsPerSecond)
	metrics := telemetry.NewCollector(cfg.Telemetry.Enabled)
	return &env{
		cfg:     cfg,
		http:    tc,
		client:  pipelines.NewClient(tc, cfg.API.Endpoint, metrics),
		metrics: metrics,
	}, nil
}

// offlineEnv builds an env without credentials unless the configured zone
// source has to query the API.
func offlineEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Zones.Source == zones.SourceLive {
		return resolveEnv(cmd)
	}
	return &env{cfg: cfg}, nil
}

func (e *env) requireProject() error {
	if e.cfg.Project == "" {
		return errors.New("no project set: use --project, GPIPE_PROJECT or the project key in config.yaml")
	}
	return nil
}

func (e *env) openStore() (*core.Store, error) {
	return core.NewStore(e.cfg.Store.Path)
}

// expandZones resolves patterns against the configured reference source.
// With no patterns the config default is used; an empty result lets the
// service pick a zone.
func (e *env) expandZones(cmd *cobra.Command, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		patterns = e.cfg.Zones.Default
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	src, err := zones.NewSource(e.cfg.Zones.Source, e.http, e.cfg.API.ComputeEndpoint, e.cfg.Project)
	if err != nil {
		return nil, err
	}
	ref, err := src.Zones(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("reference zones: %w", err)
	}
	return zones.NewExpander(ref).ExpandStrict(patterns)
}

func (e *env) close() {
	e.metrics.Flush()
}

// printResult writes v in the --format chosen on the root command.
func printResult(cmd *cobra.Command, v interface{}) error {
	format, _ := cmd.Flags().GetString("format")
	return encode(cmd.OutOrStdout(), format, v)
}

func encode(w io.Writer, format string, v interface{}) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

func logStoreError(err error, name string) {
	if err != nil {
		log.Warn().Err(err).Str("operation", name).Msg("Could not update local operation history")
	}
}
