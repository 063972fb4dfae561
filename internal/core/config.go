package core

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/3cpo-dev/gpipe/internal/pipelines"
	"github.com/3cpo-dev/gpipe/internal/zones"
)

// Config is the gpipe configuration file.
type Config struct {
	Project string `yaml:"project"`
	API     struct {
		Endpoint          string  `yaml:"endpoint"`
		ComputeEndpoint   string  `yaml:"compute_endpoint"`
		TimeoutSeconds    int     `yaml:"timeout_seconds"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Retries           int     `yaml:"retries"`
	} `yaml:"api"`
	Zones struct {
		Source  string   `yaml:"source"`
		Default []string `yaml:"default"`
	} `yaml:"zones"`
	Poll struct {
		IntervalSeconds int `yaml:"interval_seconds"`
		TimeoutSeconds  int `yaml:"timeout_seconds"`
	} `yaml:"poll"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	ServiceAccount struct {
		Email  string   `yaml:"email"`
		Scopes []string `yaml:"scopes"`
	} `yaml:"service_account"`
	Telemetry struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"telemetry"`

	// Token is a static bearer token from secrets.env or GPIPE_TOKEN. Never
	// read from the YAML file.
	Token string `yaml:"-"`
}

// ConfigDir resolves $XDG_CONFIG_HOME/gpipe or ~/.config/gpipe.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "gpipe")
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	var cfg Config
	cfg.API.Endpoint = pipelines.DefaultEndpoint
	cfg.API.ComputeEndpoint = zones.DefaultComputeEndpoint
	cfg.API.TimeoutSeconds = 30
	cfg.API.RequestsPerSecond = 5
	cfg.API.Retries = 3
	cfg.Zones.Source = zones.SourceStatic
	cfg.Store.Path = filepath.Join(ConfigDir(), "operations.db")
	return cfg
}

// LoadConfig reads YAML configuration from a path over the defaults. If path
// is empty, it resolves $XDG_CONFIG_HOME/gpipe/config.yaml or
// ~/.config/gpipe/config.yaml, and a missing default file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = filepath.Join(ConfigDir(), "config.yaml")
	}
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("open config: %w", err)
	}

	// Merge secrets from secrets.env if present to avoid storing tokens in YAML
	secrets, _ := LoadSecretsEnv("")
	if v := os.Getenv("GPIPE_TOKEN"); v != "" {
		secrets["GPIPE_TOKEN"] = v
	}
	if t, ok := secrets["GPIPE_TOKEN"]; ok && t != "" {
		cfg.Token = t
	}
	if v := os.Getenv("GPIPE_PROJECT"); v != "" {
		cfg.Project = v
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges; the project is checked by each command.
func (c Config) Validate() error {
	var errs *multierror.Error
	if c.Zones.Source != "" && c.Zones.Source != zones.SourceStatic && c.Zones.Source != zones.SourceLive {
		errs = multierror.Append(errs, fmt.Errorf("zones.source: %q is not %s or %s", c.Zones.Source, zones.SourceStatic, zones.SourceLive))
	}
	for _, z := range c.Zones.Default {
		if err := zones.ValidatePattern(z); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("zones.default: %w", err))
		}
	}
	if c.Poll.IntervalSeconds < 0 {
		errs = multierror.Append(errs, fmt.Errorf("poll.interval_seconds: must not be negative"))
	}
	if c.Poll.TimeoutSeconds < 0 {
		errs = multierror.Append(errs, fmt.Errorf("poll.timeout_seconds: must not be negative"))
	}
	if c.API.TimeoutSeconds <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("api.timeout_seconds: must be positive"))
	}
	if c.API.Retries < 0 {
		errs = multierror.Append(errs, fmt.Errorf("api.retries: must not be negative"))
	}
	return errs.ErrorOrNil()
}
