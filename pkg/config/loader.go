package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/gatewaysetup/pkg/engine"
	"github.com/openfroyo/gatewaysetup/pkg/telemetry"
)

// DefaultPath is the configuration file used when none is given.
const DefaultPath = "gwsetup.yaml"

// Defaults applied to unset fields.
const (
	DefaultRunDir           = ".gwsetup"
	DefaultEnvFile          = ".env"
	DefaultStepTimeout      = 5 * time.Minute
	DefaultProbeTimeout     = 10 * time.Second
	DefaultProbeConcurrency = 4
)

// Load reads a YAML or TOML configuration file, applies defaults and
// resolves relative paths against the file's directory. Unknown keys and
// malformed values are Configuration errors.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		remedy := "Pass --config with the path to your configuration file"
		if errors.Is(err, os.ErrNotExist) {
			remedy = fmt.Sprintf("Create %s or pass --config with the path to your configuration file", path)
		}
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to read config %s", path), err).
			WithRemediation(remedy)
	}

	cfg, err := Parse(data, formatFor(path))
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to parse config %s", path), err).
			WithRemediation("Fix the syntax error or unknown key named in the message")
	}

	cfg.path = path
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// Format names a configuration syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes a configuration document and applies defaults.
func Parse(data []byte, format Format) (*Config, error) {
	cfg := &Config{}

	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, errors.New(strict.String())
			}
			return nil, err
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RunDir == "" {
		c.RunDir = DefaultRunDir
	}
	if c.EnvFile == "" {
		c.EnvFile = DefaultEnvFile
	}
	if c.StepTimeout == 0 {
		c.StepTimeout = Duration(DefaultStepTimeout)
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = Duration(DefaultProbeTimeout)
	}
	if c.ProbeConcurrency == 0 {
		c.ProbeConcurrency = DefaultProbeConcurrency
	}

	def := engine.DefaultRetryPolicy()
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = def.MaxAttempts
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = Duration(def.BaseDelay)
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = def.Multiplier
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = Duration(def.MaxDelay)
	}

	for i := range c.Endpoints {
		if c.Endpoints[i].Scheme == "" {
			c.Endpoints[i].Scheme = schemeOf(c.Endpoints[i].URL)
		}
	}
}

func schemeOf(rawURL string) string {
	switch {
	case strings.HasPrefix(rawURL, "http://"):
		return "http"
	case strings.HasPrefix(rawURL, "grpc://"):
		return "grpc"
	default:
		return "https"
	}
}

func (c *Config) resolvePaths(base string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	c.RunDir = resolve(c.RunDir)
	c.EnvFile = resolve(c.EnvFile)
	c.Gateway.SchemaFile = resolve(c.Gateway.SchemaFile)
	c.Certificates.CertFile = resolve(c.Certificates.CertFile)
	c.Certificates.KeyFile = resolve(c.Certificates.KeyFile)
	c.Telemetry.MetricsFile = resolve(c.Telemetry.MetricsFile)
	for i, p := range c.Policies {
		c.Policies[i] = resolve(p)
	}
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() engine.RetryPolicy {
	return engine.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay.Std(),
		Multiplier:  c.Retry.Multiplier,
		MaxDelay:    c.Retry.MaxDelay.Std(),
		Jitter:      c.Retry.Jitter,
	}
}

// TelemetryConfig builds the telemetry configuration. debug forces the
// debug log level.
func (c *Config) TelemetryConfig(version string, debug bool) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version

	if c.Telemetry.LogLevel != "" {
		tc.Logging.Level = c.Telemetry.LogLevel
	}
	if debug {
		tc.Logging.Level = "debug"
		tc.Logging.EnableCaller = true
	}
	if c.Telemetry.LogFormat != "" {
		tc.Logging.Format = c.Telemetry.LogFormat
	}
	if c.Telemetry.MetricsFile != "" {
		tc.Metrics.Enabled = true
		tc.Metrics.TextfilePath = c.Telemetry.MetricsFile
	}
	if c.Telemetry.Tracing.Exporter != "" {
		tc.Tracing.Exporter = c.Telemetry.Tracing.Exporter
		tc.Tracing.Endpoint = c.Telemetry.Tracing.Endpoint
	}
	return tc
}
