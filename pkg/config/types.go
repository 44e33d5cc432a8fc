package config

import (
	"github.com/openfroyo/gatewaysetup/pkg/engine"
)

// Config is the typed form of the setup configuration file.
type Config struct {
	// RunDir holds state.yaml, the lock file and the attempt journal.
	RunDir string `yaml:"run_dir" toml:"run_dir" json:"run_dir" validate:"required"`

	// EnvFile is the .env file overlaid on the process environment.
	EnvFile string `yaml:"env_file,omitempty" toml:"env_file,omitempty" json:"env_file,omitempty"`

	// RequiredEnv lists variables that must be set and non-empty.
	RequiredEnv []string `yaml:"required_env,omitempty" toml:"required_env,omitempty" json:"required_env,omitempty" validate:"dive,required"`

	// Prerequisites lists executables that must be on PATH.
	Prerequisites []string `yaml:"prerequisites,omitempty" toml:"prerequisites,omitempty" json:"prerequisites,omitempty" validate:"dive,required"`

	Endpoints []Endpoint `yaml:"endpoints,omitempty" toml:"endpoints,omitempty" json:"endpoints,omitempty" validate:"dive"`

	// RequiredPorts are local TCP ports the gateway services listen on.
	RequiredPorts []int `yaml:"required_ports,omitempty" toml:"required_ports,omitempty" json:"required_ports,omitempty" validate:"dive,min=1,max=65535"`

	Certificates CertificatesConfig `yaml:"certificates" toml:"certificates" json:"certificates"`

	AWS     AWSConfig     `yaml:"aws" toml:"aws" json:"aws"`
	Cognito CognitoConfig `yaml:"cognito" toml:"cognito" json:"cognito"`
	Gateway GatewayConfig `yaml:"gateway" toml:"gateway" json:"gateway"`
	S3      S3Config      `yaml:"s3" toml:"s3" json:"s3"`

	Retry RetryConfig `yaml:"retry" toml:"retry" json:"retry"`

	StepTimeout      Duration `yaml:"step_timeout,omitempty" toml:"step_timeout,omitempty" json:"step_timeout,omitempty"`
	ProbeTimeout     Duration `yaml:"probe_timeout,omitempty" toml:"probe_timeout,omitempty" json:"probe_timeout,omitempty"`
	ProbeConcurrency int      `yaml:"probe_concurrency,omitempty" toml:"probe_concurrency,omitempty" json:"probe_concurrency,omitempty" validate:"gte=0"`

	// Policies are extra rego files or directories evaluated during pre-flight.
	Policies []string `yaml:"policies,omitempty" toml:"policies,omitempty" json:"policies,omitempty"`

	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry" json:"telemetry"`

	// Steps override the default gateway pipeline when non-empty.
	Steps []engine.Step `yaml:"steps,omitempty" toml:"steps,omitempty" json:"steps,omitempty" validate:"dive"`

	// path is the file the configuration was loaded from.
	path string
}

// Endpoint is a service probed during pre-flight.
type Endpoint struct {
	Name    string   `yaml:"name" toml:"name" json:"name" validate:"required"`
	URL     string   `yaml:"url" toml:"url" json:"url" validate:"required"`
	Scheme  string   `yaml:"scheme,omitempty" toml:"scheme,omitempty" json:"scheme,omitempty" validate:"omitempty,oneof=http https grpc"`
	Timeout Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty" json:"timeout,omitempty"`
}

// CertificatesConfig locates the TLS material served by the local
// gateway services.
type CertificatesConfig struct {
	CertFile string `yaml:"cert_file,omitempty" toml:"cert_file,omitempty" json:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty" toml:"key_file,omitempty" json:"key_file,omitempty"`
}

// AWSConfig identifies the account and service endpoints.
type AWSConfig struct {
	AccountID                     string `yaml:"account_id" toml:"account_id" json:"account_id" validate:"required"`
	Region                        string `yaml:"region" toml:"region" json:"region" validate:"required"`
	RoleName                      string `yaml:"role_name" toml:"role_name" json:"role_name" validate:"required"`
	EndpointURL                   string `yaml:"endpoint_url" toml:"endpoint_url" json:"endpoint_url" validate:"required,url"`
	CredentialProviderEndpointURL string `yaml:"credential_provider_endpoint_url" toml:"credential_provider_endpoint_url" json:"credential_provider_endpoint_url" validate:"required,url"`

	// Profile selects a shared-config profile; empty uses the default chain.
	Profile string `yaml:"profile,omitempty" toml:"profile,omitempty" json:"profile,omitempty"`

	// S3Endpoint overrides the S3 endpoint, for S3-compatible stores.
	S3Endpoint string `yaml:"s3_endpoint,omitempty" toml:"s3_endpoint,omitempty" json:"s3_endpoint,omitempty" validate:"omitempty,url"`
}

// CognitoConfig identifies the user pool fronting the gateway.
type CognitoConfig struct {
	UserPoolID string `yaml:"user_pool_id" toml:"user_pool_id" json:"user_pool_id" validate:"required"`
	ClientID   string `yaml:"client_id" toml:"client_id" json:"client_id" validate:"required"`
}

// GatewayConfig describes the gateway and the commands that create it.
type GatewayConfig struct {
	Name                   string `yaml:"name" toml:"name" json:"name" validate:"required"`
	Description            string `yaml:"description,omitempty" toml:"description,omitempty" json:"description,omitempty"`
	CredentialProviderName string `yaml:"credential_provider_name" toml:"credential_provider_name" json:"credential_provider_name" validate:"required"`

	// SchemaFile is the API schema uploaded to S3.
	SchemaFile string `yaml:"schema_file,omitempty" toml:"schema_file,omitempty" json:"schema_file,omitempty"`

	// CredentialProviderCommand and GatewayCommand are argv lists run by
	// the shell adapter.
	CredentialProviderCommand []string `yaml:"credential_provider_command,omitempty" toml:"credential_provider_command,omitempty" json:"credential_provider_command,omitempty"`
	GatewayCommand            []string `yaml:"gateway_command,omitempty" toml:"gateway_command,omitempty" json:"gateway_command,omitempty"`

	// URL is probed after creation when set.
	URL string `yaml:"url,omitempty" toml:"url,omitempty" json:"url,omitempty" validate:"omitempty,url"`
}

// S3Config locates the schema bucket.
type S3Config struct {
	Bucket     string `yaml:"bucket" toml:"bucket" json:"bucket" validate:"required"`
	PathPrefix string `yaml:"path_prefix,omitempty" toml:"path_prefix,omitempty" json:"path_prefix,omitempty"`
}

// RetryConfig mirrors engine.RetryPolicy with file-friendly durations.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts,omitempty" toml:"max_attempts,omitempty" json:"max_attempts,omitempty" validate:"gte=0"`
	BaseDelay   Duration `yaml:"base_delay,omitempty" toml:"base_delay,omitempty" json:"base_delay,omitempty"`
	Multiplier  float64  `yaml:"multiplier,omitempty" toml:"multiplier,omitempty" json:"multiplier,omitempty" validate:"omitempty,gte=1"`
	MaxDelay    Duration `yaml:"max_delay,omitempty" toml:"max_delay,omitempty" json:"max_delay,omitempty"`
	Jitter      float64  `yaml:"jitter,omitempty" toml:"jitter,omitempty" json:"jitter,omitempty" validate:"gte=0,lte=1"`
}

// TelemetryConfig selects log output, metrics and tracing.
type TelemetryConfig struct {
	LogLevel    string        `yaml:"log_level,omitempty" toml:"log_level,omitempty" json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	LogFormat   string        `yaml:"log_format,omitempty" toml:"log_format,omitempty" json:"log_format,omitempty" validate:"omitempty,oneof=auto console json"`
	MetricsFile string        `yaml:"metrics_file,omitempty" toml:"metrics_file,omitempty" json:"metrics_file,omitempty"`
	Tracing     TracingConfig `yaml:"tracing" toml:"tracing" json:"tracing"`
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	Exporter string `yaml:"exporter,omitempty" toml:"exporter,omitempty" json:"exporter,omitempty" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint string `yaml:"endpoint,omitempty" toml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}
