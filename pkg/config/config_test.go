package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/gatewaysetup/pkg/engine"
)

const sampleYAML = `
run_dir: state
required_env: [BACKEND_API_KEY, COGNITO_DOMAIN]
prerequisites: [aws, uv]
endpoints:
  - name: backend
    url: https://backend.example.com/health
    timeout: 3s
  - name: agent
    url: grpc://localhost:50051
aws:
  account_id: "123456789012"
  region: us-east-1
  role_name: gateway-role
  endpoint_url: https://bedrock-agentcore-control.us-east-1.amazonaws.com
  credential_provider_endpoint_url: https://us-east-1.prod.agent-credential-provider.cognito.aws.dev
cognito:
  user_pool_id: us-east-1_AbCdEf
  client_id: abc123
gateway:
  name: sre-gateway
  credential_provider_name: sre-api-key
  schema_file: schemas/api.yaml
  credential_provider_command: [agentcore, create-api-key-provider, --name, sre-api-key]
  gateway_command: [agentcore, create-gateway, --name, sre-gateway]
  url: https://gateway.example.com/mcp
s3:
  bucket: sre-schemas
  path_prefix: /gateway/
retry:
  max_attempts: 5
  base_delay: 500ms
  jitter: 0.1
step_timeout: 2m
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(writeFile(t, dir, "gwsetup.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "state"), cfg.RunDir)
	assert.Equal(t, filepath.Join(dir, ".env"), cfg.EnvFile)
	assert.Equal(t, filepath.Join(dir, "schemas/api.yaml"), cfg.Gateway.SchemaFile)
	assert.Equal(t, []string{"BACKEND_API_KEY", "COGNITO_DOMAIN"}, cfg.RequiredEnv)
	assert.Equal(t, "123456789012", cfg.AWS.AccountID)

	require.Len(t, cfg.Endpoints, 2)
	assert.Equal(t, "https", cfg.Endpoints[0].Scheme)
	assert.Equal(t, 3*time.Second, cfg.Endpoints[0].Timeout.Std())
	assert.Equal(t, "grpc", cfg.Endpoints[1].Scheme)

	assert.Equal(t, 2*time.Minute, cfg.StepTimeout.Std())
	assert.Equal(t, DefaultProbeTimeout, cfg.ProbeTimeout.Std())
	assert.Equal(t, DefaultProbeConcurrency, cfg.ProbeConcurrency)

	policy := cfg.RetryPolicy()
	assert.Equal(t, 5, policy.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, policy.BaseDelay)
	assert.Equal(t, 2.0, policy.Multiplier)
	assert.Equal(t, time.Minute, policy.MaxDelay)
	assert.Equal(t, 0.1, policy.Jitter)
	require.NoError(t, policy.Validate())
}

func TestLoad_CertificatesAndPorts(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(writeFile(t, dir, "gwsetup.yaml", sampleYAML+`
required_ports: [8011, 8012]
certificates:
  cert_file: ssl/fullchain.pem
  key_file: /opt/ssl/privkey.pem
`))
	require.NoError(t, err)

	assert.Equal(t, []int{8011, 8012}, cfg.RequiredPorts)
	assert.Equal(t, filepath.Join(dir, "ssl/fullchain.pem"), cfg.Certificates.CertFile)
	assert.Equal(t, "/opt/ssl/privkey.pem", cfg.Certificates.KeyFile)
}

func TestLoad_TOML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "gwsetup.toml", `
run_dir = "/var/lib/gwsetup"
step_timeout = "45s"

[aws]
account_id = "123456789012"
region = "eu-west-1"

[s3]
bucket = "schemas"

[retry]
base_delay = "2s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/gwsetup", cfg.RunDir)
	assert.Equal(t, 45*time.Second, cfg.StepTimeout.Std())
	assert.Equal(t, "eu-west-1", cfg.AWS.Region)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay.Std())
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "absent.yaml")},
		{"unknown key", writeFile(t, dir, "unknown.yaml", "bogus_key: 1\n")},
		{"bad duration", writeFile(t, dir, "duration.yaml", "step_timeout: soon\n")},
		{"negative duration", writeFile(t, dir, "negative.yaml", "step_timeout: -5s\n")},
		{"toml unknown key", writeFile(t, dir, "unknown.toml", "bogus = 1\n")},
		{"malformed yaml", writeFile(t, dir, "broken.yaml", "aws: [unclosed\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			require.Error(t, err)
			assert.Equal(t, engine.CategoryConfiguration, engine.CategoryOf(err))
		})
	}
}

func TestParse_EmptyDocumentGetsDefaults(t *testing.T) {
	cfg, err := Parse(nil, FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, DefaultRunDir, cfg.RunDir)
	assert.Equal(t, DefaultStepTimeout, cfg.StepTimeout.Std())
	assert.Equal(t, engine.DefaultRetryPolicy(), cfg.RetryPolicy())
}

func TestDuration_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		D Duration `json:"d"`
	}{Duration(90 * time.Second)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"1m30s"}`, string(data))
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, ".env", `# gateway secrets
BACKEND_API_KEY=sk-abc#123
COGNITO_DOMAIN="https://example.auth.us-east-1.amazoncognito.com"
EMPTY=
`)

	values, err := LoadDotEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-abc#123", values["BACKEND_API_KEY"])
	assert.Equal(t, "https://example.auth.us-east-1.amazoncognito.com", values["COGNITO_DOMAIN"])
	v, ok := values["EMPTY"]
	assert.True(t, ok)
	assert.Empty(t, v)

	missing, err := LoadDotEnv(filepath.Join(dir, "none.env"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestEnvironment_OverlayWins(t *testing.T) {
	t.Setenv("GWSETUP_TEST_VAR", "from-os")
	t.Setenv("GWSETUP_TEST_OTHER", "os-only")

	lookup := Environment(map[string]string{"GWSETUP_TEST_VAR": "from-dotenv"})

	v, ok := lookup("GWSETUP_TEST_VAR")
	assert.True(t, ok)
	assert.Equal(t, "from-dotenv", v)

	v, ok = lookup("GWSETUP_TEST_OTHER")
	assert.True(t, ok)
	assert.Equal(t, "os-only", v)

	_, ok = lookup("GWSETUP_TEST_ABSENT")
	assert.False(t, ok)
}

func TestPipeline_Default(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(writeFile(t, dir, "gwsetup.yaml", sampleYAML))
	require.NoError(t, err)

	steps := cfg.Pipeline()
	ordered, err := engine.NewDAGBuilder().Build(steps)
	require.NoError(t, err)

	ids := make([]string, len(ordered))
	for i, s := range ordered {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{
		StepValidateCredentials,
		StepCreateBucket,
		StepCreateCredentialProvider,
		StepUploadSchema,
		StepCreateGateway,
		StepVerifyGateway,
	}, ids)

	upload := steps[2]
	assert.Equal(t, "s3.put_object", upload.Action.Kind)
	assert.Equal(t, "gateway/api.yaml", upload.Action.Param("key"))
	require.NotNil(t, upload.Postcondition)

	var gw engine.Step
	for _, s := range steps {
		if s.ID == StepCreateGateway {
			gw = s
		}
	}
	assert.Equal(t, "shell.exec", gw.Action.Kind)
	assert.Equal(t, "agentcore", gw.Action.Param("command"))
	assert.JSONEq(t, `["create-gateway","--name","sre-gateway"]`, gw.Action.Param("args"))
	assert.ElementsMatch(t, []string{StepValidateCredentials, StepUploadSchema, StepCreateCredentialProvider}, gw.DependsOn)
}

func TestPipeline_MinimalConfig(t *testing.T) {
	cfg, err := Parse([]byte("s3:\n  bucket: b\n"), FormatYAML)
	require.NoError(t, err)

	steps := cfg.Pipeline()
	require.Len(t, steps, 2)
	assert.Equal(t, StepValidateCredentials, steps[0].ID)
	assert.Equal(t, StepCreateBucket, steps[1].ID)
}

func TestPipeline_DeclaredStepsWin(t *testing.T) {
	cfg, err := Parse([]byte(`
steps:
  - id: only
    action:
      kind: shell.exec
      params:
        command: "true"
`), FormatYAML)
	require.NoError(t, err)

	steps := cfg.Pipeline()
	require.Len(t, steps, 1)
	assert.Equal(t, "only", steps[0].ID)
	assert.Equal(t, "true", steps[0].Action.Param("command"))
}

func TestTelemetryConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
telemetry:
  log_level: warn
  log_format: json
  metrics_file: /tmp/gwsetup.prom
  tracing:
    exporter: stdout
`), FormatYAML)
	require.NoError(t, err)

	tc := cfg.TelemetryConfig("1.2.3", false)
	assert.Equal(t, "warn", tc.Logging.Level)
	assert.Equal(t, "json", tc.Logging.Format)
	assert.True(t, tc.Metrics.Enabled)
	assert.Equal(t, "/tmp/gwsetup.prom", tc.Metrics.TextfilePath)
	assert.Equal(t, "stdout", tc.Tracing.Exporter)
	assert.Equal(t, "1.2.3", tc.ServiceVersion)

	assert.Equal(t, "debug", cfg.TelemetryConfig("1.2.3", true).Logging.Level)
}
