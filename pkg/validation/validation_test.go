package validation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/gatewaysetup/pkg/config"
	"github.com/openfroyo/gatewaysetup/pkg/engine"
)

const validYAML = `
required_env: [BACKEND_API_KEY]
prerequisites: [aws]
endpoints:
  - name: backend
    url: https://backend.example.com/health
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
s3:
  bucket: sre-schemas
`

func parseConfig(t *testing.T, doc string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(doc), config.FormatYAML)
	require.NoError(t, err)
	return cfg
}

func env(values map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	}
}

func failures(findings []Finding) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Severity == SeverityFail {
			out = append(out, f)
		}
	}
	return out
}

func fields(findings []Finding) []string {
	out := make([]string, len(findings))
	for i, f := range findings {
		out[i] = f.Field
	}
	return out
}

func healthyAdapter() engine.ServiceAdapter {
	return engine.ServiceAdapterFunc(func(_ context.Context, _ engine.Action) (*engine.Outcome, error) {
		return &engine.Outcome{}, nil
	})
}

func TestEnvironmentCheck_ReportsEachMissingVariable(t *testing.T) {
	check := EnvironmentCheck(
		[]string{"BACKEND_API_KEY", "COGNITO_DOMAIN", "GATEWAY_TOKEN", "BACKEND_API_KEY"},
		env(map[string]string{"COGNITO_DOMAIN": "example", "GATEWAY_TOKEN": ""}),
	)

	findings := failures(check.Run(context.Background()))
	require.Len(t, findings, 2)

	assert.Equal(t, "BACKEND_API_KEY", findings[0].Field)
	assert.Equal(t, "BACKEND_API_KEY missing", findings[0].Message)
	assert.Equal(t, "Set BACKEND_API_KEY in your .env file or environment", findings[0].Remediation)
	assert.Equal(t, "GATEWAY_TOKEN missing", findings[1].Message)
}

func TestEnvironmentCheck_AllSet(t *testing.T) {
	check := EnvironmentCheck([]string{"A", "B"}, env(map[string]string{"A": "1", "B": "2"}))

	findings := check.Run(context.Background())
	assert.Empty(t, failures(findings))
	require.Len(t, findings, 1)
	assert.Equal(t, SeverityPass, findings[0].Severity)
}

func TestConfigurationCheck(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		findings := ConfigurationCheck(parseConfig(t, validYAML)).Run(context.Background())
		assert.Empty(t, failures(findings))
	})

	t.Run("missing and malformed fields", func(t *testing.T) {
		cfg := parseConfig(t, validYAML)
		cfg.AWS.Region = ""
		cfg.AWS.EndpointURL = "not a url"
		cfg.Endpoints[0].Scheme = "ftp"

		findings := failures(ConfigurationCheck(cfg).Run(context.Background()))
		assert.ElementsMatch(t, []string{"aws.region", "aws.endpoint_url", "endpoints[0].scheme"}, fields(findings))

		for _, f := range findings {
			if f.Field == "aws.region" {
				assert.Equal(t, "aws.region is required", f.Message)
			}
			assert.NotEmpty(t, f.Remediation)
		}
	})
}

func evaluate(t *testing.T, cfg *config.Config, extra ...Policy) []Violation {
	t.Helper()
	pe, err := NewPolicyEngine(context.Background(), nil, extra...)
	require.NoError(t, err)
	violations, err := pe.Evaluate(context.Background(), cfg)
	require.NoError(t, err)
	return violations
}

func TestPolicyEngine_Builtins(t *testing.T) {
	pe, err := NewPolicyEngine(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"placeholders", "aws-format", "endpoint-scheme"}, pe.Policies())

	assert.Empty(t, evaluate(t, parseConfig(t, validYAML)))
}

func TestPolicyEngine_Placeholders(t *testing.T) {
	cfg := parseConfig(t, validYAML)
	cfg.AWS.AccountID = "YOUR_ACCOUNT_ID"
	cfg.AWS.Region = "REGION"
	cfg.Cognito.UserPoolID = "YOUR_USER_POOL_ID"
	cfg.Cognito.ClientID = "YOUR_CLIENT_ID"
	cfg.S3.Bucket = "your-bucket-name"

	violations := evaluate(t, cfg)

	got := make([]string, 0, len(violations))
	for _, v := range violations {
		assert.Equal(t, "placeholders", v.Policy, v.Message)
		assert.Equal(t, "error", v.Severity)
		got = append(got, v.Field)
	}
	// Format rules skip placeholder values, so each field is reported once.
	assert.Equal(t, []string{
		"aws.account_id",
		"aws.region",
		"cognito.client_id",
		"cognito.user_pool_id",
		"s3.bucket",
	}, got)
}

func TestPolicyEngine_Formats(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		field  string
	}{
		{"short account id", func(c *config.Config) { c.AWS.AccountID = "12345678901" }, "aws.account_id"},
		{"uppercase region", func(c *config.Config) { c.AWS.Region = "US-EAST-1" }, "aws.region"},
		{"user pool without underscore", func(c *config.Config) { c.Cognito.UserPoolID = "useast1AbCdEf" }, "cognito.user_pool_id"},
		{"plain http endpoint url", func(c *config.Config) { c.AWS.EndpointURL = "http://localhost:4566" }, "aws.endpoint_url"},
		{"plain http gateway url", func(c *config.Config) { c.Gateway.URL = "http://gateway.local/mcp" }, "gateway.url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := parseConfig(t, validYAML)
			tt.mutate(cfg)

			violations := evaluate(t, cfg)
			require.Len(t, violations, 1)
			assert.Equal(t, tt.field, violations[0].Field)
			assert.Equal(t, "error", violations[0].Severity)
			assert.NotEmpty(t, violations[0].Remediation)
		})
	}
}

func TestPolicyCheck_HTTPEndpointIsWarning(t *testing.T) {
	cfg := parseConfig(t, validYAML)
	cfg.Endpoints = append(cfg.Endpoints, config.Endpoint{Name: "local", URL: "http://localhost:8080/health", Scheme: "http"})

	pe, err := NewPolicyEngine(context.Background(), nil)
	require.NoError(t, err)

	findings := PolicyCheck(pe, cfg).Run(context.Background())
	require.Len(t, findings, 1)
	assert.Equal(t, SeverityWarn, findings[0].Severity)
	assert.Contains(t, findings[0].Message, "local")
}

func TestLoadPolicies(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "team"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "team", "naming.rego"), []byte(`package acme.naming

import rego.v1

import data.gwsetup.lib

deny contains v if {
	not startswith(input.gateway.name, "acme-")
	v := lib.violation("gateway.name", "gateway names must start with acme-", "error", "Rename the gateway")
}
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a policy"), 0o600))

	policies, err := LoadPolicies([]string{dir})
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, "naming", policies[0].Name)

	violations := evaluate(t, parseConfig(t, validYAML), policies...)
	require.Len(t, violations, 1)
	assert.Equal(t, "naming", violations[0].Policy)
	assert.Equal(t, "gateway.name", violations[0].Field)
}

func TestLoadPolicies_InvalidRego(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.rego")
	require.NoError(t, os.WriteFile(path, []byte("package broken\n\ndeny contains {"), 0o600))

	_, err := LoadPolicies([]string{path})
	require.Error(t, err)
}

func TestPrerequisitesCheck(t *testing.T) {
	lookPath := func(file string) (string, error) {
		if file == "aws" {
			return "/usr/local/bin/aws", nil
		}
		return "", fmt.Errorf("exec: %q: executable file not found in $PATH", file)
	}

	findings := PrerequisitesCheck([]string{"aws", "uv", "jq"}, lookPath).Run(context.Background())
	require.Len(t, findings, 2)
	assert.Equal(t, []string{"uv", "jq"}, fields(findings))
	assert.Equal(t, "uv not found on PATH", findings[0].Message)

	findings = PrerequisitesCheck([]string{"aws"}, lookPath).Run(context.Background())
	assert.Empty(t, failures(findings))
}

func TestProbeEndpoints_AggregatesInDeclarationOrder(t *testing.T) {
	var (
		inFlight    atomic.Int32
		maxInFlight atomic.Int32
	)

	adapter := engine.ServiceAdapterFunc(func(ctx context.Context, action engine.Action) (*engine.Outcome, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}

		switch action.Param("name") {
		case "slow":
			<-ctx.Done()
			return nil, ctx.Err()
		case "down":
			return nil, fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)
		}
		time.Sleep(5 * time.Millisecond)
		return &engine.Outcome{}, nil
	})

	endpoints := []config.Endpoint{
		{Name: "slow", URL: "https://slow.example.com", Timeout: config.Duration(50 * time.Millisecond)},
		{Name: "a", URL: "https://a.example.com"},
		{Name: "down", URL: "https://down.example.com"},
		{Name: "b", URL: "https://b.example.com"},
	}

	results := ProbeEndpoints(context.Background(), adapter, endpoints, ConnectivityOptions{
		Timeout:     time.Second,
		Concurrency: 2,
	})

	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, endpoints[i].Name, r.Endpoint.Name)
	}
	assert.False(t, results[0].Healthy)
	assert.Equal(t, engine.CodeTimeout, results[0].Error.Code)
	assert.True(t, results[1].Healthy)
	assert.False(t, results[2].Healthy)
	assert.Equal(t, engine.CategoryNetwork, results[2].Error.Category)
	assert.True(t, results[3].Healthy)

	assert.LessOrEqual(t, maxInFlight.Load(), int32(2))
}

func TestConnectivityCheck_FailsPerEndpoint(t *testing.T) {
	adapter := engine.ServiceAdapterFunc(func(_ context.Context, action engine.Action) (*engine.Outcome, error) {
		if action.Param("name") == "down" {
			return nil, fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)
		}
		return &engine.Outcome{}, nil
	})

	check := ConnectivityCheck(adapter, []config.Endpoint{
		{Name: "up", URL: "https://up.example.com"},
		{Name: "down", URL: "https://down.example.com"},
	}, ConnectivityOptions{Concurrency: 4})

	findings := failures(check.Run(context.Background()))
	require.Len(t, findings, 1)
	assert.Equal(t, "down", findings[0].Field)
	assert.Contains(t, findings[0].Message, "https://down.example.com")
	assert.NotEmpty(t, findings[0].Remediation)
}

func TestPreflight_AllChecksPass(t *testing.T) {
	cfg := parseConfig(t, validYAML)
	var probed sync.Map
	adapter := engine.ServiceAdapterFunc(func(_ context.Context, action engine.Action) (*engine.Outcome, error) {
		probed.Store(action.Param("name"), action.Kind)
		return &engine.Outcome{}, nil
	})

	v, err := Preflight(context.Background(), cfg, env(map[string]string{"BACKEND_API_KEY": "sk"}), adapter,
		WithLookPath(func(string) (string, error) { return "/bin/true", nil }))
	require.NoError(t, err)
	assert.Equal(t, []string{"environment", "configuration", "policy", "prerequisites", "certificates", "ports", "connectivity"}, v.Checks())

	res := v.Preflight(context.Background())
	assert.True(t, res.Valid, "%+v", res.Errors)
	kind, ok := probed.Load("backend")
	require.True(t, ok)
	assert.Equal(t, ProbeKind, kind)
}

func TestPreflight_AggregatesEveryCheck(t *testing.T) {
	cfg := parseConfig(t, validYAML)
	cfg.AWS.AccountID = "YOUR_ACCOUNT_ID"

	extra := NewCheck("custom", func(context.Context) []Finding {
		return []Finding{Warn("custom", "custom warning")}
	})

	v, err := Preflight(context.Background(), cfg, env(nil), healthyAdapter(),
		WithLookPath(func(f string) (string, error) { return "", errors.New("not found") }),
		WithChecks(extra))
	require.NoError(t, err)

	res := v.Preflight(context.Background())
	assert.False(t, res.Valid)

	got := make([]string, len(res.Errors))
	for i, e := range res.Errors {
		got[i] = e.Field
	}
	assert.Equal(t, []string{"BACKEND_API_KEY", "aws.account_id", "aws"}, got)
	assert.Equal(t, []string{"custom warning"}, res.Warnings)
}

func TestPreflight_BadPolicyPath(t *testing.T) {
	cfg := parseConfig(t, validYAML)
	cfg.Policies = []string{filepath.Join(t.TempDir(), "absent")}

	_, err := Preflight(context.Background(), cfg, env(nil), healthyAdapter())
	require.Error(t, err)
	assert.Equal(t, engine.CategoryConfiguration, engine.CategoryOf(err))
}

func objectAdapter(output map[string]interface{}, err error) engine.ServiceAdapter {
	return engine.ServiceAdapterFunc(func(_ context.Context, _ engine.Action) (*engine.Outcome, error) {
		if err != nil {
			return nil, err
		}
		return &engine.Outcome{Output: output}, nil
	})
}

func TestCheckCondition(t *testing.T) {
	cond := &engine.Condition{
		Action:      engine.Action{Kind: "s3.object_exists"},
		Expect:      `output["exists"] and output["size"] > 0`,
		Description: "schema object is present",
	}
	ctx := context.Background()

	t.Run("holds", func(t *testing.T) {
		e := New(objectAdapter(map[string]interface{}{"exists": true, "size": int64(120)}, nil))
		assert.Nil(t, e.CheckCondition(ctx, "upload-schema", engine.PhasePost, cond))
	})

	t.Run("postcondition not met", func(t *testing.T) {
		e := New(objectAdapter(map[string]interface{}{"exists": true, "size": int64(0)}, nil))
		rec := e.CheckCondition(ctx, "upload-schema", engine.PhasePost, cond)
		require.NotNil(t, rec)
		assert.Equal(t, engine.CategoryResource, rec.Category)
		assert.Equal(t, engine.CodeCondition, rec.Code)
		assert.Equal(t, "upload-schema.postcondition: condition not met: schema object is present", rec.Message)
		assert.NotEmpty(t, rec.Remediation)
	})

	t.Run("precondition not met", func(t *testing.T) {
		e := New(objectAdapter(map[string]interface{}{"exists": false}, nil))
		rec := e.CheckCondition(ctx, "create-gateway", engine.PhasePre, cond)
		require.NotNil(t, rec)
		assert.Equal(t, engine.CategoryConfiguration, rec.Category)
	})

	t.Run("call fails", func(t *testing.T) {
		e := New(objectAdapter(nil, fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)))
		rec := e.CheckCondition(ctx, "upload-schema", engine.PhasePost, cond)
		require.NotNil(t, rec)
		assert.Equal(t, engine.CategoryNetwork, rec.Category)
		assert.Contains(t, rec.Message, "upload-schema.postcondition: s3.object_exists check failed")
	})

	t.Run("invalid expression", func(t *testing.T) {
		e := New(objectAdapter(map[string]interface{}{}, nil))
		rec := e.CheckCondition(ctx, "upload-schema", engine.PhasePost, &engine.Condition{
			Action: engine.Action{Kind: "s3.object_exists"},
			Expect: `output[`,
		})
		require.NotNil(t, rec)
		assert.Equal(t, engine.CategoryConfiguration, rec.Category)
	})

	t.Run("empty expectation", func(t *testing.T) {
		e := New(objectAdapter(nil, nil))
		assert.Nil(t, e.CheckCondition(ctx, "s", engine.PhasePre, &engine.Condition{Action: engine.Action{Kind: "x"}}))
	})
}

func TestExprEvaluator(t *testing.T) {
	ee := NewExprEvaluator(time.Second)
	ctx := context.Background()

	output := map[string]interface{}{
		"status": "SERVING",
		"tags":   []interface{}{"a", "b"},
		"meta":   map[string]interface{}{"count": 3},
	}

	tests := []struct {
		expr string
		want bool
	}{
		{`output["status"] == "SERVING"`, true},
		{`"b" in output["tags"]`, true},
		{`output["meta"]["count"] >= 3`, true},
		{`output.get("missing") == None`, true},
		{`len(output["tags"]) == 3`, false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ee.EvalBool(ctx, tt.expr, output)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ee.EvalBool(ctx, `[x for x in range(100000000)]`, nil)
	require.Error(t, err)
}
