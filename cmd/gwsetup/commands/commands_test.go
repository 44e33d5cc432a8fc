package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/gatewaysetup/pkg/config"
	"github.com/openfroyo/gatewaysetup/pkg/engine"
	"github.com/openfroyo/gatewaysetup/pkg/providers/fake"
	"github.com/openfroyo/gatewaysetup/pkg/stores"
)

const testConfig = `
run_dir: state
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
retry:
  max_attempts: 2
  base_delay: 1ms
  max_delay: 2ms
`

type harness struct {
	dir     string
	config  string
	adapter *fake.Adapter
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
}

func newHarness(t *testing.T, extra string) *harness {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gwsetup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig+extra), 0o600))

	adapter := fake.New().Default("s3.bucket_exists", map[string]interface{}{"exists": true})
	return &harness{dir: dir, config: path, adapter: adapter, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
}

func (h *harness) run(args ...string) error {
	h.stdout.Reset()
	h.stderr.Reset()

	app := &App{
		Version:   "1.2.3",
		Commit:    "abc1234",
		BuildDate: "2026-10-01",
		Stdout:    h.stdout,
		Stderr:    h.stderr,
		Adapters: func(context.Context, *config.Config, func(string) (string, bool)) (engine.ServiceAdapter, error) {
			return h.adapter, nil
		},
	}

	root := newRootCommand(app)
	root.SetArgs(append(args, "--config", h.config))
	return root.ExecuteContext(context.Background())
}

func (h *harness) runDir() string {
	return filepath.Join(h.dir, "state")
}

func TestRun_Success(t *testing.T) {
	h := newHarness(t, "")

	require.NoError(t, h.run("run"))
	assert.Contains(t, h.stdout.String(), "SUCCESS")
	assert.Contains(t, h.stdout.String(), config.StepCreateBucket)
	assert.Equal(t, []string{"aws.credentials", "s3.create_bucket", "s3.bucket_exists"}, h.adapter.Kinds())

	_, err := os.Stat(filepath.Join(h.runDir(), stores.StateFile))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(h.runDir(), stores.JournalFile))
	assert.NoError(t, err)
}

func TestRun_JSONReport(t *testing.T) {
	h := newHarness(t, "")

	require.NoError(t, h.run("run", "--json"))

	var report engine.VerificationReport
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &report))
	assert.Equal(t, engine.ReportSuccess, report.Status)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Succeeded)
}

func TestRun_PreflightFailure(t *testing.T) {
	h := newHarness(t, "required_env: [GWSETUP_TEST_UNSET_VARIABLE]\n")

	err := h.run("run")
	require.Error(t, err)
	assert.Equal(t, ExitInvalid, ExitCode(err))
	assert.ErrorIs(t, err, engine.ErrPreflightFailed)
	assert.Contains(t, h.stdout.String(), "GWSETUP_TEST_UNSET_VARIABLE missing")
	assert.Empty(t, h.adapter.Calls(), "no step runs after a failed pre-flight")
}

func TestRun_ValidateOnly(t *testing.T) {
	h := newHarness(t, "")

	require.NoError(t, h.run("run", "--validate-only"))
	assert.Empty(t, h.adapter.Calls())
}

func TestRun_ValidateOnlyMissingVariable(t *testing.T) {
	t.Setenv("BACKEND_API_KEY", "")
	h := newHarness(t, "required_env: [BACKEND_API_KEY]\n")

	err := h.run("run", "--validate-only", "--json")
	require.Error(t, err)
	assert.Equal(t, ExitInvalid, ExitCode(err))
	assert.Empty(t, h.adapter.Calls())

	var report engine.VerificationReport
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &report))
	assert.Equal(t, engine.ReportFailed, report.Status)
	require.Len(t, report.PreflightErrors, 1)
	assert.Equal(t, "BACKEND_API_KEY missing", report.PreflightErrors[0].Message)
	assert.Equal(t, "BACKEND_API_KEY", report.PreflightErrors[0].Field)
	assert.Zero(t, report.Total)
}

func TestRun_FailureThenResume(t *testing.T) {
	h := newHarness(t, "")
	h.adapter.Script("s3.create_bucket", fake.Response{
		Err: errors.New("An error occurred (AccessDenied) when calling the CreateBucket operation: Access Denied"),
	})

	err := h.run("run")
	require.Error(t, err)
	assert.Equal(t, ExitStepsFailed, ExitCode(err))
	assert.Contains(t, h.stdout.String(), "permission")
	assert.Equal(t, 1, h.adapter.Count("s3.create_bucket"), "permission errors are not retried")

	require.NoError(t, h.run("status", "--json"))
	var view statusView
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &view))
	require.Len(t, view.Steps, 2)
	assert.Equal(t, engine.StepSucceeded, view.Steps[0].Status)
	assert.Equal(t, engine.StepFailed, view.Steps[1].Status)
	require.NotNil(t, view.Steps[1].Error)
	assert.Equal(t, engine.CategoryPermission, view.Steps[1].Error.Category)

	require.NoError(t, h.run("run", "--resume"))
	assert.Equal(t, 1, h.adapter.Count("aws.credentials"), "succeeded steps are skipped on resume")
	assert.Equal(t, 2, h.adapter.Count("s3.create_bucket"))
}

func TestRun_ProgressLines(t *testing.T) {
	h := newHarness(t, "")
	h.adapter.Script("s3.create_bucket", fake.Response{Err: errors.New("dial tcp 52.216.0.1:443: connection refused")})

	require.NoError(t, h.run("run"))
	assert.Contains(t, h.stderr.String(), "attempt 1/2 failed (network): retrying in")
	assert.NotContains(t, h.stderr.String(), "pending -> running")

	require.NoError(t, h.run("run", "--debug"))
	assert.Contains(t, h.stderr.String(), config.StepCreateBucket+"  pending -> running (attempt 1)")
}

func TestStatus_History(t *testing.T) {
	h := newHarness(t, "")

	require.NoError(t, h.run("status", "--history"))
	assert.Contains(t, h.stdout.String(), "pending")
	assert.Contains(t, h.stdout.String(), "no events recorded")

	require.NoError(t, h.run("run"))
	require.NoError(t, h.run("status", "--history", "--json"))

	var view statusView
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &view))
	require.NotEmpty(t, view.History)

	var transitions []string
	for _, e := range view.History {
		if e.StepID == config.StepCreateBucket {
			transitions = append(transitions, e.From+"->"+e.To)
		}
	}
	assert.Equal(t, []string{"pending->running", "running->succeeded"}, transitions)
}

func TestStatus_Graph(t *testing.T) {
	h := newHarness(t, "")

	require.NoError(t, h.run("status", "--graph"))
	out := h.stdout.String()
	assert.Contains(t, out, "digraph Setup {")
	assert.Contains(t, out, fmt.Sprintf("%q -> %q;", config.StepValidateCredentials, config.StepCreateBucket))

	_, err := os.Stat(h.runDir())
	assert.True(t, os.IsNotExist(err), "printing the graph does not touch the run directory")
}

func TestReset(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.run("run"))

	require.NoError(t, h.run("reset"))
	assert.Contains(t, h.stdout.String(), "cleared")

	states, err := stores.NewFileStore(h.runDir()).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestLockHeld(t *testing.T) {
	h := newHarness(t, "")

	holder := stores.NewFileStore(h.runDir())
	require.NoError(t, holder.Lock(context.Background()))
	defer holder.Unlock()

	err := h.run("run")
	require.Error(t, err)
	assert.Equal(t, ExitInvalid, ExitCode(err))
	assert.ErrorIs(t, err, engine.ErrSetupInProgress)
	assert.Empty(t, h.adapter.Calls())

	err = h.run("reset")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrSetupInProgress)
}

func TestMissingConfig(t *testing.T) {
	h := newHarness(t, "")
	h.config = filepath.Join(h.dir, "absent.yaml")

	err := h.run("run")
	require.Error(t, err)
	assert.Equal(t, ExitInvalid, ExitCode(err))
	assert.Equal(t, engine.CategoryConfiguration, engine.CategoryOf(err))
}

func TestVersion(t *testing.T) {
	h := newHarness(t, "")

	require.NoError(t, h.run("version"))
	assert.Equal(t, "gwsetup 1.2.3\ncommit: abc1234\nbuilt: 2026-10-01\n", h.stdout.String())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitInvalid, ExitCode(errors.New("unknown flag")))
	assert.Equal(t, ExitStepsFailed, ExitCode(exitWith(ExitStepsFailed, errors.New("failed"))))
	assert.Nil(t, exitWith(ExitStepsFailed, nil))
}

func TestRunExit(t *testing.T) {
	assert.NoError(t, runExit(&engine.SetupResult{Success: true}, nil))
	assert.Equal(t, ExitStepsFailed, ExitCode(runExit(&engine.SetupResult{Failed: 1}, nil)))
	assert.Equal(t, ExitStepsFailed, ExitCode(runExit(&engine.SetupResult{}, context.Canceled)))
	assert.Equal(t, ExitInvalid, ExitCode(runExit(nil, engine.ErrCycleDetected)))
	assert.Equal(t, ExitInvalid, ExitCode(runExit(&engine.SetupResult{}, engine.ErrPreflightFailed)))
}
