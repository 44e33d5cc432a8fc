// Package shell runs local commands for shell.exec actions, typically the
// vendor CLI that creates the credential provider and the gateway.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/openfroyo/gatewaysetup/pkg/engine"
	"github.com/openfroyo/gatewaysetup/pkg/telemetry"
)

// KindExec is the action kind served by the adapter.
const KindExec = "shell.exec"

// LookupFunc resolves ${NAME} references in commands and arguments.
type LookupFunc func(name string) (string, bool)

// CommandError is returned when a command exits non-zero. Its message
// carries stderr so the classifier can read service error codes from it.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Command, e.ExitCode, stderr)
}

// Options configure the adapter.
type Options struct {
	// Lookup expands ${NAME} in the command, args and env values. Names it
	// cannot resolve, and bare $NAME references, are left for the shell.
	Lookup LookupFunc

	// Env is overlaid on the process environment for every command.
	Env map[string]string

	// Dir is the default working directory.
	Dir string

	// Shell runs commands given without args. Defaults to /bin/sh.
	Shell string
}

// Adapter executes commands with exec.CommandContext.
type Adapter struct {
	opts Options
}

// New creates a shell adapter.
func New(opts Options) *Adapter {
	if opts.Shell == "" {
		opts.Shell = "/bin/sh"
	}
	return &Adapter{opts: opts}
}

// Invoke implements engine.ServiceAdapter.
//
// Params: command (required), args (JSON array), env (JSON object), dir.
// With no args the command is run through the shell.
func (a *Adapter) Invoke(ctx context.Context, action engine.Action) (*engine.Outcome, error) {
	if action.Kind != KindExec {
		return nil, engine.NewConfigurationError(fmt.Sprintf("unsupported shell action %q", action.Kind), nil).
			WithOperation(action.Kind)
	}

	command := a.expand(action.Param("command"))
	if command == "" {
		return nil, engine.NewConfigurationError("shell.exec: missing parameter command", nil).
			WithOperation(action.Kind).
			WithRemediation("Set the command for this step in the configuration file")
	}

	var args []string
	if raw := action.Param("args"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, engine.NewConfigurationError("shell.exec: args must be a JSON array of strings", err).
				WithOperation(action.Kind)
		}
	}
	for i := range args {
		args[i] = a.expand(args[i])
	}

	env := make(map[string]string, len(a.opts.Env))
	for k, v := range a.opts.Env {
		env[k] = a.expand(v)
	}
	if raw := action.Param("env"); raw != "" {
		var extra map[string]string
		if err := json.Unmarshal([]byte(raw), &extra); err != nil {
			return nil, engine.NewConfigurationError("shell.exec: env must be a JSON object of strings", err).
				WithOperation(action.Kind)
		}
		for k, v := range extra {
			env[k] = a.expand(v)
		}
	}

	var cmd *exec.Cmd
	if len(args) > 0 {
		cmd = exec.CommandContext(ctx, command, args...)
	} else {
		cmd = exec.CommandContext(ctx, a.opts.Shell, "-c", command)
	}

	cmd.Dir = a.opts.Dir
	if dir := action.Param("dir"); dir != "" {
		cmd.Dir = a.expand(dir)
	}
	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger := telemetry.FromContext(ctx).NewComponentLogger("shell").WithField("command", command)
	logger.Debug("running command")

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)
	logger.WithField("exit_code", cmd.ProcessState.ExitCode()).Debugf("command finished in %s", duration)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", command, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &CommandError{Command: command, ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, engine.NewConfigurationError(fmt.Sprintf("command %s not found", command), err).
				WithOperation(action.Kind).
				WithRemediation("Install " + command + " and make sure it is on your PATH")
		}
		return nil, fmt.Errorf("failed to execute %s: %w", command, err)
	}

	output := map[string]interface{}{
		"stdout":      stdout.String(),
		"stderr":      stderr.String(),
		"exit_code":   0,
		"duration_ms": duration.Milliseconds(),
	}
	var parsed interface{}
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &parsed); err == nil {
		output["json"] = parsed
	}

	return &engine.Outcome{Output: output}, nil
}

var reference = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func (a *Adapter) expand(s string) string {
	if a.opts.Lookup == nil || !strings.Contains(s, "${") {
		return s
	}
	return reference.ReplaceAllStringFunc(s, func(ref string) string {
		if v, ok := a.opts.Lookup(ref[2 : len(ref)-1]); ok {
			return v
		}
		return ref
	})
}
