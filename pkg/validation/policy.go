package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/openfroyo/gatewaysetup/pkg/config"
	"github.com/openfroyo/gatewaysetup/pkg/telemetry"
)

// Policy is a named Rego module producing a `deny` set of violations.
type Policy struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Rego        string `json:"rego"`
}

// Violation is one element of a policy's deny set.
type Violation struct {
	Policy      string `json:"policy"`
	Field       string `json:"field,omitempty"`
	Message     string `json:"message"`
	Severity    string `json:"severity"`
	Remediation string `json:"remediation,omitempty"`
}

const (
	violationError   = "error"
	violationWarning = "warning"
)

type preparedPolicy struct {
	policy Policy
	query  rego.PreparedEvalQuery
}

// PolicyEngine evaluates compiled policies against the configuration.
type PolicyEngine struct {
	policies []preparedPolicy
	logger   *telemetry.Logger
}

// NewPolicyEngine compiles the built-in policies plus any extra ones.
func NewPolicyEngine(ctx context.Context, logger *telemetry.Logger, extra ...Policy) (*PolicyEngine, error) {
	if logger == nil {
		logger = telemetry.Nop().Logger
	}
	pe := &PolicyEngine{logger: logger.NewComponentLogger("policy")}

	all := append(BuiltinPolicies(), extra...)
	for _, p := range all {
		prepared, err := prepare(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		pe.policies = append(pe.policies, prepared)
	}

	pe.logger.WithField("count", len(pe.policies)).Debug("policies compiled")
	return pe, nil
}

func prepare(ctx context.Context, p Policy) (preparedPolicy, error) {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return preparedPolicy{}, fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.Query(module.Package.Path.String()+".deny"),
		rego.Module("gwsetup/lib.rego", libModule),
		rego.Module(p.Name, p.Rego),
	).PrepareForEval(ctx)
	if err != nil {
		return preparedPolicy{}, fmt.Errorf("failed to prepare query: %w", err)
	}

	return preparedPolicy{policy: p, query: query}, nil
}

// Policies returns the names of the compiled policies.
func (pe *PolicyEngine) Policies() []string {
	names := make([]string, len(pe.policies))
	for i, p := range pe.policies {
		names[i] = p.policy.Name
	}
	return names
}

// Evaluate runs every policy over the configuration document and returns
// the violations sorted by field. A policy that fails to evaluate is
// reported as a warning violation rather than aborting the others.
func (pe *PolicyEngine) Evaluate(ctx context.Context, cfg *config.Config) ([]Violation, error) {
	input, err := toInput(cfg)
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, pp := range pe.policies {
		rs, err := pp.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			pe.logger.WithError(err).WithField("policy", pp.policy.Name).Error("policy evaluation failed")
			violations = append(violations, Violation{
				Policy:   pp.policy.Name,
				Message:  fmt.Sprintf("policy %s evaluation failed: %v", pp.policy.Name, err),
				Severity: violationWarning,
			})
			continue
		}

		for _, result := range rs {
			for _, expr := range result.Expressions {
				set, ok := expr.Value.([]interface{})
				if !ok {
					continue
				}
				for _, d := range set {
					violations = append(violations, newViolation(pp.policy.Name, d))
				}
			}
		}
	}

	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Field != violations[j].Field {
			return violations[i].Field < violations[j].Field
		}
		return violations[i].Message < violations[j].Message
	})
	return violations, nil
}

func newViolation(policy string, result interface{}) Violation {
	v := Violation{Policy: policy, Severity: violationError}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if s, ok := r["message"].(string); ok {
			v.Message = s
		}
		if s, ok := r["field"].(string); ok {
			v.Field = s
		}
		if s, ok := r["severity"].(string); ok && s != "" {
			v.Severity = s
		}
		if s, ok := r["remediation"].(string); ok {
			v.Remediation = s
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

// toInput converts the configuration into the JSON document seen by rego.
func toInput(cfg *config.Config) (map[string]interface{}, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy input: %w", err)
	}
	var input map[string]interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("failed to decode policy input: %w", err)
	}
	return input, nil
}

// LoadPolicies reads .rego files from the given files and directories.
// Directories are walked recursively.
func LoadPolicies(paths []string) ([]Policy, error) {
	var policies []Policy

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("failed to stat policy path: %w", err)
		}
		if !info.IsDir() {
			p, err := loadPolicyFile(root)
			if err != nil {
				return nil, err
			}
			policies = append(policies, p)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".rego") {
				return nil
			}
			p, err := loadPolicyFile(path)
			if err != nil {
				return err
			}
			policies = append(policies, p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load policies from %s: %w", root, err)
		}
	}

	return policies, nil
}

func loadPolicyFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	if _, err := ast.ParseModule(path, string(data)); err != nil {
		return Policy{}, fmt.Errorf("invalid policy %s: %w", path, err)
	}
	return Policy{
		Name: strings.TrimSuffix(filepath.Base(path), ".rego"),
		Rego: string(data),
	}, nil
}

// PolicyCheck reports error violations as failures and the rest as warnings.
func PolicyCheck(pe *PolicyEngine, cfg *config.Config) Check {
	return NewCheck("policy", func(ctx context.Context) []Finding {
		violations, err := pe.Evaluate(ctx, cfg)
		if err != nil {
			return []Finding{Fail("policy", "config", err.Error(), "Check the configuration file for values that cannot be encoded")}
		}

		findings := make([]Finding, 0, len(violations))
		for _, v := range violations {
			if v.Severity == violationError || v.Severity == "critical" {
				field := v.Field
				if field == "" {
					field = v.Policy
				}
				findings = append(findings, Fail("policy", field, v.Message, v.Remediation))
				continue
			}
			findings = append(findings, Warn("policy", v.Message))
		}
		if len(findings) == 0 {
			findings = append(findings, Pass("policy", fmt.Sprintf("%d policies passed", len(pe.policies))))
		}
		return findings
	})
}
