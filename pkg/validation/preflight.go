package validation

import (
	"context"

	"github.com/openfroyo/gatewaysetup/pkg/config"
	"github.com/openfroyo/gatewaysetup/pkg/engine"
)

// Preflight builds the engine used by a setup run. The checks run in this
// order: environment, configuration, policy, prerequisites, certificates,
// ports, connectivity, followed by any checks passed with WithChecks.
func Preflight(ctx context.Context, cfg *config.Config, lookup LookupFunc, adapter engine.ServiceAdapter, opts ...Option) (*Engine, error) {
	e := New(adapter, opts...)

	var extra []Policy
	if len(cfg.Policies) > 0 {
		loaded, err := LoadPolicies(cfg.Policies)
		if err != nil {
			return nil, engine.NewConfigurationError("failed to load policies", err).
				WithRemediation("Check the policies entries in " + configName(cfg))
		}
		extra = loaded
	}

	policies, err := NewPolicyEngine(ctx, e.tel.Logger, extra...)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to compile policies", err).
			WithRemediation("Fix the rego policy so it compiles")
	}

	custom := e.checks
	e.checks = []Check{
		EnvironmentCheck(cfg.RequiredEnv, lookup),
		ConfigurationCheck(cfg),
		PolicyCheck(policies, cfg),
		PrerequisitesCheck(cfg.Prerequisites, e.lookPath),
		CertificatesCheck(cfg.Certificates, e.now),
		PortsCheck(cfg.RequiredPorts, e.listen),
		ConnectivityCheck(adapter, cfg.Endpoints, ConnectivityOptions{
			Timeout:     cfg.ProbeTimeout.Std(),
			Concurrency: cfg.ProbeConcurrency,
			Classifier:  e.classifier,
			Metrics:     e.tel.Metrics,
		}),
	}
	e.checks = append(e.checks, custom...)

	return e, nil
}
