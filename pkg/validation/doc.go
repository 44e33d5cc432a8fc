// Package validation implements the pre-flight checks and per-step
// conditions of a setup run.
//
// # Pre-flight
//
// Preflight assembles an Engine with five checks, run once and in order:
//
//  1. environment - required variables are set and non-empty
//  2. configuration - struct tags of the loaded config.Config
//  3. policy - Rego policies over the config document (see BuiltinPolicies)
//  4. prerequisites - declared executables are on PATH
//  5. connectivity - declared endpoints answer an endpoint.probe action
//
// Every check reports all of its findings; nothing stops at the first
// failure. The aggregated engine.ValidationResult is valid iff no check
// reported a failure.
//
//	env, _ := cfg.LookupEnv()
//	v, err := validation.Preflight(ctx, cfg, env, adapter)
//	if err != nil {
//	    return err
//	}
//	res := v.Preflight(ctx)
//
// # Policies
//
// A policy is a Rego module that defines a `deny` set. Elements are
// objects with message, field, severity and remediation keys; severity
// "warning" is reported without failing the check. The shared module
// data.gwsetup.lib is available to every policy:
//
//	package acme.gateway
//
//	import rego.v1
//
//	import data.gwsetup.lib
//
//	deny contains v if {
//	    not startswith(input.gateway.name, "acme-")
//	    v := lib.violation("gateway.name", "gateway names start with acme-", "error", "Rename the gateway")
//	}
//
// # Conditions
//
// CheckCondition invokes a condition's read-only action and evaluates its
// Starlark expect expression with the adapter output bound to `output`.
package validation
