package validation

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/gatewaysetup/pkg/config"
	"github.com/openfroyo/gatewaysetup/pkg/engine"
	"github.com/openfroyo/gatewaysetup/pkg/telemetry"
)

// ProbeKind is the adapter action used to probe an endpoint.
const ProbeKind = "endpoint.probe"

// ConnectivityOptions bound the connectivity check.
type ConnectivityOptions struct {
	// Timeout applies to endpoints without their own timeout.
	Timeout time.Duration

	// Concurrency caps in-flight probes; zero or less means one.
	Concurrency int

	Classifier engine.Classifier
	Metrics    *telemetry.Metrics
}

// ProbeResult is the outcome of probing one endpoint.
type ProbeResult struct {
	Endpoint config.Endpoint
	Healthy  bool
	Duration time.Duration
	Error    *engine.ErrorRecord
}

// ProbeEndpoints probes every endpoint through the adapter with bounded
// concurrency. Every probe runs to completion; results are in declaration
// order.
func ProbeEndpoints(ctx context.Context, adapter engine.ServiceAdapter, endpoints []config.Endpoint, opts ConnectivityOptions) []ProbeResult {
	if opts.Classifier == nil {
		opts.Classifier = engine.NewClassifier(nil)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	results := make([]ProbeResult, len(endpoints))

	var g errgroup.Group
	g.SetLimit(opts.Concurrency)

	for i, ep := range endpoints {
		g.Go(func() error {
			timeout := ep.Timeout.Std()
			if timeout <= 0 {
				timeout = opts.Timeout
			}

			probeCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				probeCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			start := time.Now()
			_, err := adapter.Invoke(probeCtx, engine.Action{
				Kind: ProbeKind,
				Params: map[string]string{
					"name":   ep.Name,
					"url":    ep.URL,
					"scheme": ep.Scheme,
				},
			})

			res := ProbeResult{Endpoint: ep, Healthy: err == nil, Duration: time.Since(start)}
			if err != nil {
				res.Error = opts.Classifier.Classify(err)
			}
			opts.Metrics.RecordProbe(ep.Name, res.Healthy, res.Duration)

			// Each goroutine owns its slot.
			results[i] = res
			return nil
		})
	}

	// Probes never return errors; a failed probe is a result.
	_ = g.Wait()

	return results
}

// ConnectivityCheck probes the declared endpoints and fails for each
// unreachable one.
func ConnectivityCheck(adapter engine.ServiceAdapter, endpoints []config.Endpoint, opts ConnectivityOptions) Check {
	return NewCheck("connectivity", func(ctx context.Context) []Finding {
		if len(endpoints) == 0 {
			return []Finding{Pass("connectivity", "no endpoints declared")}
		}

		var findings []Finding
		for _, r := range ProbeEndpoints(ctx, adapter, endpoints, opts) {
			if r.Healthy {
				findings = append(findings, Pass("connectivity",
					fmt.Sprintf("%s reachable in %s", r.Endpoint.Name, r.Duration.Round(time.Millisecond))))
				continue
			}
			remediation := r.Error.Remediation
			if remediation == "" {
				remediation = fmt.Sprintf("Check that %s is running and reachable", r.Endpoint.URL)
			}
			findings = append(findings, Fail("connectivity", r.Endpoint.Name,
				fmt.Sprintf("%s (%s) unreachable: %s", r.Endpoint.Name, r.Endpoint.URL, r.Error.Message),
				remediation))
		}
		return findings
	})
}
