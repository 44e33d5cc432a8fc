// Package telemetry provides observability for setup runs.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus) and progress events into one bundle created at
// process start:
//
//	tel, err := telemetry.New(telemetry.DefaultConfig(), os.Stderr)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// The orchestrator publishes one step.transition event per step status
// change. Subscribers (the attempt journal, the CLI progress printer)
// attach with Subscribe and an optional filter:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Printf("%s %s -> %s\n", e.StepID, e.From, e.To)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
//
// Metrics live on a private registry and are written to a node-exporter
// style textfile at shutdown when Metrics.TextfilePath is set.
package telemetry
