package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/gatewaysetup/pkg/engine"
	"github.com/openfroyo/gatewaysetup/pkg/stores"
	"github.com/openfroyo/gatewaysetup/pkg/telemetry"
	"github.com/openfroyo/gatewaysetup/pkg/validation"
)

func newRunCommand(app *App, global *globalOptions) *cobra.Command {
	var (
		runOpts    engine.RunOptions
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Validate the environment and run the setup steps",
		Long: `Run pre-flight validation, then every setup step in dependency order.

Pre-flight checks the required environment variables, the configuration
file, the configuration policies, the required tools and the declared
endpoints, and reports every problem at once.

Each step is retried on transient failures. Progress is saved after every
step; --resume skips steps that already succeeded.`,
		Example: `  # Full run
  gwsetup run

  # Only run pre-flight validation
  gwsetup run --validate-only

  # Continue an interrupted run
  gwsetup run --resume --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := app.load(global)
			if err != nil {
				return err
			}
			defer rt.close()

			cfg, tel := rt.cfg, rt.tel
			logger := tel.Logger.NewComponentLogger("cli")
			ctx = logger.WithContext(ctx)

			adapter, err := app.Adapters(ctx, cfg, rt.lookup)
			if err != nil {
				return exitWith(ExitInvalid, err)
			}

			classifier := engine.NewClassifier(nil)
			validator, err := validation.Preflight(ctx, cfg, rt.lookup, adapter,
				validation.WithTelemetry(tel),
				validation.WithClassifier(classifier),
			)
			if err != nil {
				return exitWith(ExitInvalid, err)
			}

			journal, err := stores.OpenJournal(ctx, cfg.RunDir, logger)
			if err != nil {
				logger.WithError(err).Warn("attempt journal unavailable; history will not be recorded")
			} else {
				defer journal.Close()
				tel.Events.Subscribe(journal.Subscriber(), nil)
			}
			tel.Events.Subscribe(progressPrinter(app.Stderr), telemetry.FilterByLevel(progressLevel(global.debug)))

			orch := engine.NewOrchestrator(adapter, stores.NewFileStore(cfg.RunDir), validator,
				engine.WithRetryPolicy(cfg.RetryPolicy()),
				engine.WithStepTimeout(cfg.StepTimeout.Std()),
				engine.WithTelemetry(tel),
				engine.WithClassifier(classifier),
			)

			res, runErr := orch.Run(ctx, cfg.Pipeline(), runOpts)
			if res != nil && res.Report != nil {
				if err := writeReport(app.Stdout, res.Report, jsonOutput); err != nil {
					return exitWith(ExitInvalid, err)
				}
			}

			return runExit(res, runErr)
		},
	}

	cmd.Flags().BoolVar(&runOpts.Resume, "resume", false, "skip steps that succeeded in a previous run")
	cmd.Flags().BoolVar(&runOpts.ValidateOnly, "validate-only", false, "stop after pre-flight validation")
	cmd.Flags().BoolVar(&runOpts.Force, "force", false, "continue past pre-flight, dependency and non-retryable failures")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the verification report as JSON")

	return cmd
}

// runExit maps a run outcome onto the process exit code.
func runExit(res *engine.SetupResult, runErr error) error {
	switch {
	case errors.Is(runErr, engine.ErrPreflightFailed):
		return exitWith(ExitInvalid, runErr)
	case res == nil:
		return exitWith(ExitInvalid, runErr)
	case runErr != nil:
		return exitWith(ExitStepsFailed, runErr)
	case !res.Success:
		return exitWith(ExitStepsFailed,
			fmt.Errorf("run %s: %d step(s) failed, %d blocked", res.RunID, res.Failed, res.Blocked))
	default:
		return nil
	}
}

func writeReport(w io.Writer, report *engine.VerificationReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	if isTerminal(w) {
		_, err := io.WriteString(w, renderStyled(report))
		return err
	}
	return report.Render(w)
}

// progressLevel is the lowest event level printed while a run is in
// progress: retries, warnings and failures by default, every transition
// with --debug.
func progressLevel(debug bool) string {
	if debug {
		return telemetry.EventLevelDebug
	}
	return telemetry.EventLevelWarning
}

// progressPrinter prints one line per progress event.
func progressPrinter(w io.Writer) telemetry.EventSubscriber {
	return func(event telemetry.Event) {
		switch event.Type {
		case telemetry.EventTypeStepTransition:
			line := fmt.Sprintf("%s  %s -> %s", event.StepID, event.From, event.To)
			if event.Attempt > 0 {
				line += fmt.Sprintf(" (attempt %d)", event.Attempt)
			}
			if event.Category != "" {
				line += fmt.Sprintf(" [%s]", event.Category)
			}
			fmt.Fprintln(w, dimStyle.Render(line))
		case telemetry.EventTypeStepRetry, telemetry.EventTypeWarning:
			fmt.Fprintln(w, warningStyle.Render(event.Message))
		}
	}
}
