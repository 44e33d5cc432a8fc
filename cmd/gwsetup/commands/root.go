// Package commands implements the gwsetup command line.
package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/gatewaysetup/pkg/config"
	"github.com/openfroyo/gatewaysetup/pkg/engine"
)

// AdapterFactory builds the service adapter for a loaded configuration.
type AdapterFactory func(ctx context.Context, cfg *config.Config, lookup func(string) (string, bool)) (engine.ServiceAdapter, error)

// App carries build information and the process streams.
type App struct {
	Version   string
	Commit    string
	BuildDate string

	Stdout io.Writer
	Stderr io.Writer

	// Adapters defaults to the AWS, shell and probe router.
	Adapters AdapterFactory
}

// NewApp returns an App writing to the process streams.
func NewApp(version, commit, buildDate string) *App {
	return &App{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		Adapters:  DefaultAdapters,
	}
}

// globalOptions are the persistent flags.
type globalOptions struct {
	configPath string
	debug      bool
	logFormat  string
}

// Execute runs the root command.
func Execute(ctx context.Context, app *App) error {
	return newRootCommand(app).ExecuteContext(ctx)
}

func newRootCommand(app *App) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "gwsetup",
		Short: "Provision an API gateway and its supporting AWS resources",
		Long: `gwsetup validates the environment, then creates the schema bucket,
uploads the API schema, creates the credential provider and the gateway,
and verifies the result.

Every step is recorded in the run directory so an interrupted or failed
run can be resumed with 'gwsetup run --resume'.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", app.Version, app.Commit, app.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetOut(app.Stdout)
	rootCmd.SetErr(app.Stderr)

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "debug logging and per-event progress lines")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: auto, console or json")

	rootCmd.AddCommand(newRunCommand(app, opts))
	rootCmd.AddCommand(newStatusCommand(app, opts))
	rootCmd.AddCommand(newResetCommand(app, opts))
	rootCmd.AddCommand(newVersionCommand(app))

	return rootCmd
}

func newVersionCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(app.Stdout, "gwsetup %s\ncommit: %s\nbuilt: %s\n", app.Version, app.Commit, app.BuildDate)
			return err
		},
	}
}
