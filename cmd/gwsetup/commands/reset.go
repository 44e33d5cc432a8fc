package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/gatewaysetup/pkg/stores"
)

func newResetCommand(app *App, global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the persisted step state",
		Long: `Clear the persisted step state so the next run starts from scratch.

The attempt journal is kept. Reset fails while another run holds the lock
on the run directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := app.load(global)
			if err != nil {
				return err
			}
			defer rt.close()

			store := stores.NewFileStore(rt.cfg.RunDir)
			if err := store.Lock(ctx); err != nil {
				return exitWith(ExitInvalid, err)
			}
			defer func() {
				if err := store.Unlock(); err != nil {
					rt.tel.Logger.WithError(err).Warn("failed to release state lock")
				}
			}()

			if err := store.Reset(ctx); err != nil {
				return exitWith(ExitInvalid, err)
			}

			rt.tel.Logger.WithField("run_dir", rt.cfg.RunDir).Info("state cleared")
			_, err = fmt.Fprintf(app.Stdout, "State in %s cleared.\n", rt.cfg.RunDir)
			return err
		},
	}
}
