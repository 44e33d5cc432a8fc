package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/gatewaysetup/pkg/config"
	"github.com/openfroyo/gatewaysetup/pkg/engine"
	"github.com/openfroyo/gatewaysetup/pkg/stores"
)

type statusView struct {
	RunDir  string                `json:"run_dir"`
	Steps   []engine.StepState    `json:"steps"`
	History []stores.JournalEntry `json:"history,omitempty"`
}

func newStatusCommand(app *App, global *globalOptions) *cobra.Command {
	var (
		history    bool
		jsonOutput bool
		graph      bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted state of each setup step",
		Long: `Show the status each setup step had at the end of the last run.

Steps never attempted are shown as pending. With --history, every recorded
transition from the attempt journal is listed as well. With --graph, the
step dependency graph is printed in Graphviz DOT format instead.`,
		Example: `  gwsetup status --history
  gwsetup status --graph | dot -Tsvg > setup.svg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := app.load(global)
			if err != nil {
				return err
			}
			defer rt.close()

			if graph {
				dag := engine.NewDAGBuilder()
				if _, err := dag.Build(rt.cfg.Pipeline()); err != nil {
					return exitWith(ExitInvalid, err)
				}
				_, err := io.WriteString(app.Stdout, dag.ToDOT())
				return err
			}

			states, err := stores.NewFileStore(rt.cfg.RunDir).Load(ctx)
			if err != nil {
				return exitWith(ExitInvalid, err)
			}

			view := statusView{RunDir: rt.cfg.RunDir, Steps: orderedStates(rt.cfg, states)}

			if history {
				if _, err := os.Stat(filepath.Join(rt.cfg.RunDir, stores.JournalFile)); err == nil {
					journal, err := stores.OpenJournal(ctx, rt.cfg.RunDir, rt.tel.Logger)
					if err != nil {
						return exitWith(ExitInvalid, err)
					}
					defer journal.Close()

					view.History, err = journal.ListEvents(ctx, "")
					if err != nil {
						return exitWith(ExitInvalid, err)
					}
				} else if !errors.Is(err, os.ErrNotExist) {
					return exitWith(ExitInvalid, err)
				}
			}

			if jsonOutput {
				enc := json.NewEncoder(app.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}
			return renderStatus(app.Stdout, view, history)
		},
	}

	cmd.Flags().BoolVar(&history, "history", false, "include every recorded transition")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print as JSON")
	cmd.Flags().BoolVar(&graph, "graph", false, "print the step dependency graph in DOT format")

	return cmd
}

// orderedStates lists the pipeline's steps in declaration order, followed
// by any persisted steps the pipeline no longer has.
func orderedStates(cfg *config.Config, states map[string]engine.StepState) []engine.StepState {
	out := make([]engine.StepState, 0, len(states))
	seen := make(map[string]bool)
	for _, step := range cfg.Pipeline() {
		seen[step.ID] = true
		if s, ok := states[step.ID]; ok {
			out = append(out, s)
			continue
		}
		out = append(out, engine.StepState{StepID: step.ID, Status: engine.StepPending})
	}

	var extra []string
	for id := range states {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		out = append(out, states[id])
	}
	return out
}

func renderStatus(w io.Writer, view statusView, history bool) error {
	fmt.Fprintf(w, "State in %s\n\n", view.RunDir)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tSTATUS\tATTEMPTS\tUPDATED\tDETAIL")
	for _, s := range view.Steps {
		updated := "-"
		if !s.UpdatedAt.IsZero() {
			updated = s.UpdatedAt.Local().Format(time.RFC3339)
		}
		detail := ""
		if s.Error != nil {
			detail = fmt.Sprintf("[%s] %s", s.Error.Category, s.Error.Message)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", s.StepID, s.Status, s.Attempts, updated, detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !history {
		return nil
	}

	fmt.Fprintln(w, "\nHistory:")
	if len(view.History) == 0 {
		fmt.Fprintln(w, "  no events recorded")
		return nil
	}

	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  TIME\tRUN\tSTEP\tEVENT\tATTEMPT\tMESSAGE")
	for _, e := range view.History {
		event := e.Type
		if e.From != "" || e.To != "" {
			event = e.From + " -> " + e.To
		}
		if e.Category != "" {
			event += " [" + e.Category + "]"
		}
		runID := e.RunID
		if len(runID) > 8 {
			runID = runID[:8]
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%d\t%s\n",
			e.CreatedAt.Local().Format(time.RFC3339), runID, e.StepID, event, e.Attempt, e.Message)
	}
	return tw.Flush()
}
