package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <transfer-id>",
	Short: "Continue an interrupted or halted transfer",
	Long: `Continue a transfer from the last step it completed.

A transaction recorded by the earlier run is confirmed before anything is
rebuilt, so resuming never pays twice. Finished transfers print their outcome.

Examples:
  fundswap resume 7c9e6679-7425-40de-944b-e07fc1f90ae7`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	_, jsonOutput := outputFlags(cmd)

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	view := newProgress(jsonOutput)
	a, err := newApp(cfg, logger, view)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	view.Start()
	st, outcome, err := a.manager.Resume(ctx, args[0])
	view.Stop()
	if err != nil {
		if st != nil && !jsonOutput {
			color.Yellow("\nTransfer %s interrupted again at %s.", st.ID, st.Step)
		}
		return err
	}

	if jsonOutput {
		printJSON(outcomeJSON(st, outcome))
		return nil
	}
	displayOutcome(st, outcome)
	return nil
}
