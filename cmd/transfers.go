package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"fundswap/pkg/fee"
	"fundswap/pkg/saga"
)

var transfersStatusFilter string

var transfersCmd = &cobra.Command{
	Use:     "transfers",
	Aliases: []string{"history"},
	Short:   "Inspect recorded transfers",
	Long: `List and view the transfers recorded in the local state store.

Every transfer is checkpointed after each step, so interrupted and halted
transfers show up here with the step they reached.`,
}

var transfersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded transfers, newest first",
	Long: `Display every recorded transfer with its progress.

Examples:
  fundswap transfers list
  fundswap transfers list --status failed
  fundswap transfers list --json`,
	RunE: runTransfersList,
}

var transfersViewCmd = &cobra.Command{
	Use:   "view <transfer-id>",
	Short: "View one transfer in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runTransfersView,
}

func init() {
	rootCmd.AddCommand(transfersCmd)
	transfersCmd.AddCommand(transfersListCmd)
	transfersCmd.AddCommand(transfersViewCmd)

	transfersListCmd.Flags().StringVar(&transfersStatusFilter, "status", "", "Filter by state (active, succeeded, refund_issued, failed)")
}

func runTransfersList(cmd *cobra.Command, args []string) error {
	_, jsonOutput := outputFlags(cmd)

	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, rdb, err := openStore(cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	states, err := saga.ListStates(cmd.Context(), st)
	if err != nil {
		return err
	}
	if transfersStatusFilter != "" {
		filtered := states[:0]
		for _, s := range states {
			if transferState(s) == transfersStatusFilter {
				filtered = append(filtered, s)
			}
		}
		states = filtered
	}

	if jsonOutput {
		summaries := make([]interface{}, len(states))
		for i, s := range states {
			summaries[i] = s.Summary()
		}
		printJSON(summaries)
		return nil
	}

	if len(states) == 0 {
		color.Yellow("No transfers found.\n")
		fmt.Println("\nStart one with:")
		color.Cyan("  fundswap transfer <amount> SOL to <address>\n")
		return nil
	}

	fmt.Println("\n" + strings.Repeat("=", 120))
	color.Green("                                                TRANSFERS")
	fmt.Println(strings.Repeat("=", 120))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nID\tMODE\tNET\tDESTINATION\tPROGRESS\tSTATE\tUPDATED")
	fmt.Fprintln(w, strings.Repeat("-", 120))

	for _, s := range states {
		sum := s.Summary()
		fmt.Fprintf(w, "%s\t%s\t%s SOL\t%s\t%s\t%s\t%s\n",
			sum.ID, sum.Mode, sum.Net, truncateString(sum.Destination, 16),
			sum.Progress, stateColor(transferState(s)), s.UpdatedAt.Format("2006-01-02 15:04"))
	}

	w.Flush()
	fmt.Println("\n" + strings.Repeat("=", 120) + "\n")
	return nil
}

func runTransfersView(cmd *cobra.Command, args []string) error {
	_, jsonOutput := outputFlags(cmd)

	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, rdb, err := openStore(cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	s, err := saga.LoadState(cmd.Context(), st, args[0])
	if err != nil {
		return fmt.Errorf("transfer %s: %w", args[0], err)
	}

	if jsonOutput {
		printJSON(s)
		return nil
	}

	sum := s.Summary()
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                        TRANSFER DETAILS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  ID:                %s\n", color.CyanString(s.ID))
	fmt.Printf("  State:             %s\n", stateColor(transferState(s)))
	fmt.Printf("  Created:           %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Last Updated:      %s\n", s.UpdatedAt.Format("2006-01-02 15:04:05"))

	fmt.Printf("\n  Transfer:\n")
	fmt.Printf("    Mode:            %s\n", sum.Mode)
	fmt.Printf("    Amount:          %s SOL\n", sum.Amount)
	fmt.Printf("    Fee:             %s SOL\n", sum.Fee)
	fmt.Printf("    Net:             %s SOL\n", sum.Net)
	fmt.Printf("    From:            %s\n", s.Request.SourceAddress)
	fmt.Printf("    To:              %s (%s)\n", s.Request.DestinationAddress, s.Request.DestinationChain)
	fmt.Printf("    Relay:           %s\n", s.RelayAddress)

	fmt.Printf("\n  Progress:\n")
	fmt.Printf("    Step:            %s (%s)\n", sum.Step, sum.Progress)
	fmt.Printf("    Last completed:  %s\n", s.LastSuccessfulStep)
	fmt.Printf("    Status:          %s\n", s.Status)
	if s.LastError != nil {
		fmt.Printf("    Last error:      %s\n", color.RedString("%s: %s", s.LastError.Kind, s.LastError.Message))
	}
	if s.Pending != nil {
		fmt.Printf("    Unconfirmed tx:  %s (%s)\n", color.YellowString(s.Pending.Signature.String()), s.Pending.Step)
	}

	ids := []struct{ label, id string }{
		{"Shield", s.TxIDs.Shield},
		{"Unshield", s.TxIDs.Unshield},
		{"Outbound bridge", s.TxIDs.Outbound},
		{"Inbound bridge", s.TxIDs.Inbound},
		{"Refund", s.TxIDs.Refund},
	}
	fmt.Printf("\n  Transactions:\n")
	for _, tx := range ids {
		if tx.id != "" {
			fmt.Printf("    %-16s %s\n", tx.label+":", color.CyanString(tx.id))
		}
	}
	if s.InboundAmount != nil {
		fmt.Printf("    Return amount:   %s (smallest units of the bridge asset)\n", s.InboundAmount)
	}
	if q := s.OutboundQuote; q != nil {
		fmt.Printf("    Bridge request:  %s (%s -> %s)\n", q.RequestID, fee.FormatLamports(q.AmountIn.Uint64()), q.AmountOutFormatted)
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	if s.Resumable() && transferState(s) != "succeeded" {
		fmt.Println("\nContinue this transfer with:")
		color.Cyan("  fundswap resume %s\n", s.ID)
	}
	fmt.Println()
	return nil
}

// transferState collapses a transfer to active or its outcome kind
func transferState(s *saga.State) string {
	if s.Outcome == nil {
		return "active"
	}
	return string(s.Outcome.Kind)
}

func stateColor(state string) string {
	switch state {
	case string(saga.OutcomeSucceeded):
		return color.GreenString(state)
	case "active":
		return color.YellowString(state)
	case string(saga.OutcomeRefundIssued):
		return color.MagentaString(state)
	case string(saga.OutcomeFailed):
		return color.RedString(state)
	default:
		return state
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
