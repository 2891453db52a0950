package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"fundswap/pkg/client"
)

var (
	watchStatus   bool
	watchInterval int
)

var statusCmd = &cobra.Command{
	Use:   "status <deposit-address>",
	Short: "Check the status of a bridge movement",
	Long: `Check the execution status of a bridge movement by its deposit address.

Anonymous transfers record the deposit address of each bridge leg; see
"fundswap transfers view <id>".

Examples:
  fundswap status 0x1234...abcd
  fundswap status 0x1234...abcd --watch
  fundswap status 0x1234...abcd --watch --interval 10`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch status updates continuously")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	depositAddress := args[0]
	_, jsonOutput := outputFlags(cmd)

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	apiClient := newQuoteClient(cfg, logger)

	if watchStatus {
		if jsonOutput {
			return fmt.Errorf("watch mode not supported with JSON output")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		watchBridgeStatus(ctx, apiClient, depositAddress)
		return nil
	}
	return checkBridgeStatus(cmd.Context(), apiClient, depositAddress, jsonOutput)
}

func checkBridgeStatus(ctx context.Context, apiClient *client.OneClickClient, depositAddress string, jsonOutput bool) error {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	if !jsonOutput {
		s.Suffix = " Checking bridge status..."
		s.Start()
	}

	report, err := apiClient.Status(ctx, depositAddress)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(report)
	} else {
		displayStatus(report, depositAddress)
	}
	return nil
}

func watchBridgeStatus(ctx context.Context, apiClient *client.OneClickClient, depositAddress string) {
	fmt.Printf("\nWatching bridge status (Deposit Address: %s)\n", color.CyanString(depositAddress))
	fmt.Printf("Checking every %d seconds. Press Ctrl+C to stop.\n\n", watchInterval)

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	for {
		report, err := apiClient.Status(ctx, depositAddress)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			color.Red("Error: %v", err)
		} else {
			displayStatus(report, depositAddress)
			if report.Status != client.BridgePending {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func displayStatus(report *client.StatusReport, depositAddress string) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                        BRIDGE STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Deposit Address: %s\n", color.CyanString(depositAddress))
	fmt.Printf("  Status:          %s\n", getColoredStatus(report.Raw))
	if !report.UpdatedAt.IsZero() {
		fmt.Printf("  Last Updated:    %s\n", report.UpdatedAt.Format("2006-01-02 15:04:05"))
	}

	for _, hash := range report.DestinationTxHashes {
		fmt.Printf("  Withdrawal Tx:   %s\n", color.HiBlackString(hash))
	}
	if report.AmountOutFormatted != "" {
		fmt.Printf("  Amount Out:      %s\n", report.AmountOutFormatted)
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func getColoredStatus(status string) string {
	status = strings.ToUpper(status)

	switch status {
	case "SUCCESS", "COMPLETED":
		return color.GreenString(status)
	case "PENDING_DEPOSIT", "PENDING", "PROCESSING", "KNOWN_DEPOSIT_TX":
		return color.YellowString(status)
	case "FAILED", "REFUNDED":
		return color.RedString(status)
	case "INCOMPLETE_DEPOSIT":
		return color.MagentaString(status)
	default:
		return status
	}
}
