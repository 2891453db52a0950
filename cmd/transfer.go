package cmd

import (
	"bufio"
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fundswap/pkg/client"
	"fundswap/pkg/fee"
	"fundswap/pkg/parser"
	"fundswap/pkg/quote"
	"fundswap/pkg/types"
)

var (
	transferMode    string
	transferToChain string
	noConfirm       bool
)

var transferCmd = &cobra.Command{
	Use:     "transfer <amount> SOL to <address>",
	Aliases: []string{"send"},
	Short:   "Privately transfer SOL",
	Long: `Shield SOL to the relay and have it delivered to the destination.

Modes:
  fast-track   the relay unshields straight to a Solana destination (1% fee)
  anonymous    the relay routes the funds through a second chain before delivery

Examples:
  fundswap transfer 2 SOL to 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin
  fundswap transfer 0.5 SOL to 0x71C7656EC7ab88b098defB751B7401B5f6d8976F --mode anonymous --to-chain ethereum
  fundswap transfer 1 SOL to <address> --yes`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTransfer,
}

func init() {
	rootCmd.AddCommand(transferCmd)

	transferCmd.Flags().StringVarP(&transferMode, "mode", "m", "fast-track", "Privacy mode: fast-track or anonymous")
	transferCmd.Flags().StringVar(&transferToChain, "to-chain", "solana", "Destination chain")
	transferCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
}

func runTransfer(cmd *cobra.Command, args []string) error {
	_, jsonOutput := outputFlags(cmd)

	command, err := parser.ParseTransferCommand(strings.Join(args, " "))
	if err != nil {
		return err
	}
	if command.Token != "SOL" {
		return fmt.Errorf("only SOL can be transferred, got %s", command.Token)
	}
	mode, err := types.ParsePrivacyMode(transferMode)
	if err != nil {
		return err
	}
	destChain, err := types.ParseChain(transferToChain)
	if err != nil {
		return err
	}

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

	req := types.TransferRequest{
		Amount:             command.Amount,
		SourceChain:        types.ChainSolana,
		DestinationChain:   destChain,
		DestinationAddress: command.Destination,
		Mode:               mode,
	}
	plan, err := a.manager.Prepare(&req)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !jsonOutput {
		displayPlan(plan, req.DestinationAddress)
		if mode == types.Anonymous {
			if err := watchDisplayQuote(ctx, a, req, plan); err != nil {
				logger.Debug("display quote unavailable", zap.Error(err))
			}
		}
		if !noConfirm && !confirmTransfer() {
			fmt.Println("\nTransfer cancelled.")
			return nil
		}
	}

	balance := make(chan string, 1)
	a.manager.OnBalance(func(lamports uint64, err error) {
		if err != nil {
			balance <- ""
			return
		}
		balance <- fee.FormatLamports(lamports)
	})

	view.Start()
	st, outcome, err := a.manager.Start(ctx, req)
	view.Stop()
	if err != nil {
		if st != nil && !jsonOutput {
			color.Yellow("\nTransfer %s interrupted at %s.", st.ID, st.Step)
			fmt.Println("Continue it with:")
			color.Cyan("  fundswap resume %s\n", st.ID)
		}
		return err
	}

	if jsonOutput {
		printJSON(outcomeJSON(st, outcome))
	} else {
		displayOutcome(st, outcome)
		printBalance(balance)
	}
	return nil
}

// watchDisplayQuote shows a refreshing estimate for the whole anonymous route
// until the transfer starts
func watchDisplayQuote(ctx context.Context, a *app, req types.TransferRequest, plan fee.Plan) error {
	sagaCfg, err := sagaConfig(a.cfg)
	if err != nil {
		return err
	}
	origin, dest := sagaCfg.Assets[types.ChainSolana], sagaCfg.Assets[req.DestinationChain]
	if origin == "" || dest == "" {
		return fmt.Errorf("no bridge asset for %s", req.DestinationChain)
	}

	poller := quote.NewPoller(a.quotes, client.QuoteParams{
		OriginAsset:      origin,
		DestinationAsset: dest,
		Amount:           new(big.Int).SetUint64(plan.Net),
		Recipient:        req.DestinationAddress,
		RefundTo:         req.SourceAddress,
	}, a.cfg.Saga.DisplayQuoteInterval, renderPreview, a.logger)

	if err := poller.Start(ctx); err != nil {
		return err
	}
	a.manager.WatchDisplay(poller)
	return nil
}

// printBalance shows the refreshed wallet balance if it arrives shortly
func printBalance(balance <-chan string) {
	select {
	case b := <-balance:
		if b != "" {
			fmt.Printf("Wallet balance: %s SOL\n\n", b)
		}
	case <-time.After(3 * time.Second):
	}
}

func confirmTransfer() bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("\nProceed with transfer? (y/N): ")

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
