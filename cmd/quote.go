package cmd

import (
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"fundswap/config"
	"fundswap/pkg/client"
	"fundswap/pkg/fee"
	"fundswap/pkg/quote"
	"fundswap/pkg/saga"
	"fundswap/pkg/types"
)

var (
	quoteToChain   string
	quoteRecipient string
	quoteWatch     bool
	quoteInterval  time.Duration
)

var quoteCmd = &cobra.Command{
	Use:   "quote <amount>",
	Short: "Estimate what an anonymous transfer delivers",
	Long: `Price moving SOL to another chain through the bridge provider without
reserving a deposit address. Nothing is signed or sent.

Examples:
  fundswap quote 1 --to-chain ethereum --recipient 0x71C7656EC7ab88b098defB751B7401B5f6d8976F
  fundswap quote 2.5 --to-chain base --recipient 0x71C7...976F --watch`,
	Args: cobra.ExactArgs(1),
	RunE: runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)

	quoteCmd.Flags().StringVar(&quoteToChain, "to-chain", "ethereum", "Chain the funds are priced into")
	quoteCmd.Flags().StringVar(&quoteRecipient, "recipient", "", "Recipient address on the destination chain")
	quoteCmd.Flags().BoolVarP(&quoteWatch, "watch", "w", false, "Keep refreshing the quote until interrupted")
	quoteCmd.Flags().DurationVar(&quoteInterval, "interval", quote.DefaultInterval, "Refresh interval when watching")
	_ = quoteCmd.MarkFlagRequired("recipient")
}

func runQuote(cmd *cobra.Command, args []string) error {
	_, jsonOutput := outputFlags(cmd)

	lamports, err := fee.ParseLamports(strings.TrimSuffix(strings.ToUpper(args[0]), "SOL"))
	if err != nil {
		return err
	}
	chain, err := types.ParseChain(quoteToChain)
	if err != nil {
		return err
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	origin, dest, err := bridgeAssets(cfg, chain)
	if err != nil {
		return err
	}
	params := client.QuoteParams{
		OriginAsset:      origin,
		DestinationAsset: dest,
		Amount:           new(big.Int).SetUint64(lamports),
		Recipient:        quoteRecipient,
		Dry:              true,
	}
	apiClient := newQuoteClient(cfg, logger)

	if !quoteWatch {
		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		if !jsonOutput {
			s.Suffix = " Fetching quote..."
			s.Start()
		}
		q, err := apiClient.GetQuote(cmd.Context(), params)
		if !jsonOutput {
			s.Stop()
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]interface{}{"quote": q, "price": quote.Price(q)})
			return nil
		}
		fmt.Printf("\n%s SOL to %s\n", fee.FormatLamports(lamports), chain)
		renderPreview(quote.Preview{Quote: q, Price: quote.Price(q)})
		fmt.Println()
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	render := renderPreview
	if jsonOutput {
		render = func(p quote.Preview) {
			if p.Err != nil {
				printJSON(map[string]interface{}{"error": p.Err.Error()})
				return
			}
			printJSON(map[string]interface{}{"quote": p.Quote, "price": p.Price})
		}
	} else {
		fmt.Printf("\nQuoting %s SOL to %s every %s. Press Ctrl+C to stop.\n\n", fee.FormatLamports(lamports), chain, quoteInterval)
	}

	poller := quote.NewPoller(apiClient, params, quoteInterval, render, logger)
	if err := poller.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	poller.Stop()
	return nil
}

// bridgeAssets resolves the provider asset ids for SOL and the destination chain
func bridgeAssets(cfg *config.Config, chain types.Chain) (origin, dest string, err error) {
	assets := saga.DefaultConfig().Assets
	for name, asset := range cfg.OneClick.Assets {
		c, err := types.ParseChain(name)
		if err != nil {
			return "", "", fmt.Errorf("oneclick.assets: %w", err)
		}
		assets[c] = asset
	}
	origin, dest = assets[types.ChainSolana], assets[chain]
	if origin == "" || dest == "" {
		return "", "", fmt.Errorf("no bridge asset configured for %s", chain)
	}
	return origin, dest, nil
}
