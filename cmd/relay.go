package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fundswap/config"
	"fundswap/pkg/deposit"
	"fundswap/pkg/relay"
)

const shutdownTimeout = 10 * time.Second

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run or inspect the relay signer",
	Long: `The relay signs unshield, bridge and refund transactions on behalf of
transfers. It can run in process (relay.private_key) or as a separate signing
endpoint that transfers reach through relay.url.`,
}

var relayServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the relay signing endpoint",
	Long: `Serve the signing endpoint with the key in relay.private_key.

The endpoint only signs instructions whose sole signer is the relay and whose
programs are on its allow list. Requests are authenticated with relay.api_key
when it is set.

Examples:
  FUNDSWAP_RELAY_PRIVATE_KEY=... fundswap relay serve
  fundswap relay serve --listen 127.0.0.1:9000`,
	RunE: runRelayServe,
}

var relayIdentityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Show the relay's addresses",
	RunE:  runRelayIdentity,
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.AddCommand(relayServeCmd)
	relayCmd.AddCommand(relayIdentityCmd)

	relayServeCmd.Flags().String("listen", "", "Address to listen on (overrides relay.listen)")
}

func runRelayServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.Relay.PrivateKey == "" {
		return fmt.Errorf("relay.private_key is required to serve the signing endpoint")
	}
	listen := cfg.Relay.Listen
	if l, _ := cmd.Flags().GetString("listen"); l != "" {
		listen = l
	}

	// a served relay always signs in process
	local := *cfg
	local.Relay.URL = ""
	signer, closeSigner, err := newRelaySigner(&local, logger)
	if err != nil {
		return err
	}
	defer closeSigner()

	id, err := signer.Identity(cmd.Context())
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              listen,
		Handler:           relay.NewServer(signer, cfg.Relay.APIKey, logger).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("relay signing endpoint starting",
		zap.String("listen", listen),
		zap.String("address", id.Address.String()),
		zap.String("evm_address", id.EVMAddress),
		zap.Bool("authenticated", cfg.Relay.APIKey != ""))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("relay signing endpoint shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runRelayIdentity(cmd *cobra.Command, args []string) error {
	_, jsonOutput := outputFlags(cmd)

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signer, closeSigner, err := newRelaySigner(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSigner()

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	id, err := signer.Identity(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(id)
		return nil
	}
	fmt.Printf("\n  Relay address:     %s\n", color.CyanString(id.Address.String()))
	if id.EVMAddress != "" {
		fmt.Printf("  Relay EVM address: %s\n", color.CyanString(id.EVMAddress))
	}
	fmt.Println()
	return nil
}

// newRelaySigner builds the configured signer without the rest of the transfer stack
func newRelaySigner(cfg *config.Config, logger *zap.Logger) (relay.Signer, func(), error) {
	if cfg.Relay.URL == "" && cfg.Relay.PrivateKey == "" {
		return nil, nil, fmt.Errorf("relay not configured: set relay.url or relay.private_key")
	}
	program, err := compressionProgram(cfg)
	if err != nil {
		return nil, nil, err
	}
	depositors := deposit.NewManager(cfg.EVM, logger)
	signer, err := relaySigner(cfg, program, depositors, logger)
	if err != nil {
		depositors.Close()
		return nil, nil, err
	}
	return signer, depositors.Close, nil
}
