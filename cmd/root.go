package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fundswap/config"
)

var rootCmd = &cobra.Command{
	Use:   "fundswap",
	Short: "Private SOL transfers through a shielding relay",
	Long: `fundswap moves SOL privately. Funds are shielded to a relay, which
unshields them to the destination (fast-track) or routes them through a second
chain before delivery (anonymous).

Examples:
  fundswap transfer 2 SOL to <solana-address>
  fundswap transfer 0.5 SOL to 0x71C7...976F --mode anonymous --to-chain ethereum
  fundswap quote 1 --to-chain ethereum --watch
  fundswap transfers list
  fundswap resume <transfer-id>`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and reports its error on stderr
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError(err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "\nError: %v\n\n", err)
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func outputFlags(cmd *cobra.Command) (verbose, jsonOutput bool) {
	verbose, _ = cmd.Flags().GetBool("verbose")
	jsonOutput, _ = cmd.Flags().GetBool("json")
	return verbose, jsonOutput
}

// newLogger builds the zap logger for a command. --verbose forces debug level.
func newLogger(cmd *cobra.Command, cfg config.LogConfig) (*zap.Logger, error) {
	verbose, _ := outputFlags(cmd)

	zc := zap.NewProductionConfig()
	if cfg.Development || verbose {
		zc = zap.NewDevelopmentConfig()
	}
	level := cfg.Level
	if verbose {
		level = "debug"
	}
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		zc.Level = lvl
	}
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	return zc.Build()
}

// loadConfig reads configuration and builds the logger
func loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cmd, cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
