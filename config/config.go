package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Solana      SolanaConfig      `mapstructure:"solana"`
	Compression CompressionConfig `mapstructure:"compression"`
	Relay       RelayConfig       `mapstructure:"relay"`
	EVM         EVMConfig         `mapstructure:"evm"`
	OneClick    OneClickConfig    `mapstructure:"oneclick"`
	Saga        SagaConfig        `mapstructure:"saga"`
	Fees        FeesConfig        `mapstructure:"fees"`
	Store       StoreConfig       `mapstructure:"store"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Log         LogConfig         `mapstructure:"log"`
}

// SolanaConfig configures the base-layer ledger and the user's wallet
type SolanaConfig struct {
	RPCUrl       string        `mapstructure:"rpc_url"`
	Commitment   string        `mapstructure:"commitment"`
	PrivateKey   string        `mapstructure:"private_key"` // base58 key or solana-keygen file
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// CompressionConfig configures the privacy-preserving account program
type CompressionConfig struct {
	IndexerURL   string `mapstructure:"indexer_url"`
	ProgramID    string `mapstructure:"program_id"`
	StateTree    string `mapstructure:"state_tree"`
	ComputeUnits uint32 `mapstructure:"compute_units"`
	PriorityFee  uint64 `mapstructure:"priority_fee"` // micro-lamports per compute unit
}

// RelayConfig selects a local relay key or a remote signing endpoint
type RelayConfig struct {
	URL        string `mapstructure:"url"`
	APIKey     string `mapstructure:"api_key"`
	PrivateKey string `mapstructure:"private_key"`
	Listen     string `mapstructure:"listen"`
}

// EVMConfig holds the relay's second-chain networks
type EVMConfig struct {
	Networks map[string]EVMNetwork `mapstructure:"networks"`
}

// EVMNetwork configures one EVM chain
type EVMNetwork struct {
	RPCUrl     string  `mapstructure:"rpc_url"`
	ChainID    int64   `mapstructure:"chain_id"`
	PrivateKey string  `mapstructure:"private_key"`
	GasLimit   *uint64 `mapstructure:"gas_limit"`
	GasPrice   *int64  `mapstructure:"gas_price"`
}

// OneClickConfig configures the bridge quote API
type OneClickConfig struct {
	JWTToken string        `mapstructure:"jwt_token"`
	BaseURL  string        `mapstructure:"base_url"`
	QuoteTTL time.Duration `mapstructure:"quote_ttl"`
	// Assets maps a chain name to the 1Click asset id of its native token
	Assets map[string]string `mapstructure:"assets"`
}

// SagaConfig tunes the transfer state machine
type SagaConfig struct {
	BridgeChain          string        `mapstructure:"bridge_chain"`
	NetworkFeeReserve    uint64        `mapstructure:"network_fee_reserve"`
	ConfirmAttempts      int           `mapstructure:"confirm_attempts"`
	SubmitAttempts       int           `mapstructure:"submit_attempts"`
	SubmitDelay          time.Duration `mapstructure:"submit_delay"`
	MaterializeAttempts  int           `mapstructure:"materialize_attempts"`
	MaterializeDelay     time.Duration `mapstructure:"materialize_delay"`
	QuoteAttempts        int           `mapstructure:"quote_attempts"`
	QuoteBaseDelay       time.Duration `mapstructure:"quote_base_delay"`
	BridgePollInterval   time.Duration `mapstructure:"bridge_poll_interval"`
	BridgeTimeout        time.Duration `mapstructure:"bridge_timeout"`
	InboundHaircutBps    uint64        `mapstructure:"inbound_haircut_bps"`
	DisplayQuoteInterval time.Duration `mapstructure:"display_quote_interval"`
}

// FeesConfig configures the protocol fee
type FeesConfig struct {
	Address            string `mapstructure:"address"`
	FastTrackBps       uint64 `mapstructure:"fast_track_bps"`
	EstimatedBridgeFee uint64 `mapstructure:"estimated_bridge_fee"`
}

// StoreConfig selects where saga state is persisted
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // file or redis
	Dir    string `mapstructure:"dir"`
}

// RedisConfig configures the optional Redis used for state and the relay lock
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig configures zap
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

var globalConfig *Config

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("solana.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("solana.poll_interval", 2*time.Second)

	v.SetDefault("compression.program_id", "SySTEM1eSU2p4BGQfQpimFEWWSC1XDFeun3Nqzz3rT7")
	v.SetDefault("compression.state_tree", "smt1NamzXdq4AMqS2fS2F1i5KTYPZRhoHgWx38d8WsT")
	v.SetDefault("compression.compute_units", 1_000_000)
	v.SetDefault("compression.priority_fee", 1_000)

	v.SetDefault("relay.listen", ":8089")

	v.SetDefault("oneclick.base_url", "https://1click.chaindefuser.com")
	v.SetDefault("oneclick.quote_ttl", 2*time.Minute)
	v.SetDefault("oneclick.assets", map[string]string{
		"solana":   "nep141:sol.omft.near",
		"ethereum": "nep141:eth.omft.near",
		"base":     "nep141:base.omft.near",
		"arbitrum": "nep141:arb.omft.near",
	})

	v.SetDefault("saga.bridge_chain", "base")
	v.SetDefault("saga.network_fee_reserve", 1_000_000)
	v.SetDefault("saga.confirm_attempts", 3)
	v.SetDefault("saga.submit_attempts", 3)
	v.SetDefault("saga.submit_delay", 2*time.Second)
	v.SetDefault("saga.materialize_attempts", 5)
	v.SetDefault("saga.materialize_delay", 3*time.Second)
	v.SetDefault("saga.quote_attempts", 4)
	v.SetDefault("saga.quote_base_delay", time.Second)
	v.SetDefault("saga.bridge_poll_interval", 5*time.Second)
	v.SetDefault("saga.bridge_timeout", 30*time.Minute)
	v.SetDefault("saga.inbound_haircut_bps", 50)
	v.SetDefault("saga.display_quote_interval", 15*time.Second)

	v.SetDefault("fees.fast_track_bps", 100)
	v.SetDefault("fees.estimated_bridge_fee", 5_000_000)

	v.SetDefault("store.driver", "file")
	v.SetDefault("log.level", "warn")
}

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".fundswap")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")

	SetDefaults(v)

	// FUNDSWAP_SOLANA_RPC_URL -> solana.rpc_url
	v.SetEnvPrefix("FUNDSWAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	// AutomaticEnv only answers Get for known keys, so bind the flat ones explicitly
	for _, key := range []string{
		"solana.private_key", "relay.url", "relay.api_key", "relay.private_key",
		"oneclick.jwt_token", "fees.address", "redis.addr", "redis.password", "store.dir",
	} {
		_ = v.BindEnv(key)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Store.Dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.Store.Dir = home + "/.fundswap/transfers"
	}
	return cfg, nil
}

// Validate checks what every transfer needs
func (c *Config) Validate() error {
	if c.OneClick.JWTToken == "" {
		return fmt.Errorf("JWT token not found. Please set FUNDSWAP_ONECLICK_JWT_TOKEN environment variable or create a .fundswap.yaml config file")
	}
	if c.Relay.URL == "" && c.Relay.PrivateKey == "" {
		return fmt.Errorf("relay not configured: set relay.url for a remote signer or relay.private_key for a local one")
	}
	if c.Fees.Address == "" {
		return fmt.Errorf("fees.address is required")
	}
	if c.Saga.InboundHaircutBps >= 10_000 {
		return fmt.Errorf("saga.inbound_haircut_bps must be below 10000")
	}
	return nil
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

// Set updates the global configuration
func Set(cfg *Config) {
	globalConfig = cfg
}
