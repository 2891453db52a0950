package cmd

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fundswap/config"
	"fundswap/pkg/client"
	"fundswap/pkg/deposit"
	"fundswap/pkg/fee"
	"fundswap/pkg/ledger"
	"fundswap/pkg/relay"
	"fundswap/pkg/saga"
	"fundswap/pkg/store"
	"fundswap/pkg/types"
	"fundswap/pkg/wallet"
)

// app is everything a transfer command needs, built from configuration
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	ledger  *ledger.RPC
	quotes  *client.OneClickClient
	fees    *fee.Model
	wallet  *wallet.Keypair
	saga    *saga.Saga
	manager *saga.Manager

	closers []func()
}

func newApp(cfg *config.Config, logger *zap.Logger, observer saga.Observer) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var err error
	a.ledger, err = ledger.NewRPC(ledger.RPCConfig{
		Endpoint:        cfg.Solana.RPCUrl,
		IndexerEndpoint: cfg.Compression.IndexerURL,
		Commitment:      rpc.CommitmentType(cfg.Solana.Commitment),
		PollInterval:    cfg.Solana.PollInterval,
	}, logger)
	if err != nil {
		return nil, err
	}

	a.quotes = newQuoteClient(cfg, logger)

	a.wallet, err = wallet.Load(cfg.Solana.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("wallet: %w", err)
	}

	program, err := compressionProgram(cfg)
	if err != nil {
		return nil, err
	}

	depositors := deposit.NewManager(cfg.EVM, logger)
	a.closers = append(a.closers, depositors.Close)

	signer, err := relaySigner(cfg, program, depositors, logger)
	if err != nil {
		return nil, err
	}

	st, rdb, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	var locker relay.Locker = relay.NewLocalLocker()
	if rdb != nil {
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		locker = relay.NewRedisLocker(rdb, relay.DefaultLockOptions(), logger)
	}

	sagaCfg, err := sagaConfig(cfg)
	if err != nil {
		return nil, err
	}

	a.fees, err = fee.NewModel(cfg.Fees.FastTrackBps, cfg.Fees.EstimatedBridgeFee)
	if err != nil {
		return nil, err
	}

	a.saga, err = saga.New(saga.Deps{
		Ledger:     a.ledger,
		Program:    program,
		Quotes:     a.quotes,
		Relay:      signer,
		Locker:     locker,
		Depositors: depositors,
		Wallet:     a.wallet,
		Store:      st,
		Observer:   observer,
		Logger:     logger,
	}, sagaCfg)
	if err != nil {
		return nil, err
	}
	a.manager = saga.NewManager(a.saga, a.fees, logger)

	ok = true
	return a, nil
}

// Close releases network connections in reverse order of creation
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newQuoteClient(cfg *config.Config, logger *zap.Logger) *client.OneClickClient {
	return client.NewOneClickClient(client.Config{
		JWTToken: cfg.OneClick.JWTToken,
		BaseURL:  cfg.OneClick.BaseURL,
		QuoteTTL: cfg.OneClick.QuoteTTL,
	}, logger)
}

func compressionProgram(cfg *config.Config) (ledger.Program, error) {
	id, err := solana.PublicKeyFromBase58(cfg.Compression.ProgramID)
	if err != nil {
		return ledger.Program{}, fmt.Errorf("compression.program_id: %w", err)
	}
	tree, err := solana.PublicKeyFromBase58(cfg.Compression.StateTree)
	if err != nil {
		return ledger.Program{}, fmt.Errorf("compression.state_tree: %w", err)
	}
	return ledger.Program{ID: id, StateTree: tree}, nil
}

// relaySigner talks to the remote signing endpoint when relay.url is set,
// otherwise it signs in process with relay.private_key
func relaySigner(cfg *config.Config, program ledger.Program, depositors *deposit.Manager, logger *zap.Logger) (relay.Signer, error) {
	if cfg.Relay.URL != "" {
		return relay.NewClient(cfg.Relay.URL, cfg.Relay.APIKey, 0), nil
	}

	kp, err := wallet.Load(cfg.Relay.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("relay key: %w", err)
	}

	evmAddress := ""
	if depositors.IsEnabledForChain(cfg.Saga.BridgeChain) {
		evmAddress, err = depositors.RelayAddress(cfg.Saga.BridgeChain)
		if err != nil {
			return nil, err
		}
	}
	return relay.NewLocalSigner(kp, evmAddress, relay.DefaultAllowedPrograms(program.ID), logger), nil
}

// openStore opens the configured state store. The Redis client is returned
// when one was created so it can back the relay lock too.
func openStore(cfg *config.Config) (store.Store, redis.UniversalClient, error) {
	var rdb redis.UniversalClient
	if cfg.Redis.Addr != "" {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	switch cfg.Store.Driver {
	case "", "file":
		st, err := store.NewFileStore(cfg.Store.Dir)
		if err != nil {
			return nil, nil, err
		}
		return st, rdb, nil
	case "redis":
		if rdb == nil {
			return nil, nil, fmt.Errorf("store.driver is redis but redis.addr is not set")
		}
		return store.NewRedisStore(rdb), rdb, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q (expected file or redis)", cfg.Store.Driver)
	}
}

func sagaConfig(cfg *config.Config) (saga.Config, error) {
	out := saga.DefaultConfig()

	feeAddress, err := solana.PublicKeyFromBase58(cfg.Fees.Address)
	if err != nil {
		return out, fmt.Errorf("fees.address: %w", err)
	}
	out.FeeAddress = feeAddress

	bridge, err := types.ParseChain(cfg.Saga.BridgeChain)
	if err != nil {
		return out, fmt.Errorf("saga.bridge_chain: %w", err)
	}
	if !bridge.IsEVM() {
		return out, fmt.Errorf("saga.bridge_chain must be an EVM chain, got %s", bridge)
	}
	out.BridgeChain = bridge

	for name, asset := range cfg.OneClick.Assets {
		chain, err := types.ParseChain(name)
		if err != nil {
			return out, fmt.Errorf("oneclick.assets: %w", err)
		}
		out.Assets[chain] = asset
	}

	out.NetworkFeeReserve = cfg.Saga.NetworkFeeReserve
	out.ComputeUnits = cfg.Compression.ComputeUnits
	out.PriorityFee = cfg.Compression.PriorityFee
	out.InboundHaircutBps = cfg.Saga.InboundHaircutBps

	setInt(&out.ConfirmAttempts, cfg.Saga.ConfirmAttempts)
	setInt(&out.SubmitAttempts, cfg.Saga.SubmitAttempts)
	setInt(&out.MaterializeAttempts, cfg.Saga.MaterializeAttempts)
	setInt(&out.QuoteAttempts, cfg.Saga.QuoteAttempts)
	setDuration(&out.SubmitDelay, cfg.Saga.SubmitDelay)
	setDuration(&out.MaterializeDelay, cfg.Saga.MaterializeDelay)
	setDuration(&out.QuoteBaseDelay, cfg.Saga.QuoteBaseDelay)
	setDuration(&out.BridgePollInterval, cfg.Saga.BridgePollInterval)
	setDuration(&out.BridgeTimeout, cfg.Saga.BridgeTimeout)
	return out, nil
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}
