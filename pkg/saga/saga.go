// Package saga drives one transfer through its steps: shield to the relay,
// unshield, optionally round-trip through a second chain, and refund when a
// step fails after custody left the relay's private balance.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"fundswap/pkg/client"
	"fundswap/pkg/deposit"
	"fundswap/pkg/ledger"
	"fundswap/pkg/relay"
	"fundswap/pkg/retry"
	"fundswap/pkg/store"
	"fundswap/pkg/types"
)

// QuoteProvider prices and tracks bridge movements
type QuoteProvider interface {
	GetQuote(ctx context.Context, params client.QuoteParams) (*client.Quote, error)
	Status(ctx context.Context, requestID string) (*client.StatusReport, error)
	SubmitDeposit(ctx context.Context, requestID, txHash string) error
}

// WalletSigner is the user's wallet. It signs the shield transaction and nothing else.
type WalletSigner interface {
	PublicKey() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// DepositorSource hands out the relay's second-chain signer
type DepositorSource interface {
	ForChain(ctx context.Context, chain string) (deposit.Depositor, error)
}

// Config tunes retries, polling and the anonymous route
type Config struct {
	FeeAddress        solana.PublicKey
	NetworkFeeReserve uint64
	ComputeUnits      uint32
	PriorityFee       uint64

	ConfirmAttempts     int
	SubmitAttempts      int
	SubmitDelay         time.Duration
	MaterializeAttempts int
	MaterializeDelay    time.Duration
	QuoteAttempts       int
	QuoteBaseDelay      time.Duration
	BridgePollInterval  time.Duration
	BridgeTimeout       time.Duration

	// InboundHaircutBps is taken off the outbound quote's output to size the
	// return leg. The settled second-chain balance is not observed.
	InboundHaircutBps uint64
	BridgeChain       types.Chain
	// Assets maps a chain to the bridge asset id of its native token
	Assets map[types.Chain]string
}

// DefaultConfig returns the production retry and polling schedule
func DefaultConfig() Config {
	return Config{
		NetworkFeeReserve:   1_000_000,
		ComputeUnits:        1_000_000,
		PriorityFee:         1_000,
		ConfirmAttempts:     3,
		SubmitAttempts:      3,
		SubmitDelay:         2 * time.Second,
		MaterializeAttempts: 5,
		MaterializeDelay:    3 * time.Second,
		QuoteAttempts:       4,
		QuoteBaseDelay:      time.Second,
		BridgePollInterval:  5 * time.Second,
		BridgeTimeout:       30 * time.Minute,
		InboundHaircutBps:   50,
		BridgeChain:         types.ChainBase,
		Assets: map[types.Chain]string{
			types.ChainSolana:   "nep141:sol.omft.near",
			types.ChainEthereum: "nep141:eth.omft.near",
			types.ChainBase:     "nep141:base.omft.near",
			types.ChainArbitrum: "nep141:arb.omft.near",
		},
	}
}

// Deps are the collaborators of a saga. Depositors is only needed for anonymous transfers.
type Deps struct {
	Ledger     ledger.Client
	Program    ledger.Program
	Quotes     QuoteProvider
	Relay      relay.Signer
	Locker     relay.Locker
	Depositors DepositorSource
	Wallet     WalletSigner
	Store      store.Store
	Observer   Observer
	Logger     *zap.Logger
	Now        func() time.Time
}

// Saga runs transfers. It holds no per-transfer state; everything lives in State.
type Saga struct {
	ledger     ledger.Client
	program    ledger.Program
	quotes     QuoteProvider
	relay      relay.Signer
	locker     relay.Locker
	depositors DepositorSource
	wallet     WalletSigner
	store      store.Store
	observer   Observer
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

// New validates deps and creates a saga
func New(deps Deps, cfg Config) (*Saga, error) {
	switch {
	case deps.Ledger == nil:
		return nil, errors.New("saga: ledger client is required")
	case deps.Quotes == nil:
		return nil, errors.New("saga: quote provider is required")
	case deps.Relay == nil:
		return nil, errors.New("saga: relay signer is required")
	case deps.Wallet == nil:
		return nil, errors.New("saga: wallet is required")
	case deps.Store == nil:
		return nil, errors.New("saga: state store is required")
	case deps.Program.ID.IsZero():
		return nil, errors.New("saga: compression program is required")
	case cfg.FeeAddress.IsZero():
		return nil, errors.New("saga: fee address is required")
	}

	s := &Saga{
		ledger:     deps.Ledger,
		program:    deps.Program,
		quotes:     deps.Quotes,
		relay:      deps.Relay,
		locker:     deps.Locker,
		depositors: deps.Depositors,
		wallet:     deps.Wallet,
		store:      deps.Store,
		observer:   deps.Observer,
		cfg:        cfg,
		logger:     deps.Logger,
		now:        deps.Now,
	}
	if s.locker == nil {
		s.locker = relay.NewLocalLocker()
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.logger = s.logger.Named("saga")
	return s, nil
}

type stepHandler func(ctx context.Context, st *State) (Step, error)

/*

	Idle
	 |
	 v
	ShieldPending ---------------------------------> Failed
	 |
	 v
	ShieldConfirmed (await relay records) ---------> Failed (continuation halted, resumable)
	 |
	 v
	RelayUnshieldPending --------------------------> Failed
	 |
	 v
	RelayUnshieldConfirmed   <- fast-track ends here
	 |
	 v
	OutboundBridgePending ---\
	 |                        |
	 v                        |
	OutboundBridgeConfirmed   |
	 |                        +--> refund --> RefundIssued
	 v                        |          \--> Failed (compensation failure)
	InboundQuotePending       |
	 |                        |
	 v                        |
	InboundBridgePending -----/
	 |
	 v
	Completed

*/

func (s *Saga) plan(st *State) (stepHandler, error) {
	switch st.Step {
	case StepIdle:
		return s.handleIdle, nil
	case StepShieldPending:
		return s.handleShield, nil
	case StepShieldConfirmed:
		return s.handleMaterialize, nil
	case StepRelayUnshieldPending:
		return s.handleUnshield, nil
	case StepRelayUnshieldConfirmed:
		return s.handleUnshielded, nil
	case StepOutboundBridgePending:
		return s.handleOutbound, nil
	case StepOutboundBridgeConfirmed:
		return s.handleOutboundSettled, nil
	case StepInboundQuotePending:
		return s.handleInboundQuote, nil
	case StepInboundBridgePending:
		return s.handleInbound, nil
	}
	return nil, fmt.Errorf("no handler for step %s in %s mode", st.Step, st.Request.Mode)
}

// Run drives st until it reaches an outcome. It returns an error only when ctx
// ends first; st is then left at its current step for a later Run.
func (s *Saga) Run(ctx context.Context, st *State) (*Outcome, error) {
	if st.Done() {
		return st.Outcome, nil
	}

	if st.CompensationPending {
		return s.compensate(ctx, st), nil
	}

	for !Terminal(st.Request.Mode, st.Step) {
		handler, err := s.plan(st)
		if err != nil {
			return s.fail(ctx, st, newError(KindTerminal, st.Step, err)), nil
		}

		next, err := handler(ctx, st)
		if err != nil {
			if ctx.Err() != nil {
				return nil, s.abandon(ctx, st, err)
			}
			return s.fail(ctx, st, err), nil
		}
		s.advance(ctx, st, next)
	}

	st.Outcome = succeeded(st.TxIDs.List())
	s.logger.Info("transfer succeeded",
		zap.String("transfer", st.ID),
		zap.Strings("tx_ids", st.Outcome.TxIDs))
	s.checkpoint(ctx, st)
	return st.Outcome, nil
}

func (s *Saga) advance(ctx context.Context, st *State, next Step) {
	s.logger.Debug("step",
		zap.String("transfer", st.ID),
		zap.Stringer("from", st.Step),
		zap.Stringer("to", next))

	st.Step = next
	if !next.inFlight() {
		st.LastSuccessfulStep = next
	}
	st.Status = statusText(next, st.Request)
	s.checkpoint(ctx, st)
	s.emit(st, nil)
}

// fail records err and either compensates or ends the transfer
func (s *Saga) fail(ctx context.Context, st *State, err error) *Outcome {
	st.LastError = recordError(err, st.Step, s.now())
	s.logger.Warn("step failed",
		zap.String("transfer", st.ID),
		zap.Stringer("step", st.Step),
		zap.Stringer("kind", st.LastError.Kind),
		zap.Error(err))

	// a halted step left a spend that may still land, so nothing is refunded
	if compensable(st.Step) && st.LastError.Kind != KindContinuationHalted {
		st.CompensationPending = true
		st.CompensationReason = userMessage(st.LastError)
		st.Status = refundText(st.Plan.Net)
		s.checkpoint(ctx, st)
		s.emit(st, err)
		return s.compensate(ctx, st)
	}

	reason := userMessage(st.LastError)
	st.Step = StepFailed
	st.Status = reason
	st.Outcome = failed(reason)
	s.checkpoint(ctx, st)
	s.emit(st, err)
	return st.Outcome
}

// compensate refunds the net amount to the source address. It runs once; a
// failed refund is reported and never retried. A refund held back by an
// unsettled relay spend stays pending for a later resume.
func (s *Saga) compensate(ctx context.Context, st *State) *Outcome {
	reason := st.CompensationReason
	if reason == "" {
		reason = userMessage(st.LastError)
	}

	sig, err := s.refund(ctx, st)
	held := errors.Is(err, errSpendInDoubt)
	st.CompensationPending = held
	if err != nil {
		st.LastError = recordError(newError(KindCompensationFailure, st.Step, err), st.Step, s.now())
		s.logger.Error("refund failed",
			zap.String("transfer", st.ID),
			zap.String("source", st.Request.SourceAddress),
			zap.Uint64("lamports", st.Plan.Net),
			zap.Bool("held", held),
			zap.Error(err))

		msg := userMessage(st.LastError)
		if held {
			msg = "refund held until an earlier relay transaction settles; resume the transfer later: " + st.LastError.Message
		}
		st.Step = StepFailed
		st.Status = msg
		st.Outcome = failed(msg)
		s.checkpoint(ctx, st)
		s.emit(st, err)
		return st.Outcome
	}

	s.logger.Info("refund issued",
		zap.String("transfer", st.ID),
		zap.String("refund_tx", sig),
		zap.String("reason", reason))

	st.TxIDs.Refund = sig
	st.Step = StepRefundIssued
	st.Status = statusText(StepRefundIssued, st.Request)
	st.Outcome = refundIssued(sig, reason)
	s.checkpoint(ctx, st)
	s.emit(st, nil)
	return st.Outcome
}

// abandon keeps st resumable after ctx ended mid-step
func (s *Saga) abandon(ctx context.Context, st *State, err error) error {
	st.LastError = recordError(err, st.Step, s.now())
	s.logger.Warn("transfer abandoned",
		zap.String("transfer", st.ID),
		zap.Stringer("step", st.Step),
		zap.Error(err))
	s.checkpoint(ctx, st)
	s.emit(st, err)
	return fmt.Errorf("transfer %s abandoned at %s: %w", st.ID, st.Step, ctx.Err())
}

// checkpoint persists st. Persistence errors are logged; they do not change the transfer's fate.
func (s *Saga) checkpoint(ctx context.Context, st *State) {
	st.UpdatedAt = s.now()
	if err := SaveState(context.WithoutCancel(ctx), s.store, st); err != nil {
		s.logger.Error("failed to checkpoint transfer",
			zap.String("transfer", st.ID),
			zap.Stringer("step", st.Step),
			zap.Error(err))
	}
}

func (s *Saga) emit(st *State, err error) {
	index, total := Progress(st.Request.Mode, st.Step, st.LastSuccessfulStep)
	s.observer.OnEvent(Event{
		TransferID:         st.ID,
		Step:               st.Step,
		LastSuccessfulStep: st.LastSuccessfulStep,
		Index:              index,
		Total:              total,
		Status:             st.Status,
		Err:                err,
	})
}

// notify reports progress within a step without changing it
func (s *Saga) notify(st *State, status string, err error) {
	prev := st.Status
	st.Status = status
	s.emit(st, err)
	st.Status = prev
}

// ledgerPolicy is the fixed-delay retry used around ledger submissions
func (s *Saga) ledgerPolicy(st *State, attempts int, what string) retry.Policy {
	return retry.Policy{
		MaxAttempts: attempts,
		Delay:       retry.Fixed(s.cfg.SubmitDelay),
		Retryable:   retryable,
		OnRetry:     s.onRetry(st, attempts, what),
	}
}

// apiPolicy is the exponential retry used around bridge API calls
func (s *Saga) apiPolicy(st *State, what string) retry.Policy {
	return retry.Policy{
		MaxAttempts: s.cfg.QuoteAttempts,
		Delay:       retry.Exponential(s.cfg.QuoteBaseDelay, 0),
		Retryable:   retryable,
		OnRetry:     s.onRetry(st, s.cfg.QuoteAttempts, what),
	}
}

func (s *Saga) onRetry(st *State, attempts int, what string) func(int, error, time.Duration) {
	return func(attempt int, err error, wait time.Duration) {
		s.logger.Info("retrying",
			zap.String("transfer", st.ID),
			zap.String("operation", what),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("wait", wait),
			zap.Error(err))
		s.notify(st, fmt.Sprintf("%s failed (attempt %d/%d), retrying", what, attempt, attempts), err)
	}
}

func (s *Saga) relayKey(st *State) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(st.RelayAddress)
	if err != nil {
		return solana.PublicKey{}, newError(KindValidation, st.Step, fmt.Errorf("invalid relay address %q: %w", st.RelayAddress, err))
	}
	return pk, nil
}

func (s *Saga) withRelayLock(ctx context.Context, st *State, fn func(ctx context.Context) error) error {
	return s.locker.WithLock(ctx, relay.SpendLockKey(st.RelayAddress), fn)
}

func (s *Saga) asset(step Step, chain types.Chain) (string, error) {
	id, ok := s.cfg.Assets[chain]
	if !ok || id == "" {
		return "", newError(KindValidation, step, fmt.Errorf("no bridge asset configured for %s", chain))
	}
	return id, nil
}
