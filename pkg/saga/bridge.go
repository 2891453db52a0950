package saga

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"fundswap/pkg/client"
	"fundswap/pkg/deposit"
	"fundswap/pkg/ledger"
	"fundswap/pkg/retry"
	"fundswap/pkg/types"
)

// InboundAmount sizes the return leg: floor(amountOut * (10000 - haircutBps) / 10000)
func InboundAmount(amountOut *big.Int, haircutBps uint64) *big.Int {
	if amountOut == nil || haircutBps >= 10_000 {
		return new(big.Int)
	}
	v := new(big.Int).Mul(amountOut, new(big.Int).SetUint64(10_000-haircutBps))
	return v.Quo(v, big.NewInt(10_000))
}

func (s *Saga) bridgeDepositor(ctx context.Context, st *State) (deposit.Depositor, error) {
	if s.depositors == nil {
		return nil, newError(KindValidation, st.Step, errors.New("no second-chain signer configured"))
	}
	d, err := s.depositors.ForChain(ctx, string(s.cfg.BridgeChain))
	if err != nil {
		return nil, newError(KindValidation, st.Step, err)
	}
	return d, nil
}

// handleOutbound moves the unshielded funds from the relay into the bridge and
// waits for the provider to settle them on the bridge chain
func (s *Saga) handleOutbound(ctx context.Context, st *State) (Step, error) {
	relayPK, err := s.relayKey(st)
	if err != nil {
		return 0, err
	}

	if st.RelayEVMAddress == "" {
		d, err := s.bridgeDepositor(ctx, st)
		if err != nil {
			return 0, err
		}
		st.RelayEVMAddress = d.Address()
	}

	if !st.OutboundDeposited {
		if err := s.depositOutbound(ctx, st, relayPK); err != nil {
			return 0, err
		}

		// the provider also detects deposits by itself
		if err := s.quotes.SubmitDeposit(ctx, st.OutboundQuote.RequestID, st.TxIDs.Outbound); err != nil {
			s.logger.Warn("failed to notify bridge of deposit",
				zap.String("transfer", st.ID),
				zap.String("request_id", st.OutboundQuote.RequestID),
				zap.Error(err))
		}
		st.OutboundDeposited = true
		s.checkpoint(ctx, st)
	}

	if err := s.awaitBridge(ctx, st, st.OutboundQuote); err != nil {
		return 0, err
	}
	return StepOutboundBridgeConfirmed, nil
}

func (s *Saga) depositOutbound(ctx context.Context, st *State, relayPK solana.PublicKey) error {
	return s.withRelayLock(ctx, st, func(ctx context.Context) error {
		return retry.Do(ctx, s.ledgerPolicy(st, s.cfg.SubmitAttempts, "outbound bridge deposit"), func(ctx context.Context, _ int) error {
			sig, landed, err := s.settlePending(ctx, st, StepOutboundBridgePending)
			if err != nil {
				return err
			}
			if landed {
				st.TxIDs.Outbound = sig
				return nil
			}

			q, err := s.outboundQuote(ctx, st)
			if err != nil {
				return err
			}

			sig, err = s.relaySpend(ctx, st, StepOutboundBridgePending, func(ledger.BlockRef) ([]solana.Instruction, error) {
				if q.Stale(s.now()) {
					return nil, fmt.Errorf("%w: %s", errStaleQuote, q.RequestID)
				}
				return q.Instructions(relayPK)
			})
			if err != nil {
				if KindOf(err) == KindStaleQuote {
					// quotes are single-use; the next attempt fetches a new one
					st.OutboundQuote = nil
				}
				return err
			}

			st.TxIDs.Outbound = sig
			s.logger.Info("outbound deposit landed",
				zap.String("transfer", st.ID),
				zap.String("signature", sig),
				zap.String("deposit_address", q.DepositAddress),
				zap.String("amount_in", q.AmountIn.String()))
			return nil
		})
	})
}

// outboundQuote returns the recorded quote while it is fresh, otherwise a new one
func (s *Saga) outboundQuote(ctx context.Context, st *State) (*client.Quote, error) {
	if q := st.OutboundQuote; q != nil && !q.Stale(s.now()) {
		return q, nil
	}

	origin, err := s.asset(st.Step, types.ChainSolana)
	if err != nil {
		return nil, err
	}
	dest, err := s.asset(st.Step, s.cfg.BridgeChain)
	if err != nil {
		return nil, err
	}

	q, err := s.fetchQuote(ctx, st, "outbound quote", client.QuoteParams{
		OriginAsset:      origin,
		DestinationAsset: dest,
		Amount:           new(big.Int).SetUint64(st.Plan.Net),
		Recipient:        st.RelayEVMAddress,
		RefundTo:         st.RelayAddress,
	})
	if err != nil {
		return nil, err
	}
	st.OutboundQuote = q
	s.checkpoint(ctx, st)
	return q, nil
}

func (s *Saga) fetchQuote(ctx context.Context, st *State, what string, params client.QuoteParams) (*client.Quote, error) {
	q, err := retry.DoValue(ctx, s.apiPolicy(st, what), func(ctx context.Context, _ int) (*client.Quote, error) {
		return s.quotes.GetQuote(ctx, params)
	})
	if err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, newError(KindValidation, st.Step, err)
	}

	s.logger.Info("quote received",
		zap.String("transfer", st.ID),
		zap.String("operation", what),
		zap.String("request_id", q.RequestID),
		zap.String("amount_in", q.AmountIn.String()),
		zap.String("amount_out", q.AmountOut.String()),
		zap.Time("expires_at", q.ExpiresAt()))
	return q, nil
}

// awaitBridge polls the provider until q's request completes, fails or times out
func (s *Saga) awaitBridge(ctx context.Context, st *State, q *client.Quote) error {
	if q == nil {
		return newError(KindTerminal, st.Step, errors.New("no quote recorded for the bridge request"))
	}

	attempts := 1
	if s.cfg.BridgePollInterval > 0 {
		attempts += int(s.cfg.BridgeTimeout / s.cfg.BridgePollInterval)
	}
	policy := retry.Policy{
		MaxAttempts: attempts,
		Delay:       retry.Fixed(s.cfg.BridgePollInterval),
		Retryable:   retryable,
	}

	err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		report, err := s.quotes.Status(ctx, q.RequestID)
		if err != nil {
			return err
		}
		switch report.Status {
		case client.BridgeCompleted:
			s.logger.Info("bridge settled",
				zap.String("transfer", st.ID),
				zap.String("request_id", q.RequestID),
				zap.String("amount_out", report.AmountOutFormatted),
				zap.Strings("destination_txs", report.DestinationTxHashes))
			return nil
		case client.BridgeFailed:
			return newError(KindTerminal, st.Step, fmt.Errorf("bridge request %s ended with status %s", q.RequestID, report.Raw))
		default:
			return errBridgePending
		}
	})
	if errors.Is(err, errBridgePending) {
		return newError(KindTerminal, st.Step, fmt.Errorf("bridge request %s did not settle within %s", q.RequestID, s.cfg.BridgeTimeout))
	}
	return err
}

// handleOutboundSettled records the bridge-chain arrival
func (s *Saga) handleOutboundSettled(_ context.Context, st *State) (Step, error) {
	if st.OutboundQuote == nil {
		return 0, newError(KindTerminal, st.Step, errors.New("no outbound quote recorded"))
	}
	return StepInboundQuotePending, nil
}

// handleInboundQuote prices the return leg off the outbound quote's output
func (s *Saga) handleInboundQuote(ctx context.Context, st *State) (Step, error) {
	if st.OutboundQuote == nil {
		return 0, newError(KindTerminal, st.Step, errors.New("no outbound quote recorded"))
	}

	st.InboundAmount = nil
	q, err := s.inboundQuote(ctx, st)
	if err != nil {
		return 0, err
	}
	st.InboundQuote = q
	return StepInboundBridgePending, nil
}

func (s *Saga) inboundQuote(ctx context.Context, st *State) (*client.Quote, error) {
	if st.InboundAmount == nil {
		if st.OutboundQuote == nil {
			return nil, newError(KindTerminal, st.Step, errors.New("no outbound quote recorded"))
		}
		st.InboundAmount = InboundAmount(st.OutboundQuote.AmountOut, s.cfg.InboundHaircutBps)
	}
	if st.InboundAmount.Sign() <= 0 {
		return nil, newError(KindValidation, st.Step, errors.New("return amount rounds to zero"))
	}

	origin, err := s.asset(st.Step, s.cfg.BridgeChain)
	if err != nil {
		return nil, err
	}
	dest, err := s.asset(st.Step, st.Request.DestinationChain)
	if err != nil {
		return nil, err
	}

	return s.fetchQuote(ctx, st, "return quote", client.QuoteParams{
		OriginAsset:      origin,
		DestinationAsset: dest,
		Amount:           new(big.Int).Set(st.InboundAmount),
		Recipient:        st.Request.DestinationAddress,
		RefundTo:         st.RelayEVMAddress,
	})
}

// handleInbound sends the return deposit with the relay's second-chain key.
// The relay's Solana signer plays no part in this leg.
func (s *Saga) handleInbound(ctx context.Context, st *State) (Step, error) {
	d, err := s.bridgeDepositor(ctx, st)
	if err != nil {
		return 0, err
	}

	if st.InboundDeposit == nil {
		if st.InboundQuote.Stale(s.now()) {
			q, err := s.inboundQuote(ctx, st)
			if err != nil {
				return 0, err
			}
			st.InboundQuote = q
			s.checkpoint(ctx, st)
		}

		signed, err := d.SignDeposit(ctx, st.InboundQuote.DepositAddress, st.InboundQuote.AmountIn)
		if err != nil {
			return 0, err
		}
		st.InboundDeposit = signed
		st.TxIDs.Inbound = signed.Hash
		s.checkpoint(ctx, st)
	}

	if !st.InboundBroadcast {
		if err := s.broadcastInbound(ctx, st, d); err != nil {
			return 0, err
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.BridgeTimeout)
	defer cancel()
	if err := d.WaitMined(waitCtx, st.TxIDs.Inbound); err != nil {
		if errors.Is(err, deposit.ErrReverted) || ctx.Err() != nil {
			return 0, err
		}
		return 0, inboundInDoubt(st, fmt.Errorf("not mined within %s: %w", s.cfg.BridgeTimeout, err))
	}

	if err := s.quotes.SubmitDeposit(ctx, st.InboundQuote.RequestID, st.TxIDs.Inbound); err != nil {
		s.logger.Warn("failed to notify bridge of deposit",
			zap.String("transfer", st.ID),
			zap.String("request_id", st.InboundQuote.RequestID),
			zap.Error(err))
	}

	if err := s.awaitBridge(ctx, st, st.InboundQuote); err != nil {
		return 0, err
	}
	return StepCompleted, nil
}

// broadcastInbound sends the recorded deposit unless it is already mined.
// A failed broadcast may still have reached the network, so it halts the
// transfer instead of failing it.
func (s *Saga) broadcastInbound(ctx context.Context, st *State, d deposit.Depositor) error {
	mined, err := d.Mined(ctx, st.InboundDeposit.Hash)
	if err != nil {
		if errors.Is(err, deposit.ErrReverted) || ctx.Err() != nil {
			return err
		}
		return inboundInDoubt(st, err)
	}

	if !mined {
		if err := d.Broadcast(ctx, st.InboundDeposit); err != nil {
			if ctx.Err() != nil {
				return err
			}
			s.logger.Warn("return deposit broadcast failed",
				zap.String("transfer", st.ID),
				zap.String("tx_hash", st.InboundDeposit.Hash),
				zap.Error(err))
			return inboundInDoubt(st, err)
		}
	}

	st.InboundBroadcast = true
	s.checkpoint(ctx, st)
	return nil
}

func inboundInDoubt(st *State, err error) error {
	return newError(KindContinuationHalted, StepInboundBridgePending,
		fmt.Errorf("return deposit %s may still be mined: %w", st.InboundDeposit.Hash, err))
}
