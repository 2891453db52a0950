package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"fundswap/pkg/ledger"
	"fundswap/pkg/relay"
	"fundswap/pkg/retry"
	"fundswap/pkg/types"
)

// handleMaterialize waits for the shielded deposit to show up in the relay's records
func (s *Saga) handleMaterialize(ctx context.Context, st *State) (Step, error) {
	relayPK, err := s.relayKey(st)
	if err != nil {
		return 0, err
	}

	policy := retry.Policy{
		MaxAttempts: s.cfg.MaterializeAttempts,
		Delay:       retry.Fixed(s.cfg.MaterializeDelay),
		Retryable: func(err error) bool {
			return errors.Is(err, errNotMaterialized) || retryable(err)
		},
		OnRetry: s.onRetry(st, s.cfg.MaterializeAttempts, "relay balance check"),
	}
	records, err := retry.DoValue(ctx, policy, func(ctx context.Context, _ int) (ledger.RecordSet, error) {
		set, err := s.ledger.OwnedRecords(ctx, relayPK)
		if err != nil {
			return nil, err
		}
		if len(set) == 0 {
			return nil, errNotMaterialized
		}
		return set, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, err
		}
		return 0, newError(KindContinuationHalted, StepShieldConfirmed,
			fmt.Errorf("relay records not visible after %d checks: %w", s.cfg.MaterializeAttempts, err))
	}

	s.logger.Info("relay records materialized",
		zap.String("transfer", st.ID),
		zap.Int("records", len(records)),
		zap.Uint64("lamports", records.Total()))
	return StepRelayUnshieldPending, nil
}

// handleUnshield has the relay decompress the net amount. Fast-track sends it to
// the destination; anonymous transfers land it on the relay's own public address.
func (s *Saga) handleUnshield(ctx context.Context, st *State) (Step, error) {
	relayPK, err := s.relayKey(st)
	if err != nil {
		return 0, err
	}

	target := relayPK
	if st.Request.Mode == types.FastTrack {
		target, err = solana.PublicKeyFromBase58(st.Request.DestinationAddress)
		if err != nil {
			return 0, newError(KindValidation, StepRelayUnshieldPending, fmt.Errorf("invalid destination: %w", err))
		}
	}

	err = s.withRelayLock(ctx, st, func(ctx context.Context) error {
		return retry.Do(ctx, s.ledgerPolicy(st, s.cfg.SubmitAttempts, "unshield"), func(ctx context.Context, _ int) error {
			sig, landed, err := s.settlePending(ctx, st, StepRelayUnshieldPending)
			if err != nil {
				return err
			}
			if landed {
				st.TxIDs.Unshield = sig
				return nil
			}

			records, err := s.ledger.OwnedRecords(ctx, relayPK)
			if err != nil {
				return err
			}
			cover, err := ledger.SelectMinimalCover(records, st.Plan.Net)
			if err != nil {
				return newError(KindLedgerIntegrity, StepRelayUnshieldPending, err)
			}
			proof, err := s.ledger.SpendProof(ctx, cover.Hashes())
			if err != nil {
				return err
			}

			sig, err = s.relaySpend(ctx, st, StepRelayUnshieldPending, func(ledger.BlockRef) ([]solana.Instruction, error) {
				decompress, err := s.program.Decompress(relayPK, target, st.Plan.Net, cover, proof)
				if err != nil {
					return nil, err
				}
				return append(ledger.ComputeBudget(s.cfg.ComputeUnits, s.cfg.PriorityFee), decompress), nil
			})
			if err != nil {
				return err
			}
			st.TxIDs.Unshield = sig
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("unshield confirmed",
		zap.String("transfer", st.ID),
		zap.String("signature", st.TxIDs.Unshield),
		zap.Stringer("target", target))
	return StepRelayUnshieldConfirmed, nil
}

// handleUnshielded moves an anonymous transfer on to the bridge
func (s *Saga) handleUnshielded(_ context.Context, st *State) (Step, error) {
	if st.Request.Mode != types.Anonymous {
		return 0, newError(KindTerminal, st.Step, fmt.Errorf("%s transfers end at %s", st.Request.Mode, st.Step))
	}
	return StepOutboundBridgePending, nil
}

// relaySpend builds instructions against a fresh block reference, has the relay
// sign them, then submits and waits for the transaction to land. st.Pending
// keeps the signature while the outcome is ambiguous.
func (s *Saga) relaySpend(ctx context.Context, st *State, step Step, build func(ref ledger.BlockRef) ([]solana.Instruction, error)) (string, error) {
	ref, err := s.ledger.LatestBlockRef(ctx)
	if err != nil {
		return "", err
	}

	ixs, err := build(ref)
	if err != nil {
		return "", err
	}
	req, err := relay.NewSignRequest(ixs, ref)
	if err != nil {
		return "", newError(KindValidation, step, err)
	}
	resp, err := s.relay.Sign(ctx, req)
	if err != nil {
		return "", err
	}
	sig, err := solana.SignatureFromBase58(resp.Signature)
	if err != nil {
		return "", newError(KindValidation, step, fmt.Errorf("relay returned invalid signature %q: %w", resp.Signature, err))
	}

	st.Pending = &PendingTx{Step: step, Signature: sig, BlockRef: ref}
	s.checkpoint(ctx, st)

	if _, err := s.ledger.Submit(ctx, resp.Transaction); err != nil {
		// only a transport failure leaves doubt about whether the node took it
		if !errors.Is(err, ledger.ErrUnavailable) {
			st.Pending = nil
		}
		return "", err
	}

	if err := s.confirmLanded(ctx, sig, ref); err != nil {
		if errors.Is(err, ledger.ErrBlockRefExpired) || errors.Is(err, ledger.ErrTxFailed) {
			st.Pending = nil
		}
		return "", err
	}

	st.Pending = nil
	return sig.String(), nil
}

// settlePending resolves a transaction recorded for step by an earlier attempt
// or run. landed is true when it made it on chain. A pending transaction that
// can no longer land is dropped so the caller can build a fresh one.
func (s *Saga) settlePending(ctx context.Context, st *State, step Step) (sig string, landed bool, err error) {
	p := st.Pending
	if p == nil || p.Step != step {
		return "", false, nil
	}

	err = s.confirmLanded(ctx, p.Signature, p.BlockRef)
	switch {
	case err == nil:
		st.Pending = nil
		s.checkpoint(ctx, st)
		return p.Signature.String(), true, nil
	case errors.Is(err, ledger.ErrBlockRefExpired), errors.Is(err, ledger.ErrTxFailed):
		s.logger.Info("dropping pending transaction",
			zap.String("transfer", st.ID),
			zap.Stringer("signature", p.Signature),
			zap.Error(err))
		st.Pending = nil
		s.checkpoint(ctx, st)
		return "", false, nil
	default:
		return "", false, err
	}
}
