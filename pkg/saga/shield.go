package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"go.uber.org/zap"

	"fundswap/pkg/fee"
	"fundswap/pkg/ledger"
	"fundswap/pkg/retry"
)

// handleIdle checks the user's balance before anything is built
func (s *Saga) handleIdle(ctx context.Context, st *State) (Step, error) {
	user := s.wallet.PublicKey()
	if st.Request.SourceAddress != user.String() {
		return 0, newError(KindValidation, StepIdle,
			fmt.Errorf("wallet %s does not own source address %s", user, st.Request.SourceAddress))
	}

	balance, err := retry.DoValue(ctx, s.ledgerPolicy(st, s.cfg.SubmitAttempts, "balance check"),
		func(ctx context.Context, _ int) (uint64, error) {
			return s.ledger.Balance(ctx, user)
		})
	if err != nil {
		return 0, err
	}

	reserve := s.cfg.NetworkFeeReserve
	if balance < reserve || st.Plan.Amount > balance-reserve {
		return 0, newError(KindInsufficientBalance, StepIdle, fmt.Errorf("need %s SOL plus a %s SOL network fee reserve, have %s SOL",
			fee.FormatLamports(st.Plan.Amount), fee.FormatLamports(reserve), fee.FormatLamports(balance)))
	}
	return StepShieldPending, nil
}

// handleShield submits the one user-signed transaction and waits for it to land
func (s *Saga) handleShield(ctx context.Context, st *State) (Step, error) {
	if st.Pending == nil || st.Pending.Step != StepShieldPending {
		if err := s.submitShield(ctx, st); err != nil {
			return 0, err
		}
	}
	pending := *st.Pending

	err := retry.Do(ctx, s.ledgerPolicy(st, s.cfg.ConfirmAttempts, "shield confirmation"),
		func(ctx context.Context, _ int) error {
			ref, err := s.ledger.LatestBlockRef(ctx)
			if err != nil {
				return err
			}
			return s.confirmLanded(ctx, pending.Signature, ref)
		})
	if err != nil {
		return 0, err
	}

	st.TxIDs.Shield = pending.Signature.String()
	st.Pending = nil
	s.logger.Info("shield confirmed",
		zap.String("transfer", st.ID),
		zap.String("signature", st.TxIDs.Shield),
		zap.Uint64("fee", st.Plan.Fee),
		zap.Uint64("net", st.Plan.Net))
	return StepShieldConfirmed, nil
}

func (s *Saga) submitShield(ctx context.Context, st *State) error {
	relayPK, err := s.relayKey(st)
	if err != nil {
		return err
	}
	user := s.wallet.PublicKey()

	ref, err := retry.DoValue(ctx, s.ledgerPolicy(st, s.cfg.SubmitAttempts, "block reference"),
		func(ctx context.Context, _ int) (ledger.BlockRef, error) {
			return s.ledger.LatestBlockRef(ctx)
		})
	if err != nil {
		return err
	}

	ixs := ledger.ComputeBudget(s.cfg.ComputeUnits, s.cfg.PriorityFee)
	if st.Plan.Fee > 0 {
		ixs = append(ixs, system.NewTransferInstruction(st.Plan.Fee, user, s.cfg.FeeAddress).Build())
	}
	compress, err := s.program.Compress(user, relayPK, st.Plan.Net)
	if err != nil {
		return newError(KindValidation, StepShieldPending, err)
	}
	ixs = append(ixs, compress)

	tx, err := ledger.NewTransaction(ixs, ref, user)
	if err != nil {
		return newError(KindValidation, StepShieldPending, err)
	}
	if err := s.wallet.SignTransaction(ctx, tx); err != nil {
		return newError(KindTerminal, StepShieldPending, fmt.Errorf("wallet did not sign: %w", err))
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return newError(KindTerminal, StepShieldPending, fmt.Errorf("failed to serialize transaction: %w", err))
	}
	sig := tx.Signatures[0]

	st.Pending = &PendingTx{Step: StepShieldPending, Signature: sig, BlockRef: ref}
	s.checkpoint(ctx, st)

	// resending the same signed bytes cannot double-spend
	policy := s.ledgerPolicy(st, s.cfg.SubmitAttempts, "shield submission")
	policy.Retryable = func(err error) bool { return KindOf(err) == KindTransientNetwork }
	_, err = retry.DoValue(ctx, policy, func(ctx context.Context, _ int) (solana.Signature, error) {
		return s.ledger.Submit(ctx, raw)
	})
	if err != nil {
		if !errors.Is(err, ledger.ErrUnavailable) {
			st.Pending = nil
		}
		return err
	}

	s.logger.Info("shield submitted",
		zap.String("transfer", st.ID),
		zap.Stringer("signature", sig),
		zap.Stringer("relay", relayPK))
	return nil
}

// confirmLanded trusts a transaction only once it is confirmed and its record can be fetched
func (s *Saga) confirmLanded(ctx context.Context, sig solana.Signature, ref ledger.BlockRef) error {
	if err := s.ledger.Confirm(ctx, sig, ref); err != nil {
		return err
	}
	tx, err := s.ledger.FetchConfirmedTx(ctx, sig)
	if err != nil {
		return err
	}
	if tx == nil {
		return fmt.Errorf("%w: %s", errMissingRecord, sig)
	}
	return nil
}
