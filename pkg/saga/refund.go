package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"go.uber.org/zap"

	"fundswap/pkg/ledger"
)

// refund returns the pre-bridge net amount from the relay's public balance to
// the original sender. A refund recorded by an earlier run is only confirmed,
// never sent again.
func (s *Saga) refund(ctx context.Context, st *State) (string, error) {
	relayPK, err := s.relayKey(st)
	if err != nil {
		return "", err
	}
	source, err := solana.PublicKeyFromBase58(st.Request.SourceAddress)
	if err != nil {
		return "", fmt.Errorf("invalid source address: %w", err)
	}

	var sig string
	err = s.withRelayLock(ctx, st, func(ctx context.Context) error {
		if p := st.Pending; p != nil && p.Step != StepRefundIssued {
			// an earlier spend of the same funds must settle before a second one exists
			landed, ok, err := s.settlePending(ctx, st, p.Step)
			if err != nil {
				return fmt.Errorf("%w: %s transaction %s: %v", errSpendInDoubt, p.Step, p.Signature, err)
			}
			if ok {
				s.recordLanded(ctx, st, p.Step, landed)
			}
		}

		if p := st.Pending; p != nil && p.Step == StepRefundIssued {
			landed, ok, err := s.settlePending(ctx, st, StepRefundIssued)
			if err != nil {
				return fmt.Errorf("%w: refund transaction %s: %v", errSpendInDoubt, p.Signature, err)
			}
			if !ok {
				return errors.New("an earlier refund attempt did not land")
			}
			sig = landed
			return nil
		}

		s.notify(st, refundText(st.Plan.Net), nil)
		sig, err = s.relaySpend(ctx, st, StepRefundIssued, func(ledger.BlockRef) ([]solana.Instruction, error) {
			return []solana.Instruction{
				system.NewTransferInstruction(st.Plan.Net, relayPK, source).Build(),
			}, nil
		})
		if err != nil && st.Pending != nil {
			return fmt.Errorf("%w: %w", errSpendInDoubt, err)
		}
		return err
	})
	return sig, err
}

// recordLanded keeps the id of a relay spend that was found on chain late
func (s *Saga) recordLanded(ctx context.Context, st *State, step Step, sig string) {
	switch step {
	case StepRelayUnshieldPending:
		st.TxIDs.Unshield = sig
	case StepOutboundBridgePending:
		st.TxIDs.Outbound = sig
	}
	s.logger.Warn("earlier relay transaction landed",
		zap.String("transfer", st.ID),
		zap.Stringer("step", step),
		zap.String("signature", sig))
	s.checkpoint(ctx, st)
}
