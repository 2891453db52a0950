package relay

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"fundswap/pkg/ledger"
	"fundswap/pkg/wallet"
)

// DefaultAllowedPrograms are the programs the relay signs for
func DefaultAllowedPrograms(compression solana.PublicKey) []solana.PublicKey {
	return []solana.PublicKey{
		solana.SystemProgramID,
		solana.MemoProgramID,
		solana.ComputeBudget,
		compression,
	}
}

// LocalSigner signs with a relay keypair held by this process
type LocalSigner struct {
	keypair    *wallet.Keypair
	evmAddress string
	allowed    map[solana.PublicKey]struct{}
	logger     *zap.Logger
}

var _ Signer = (*LocalSigner)(nil)

// NewLocalSigner creates a signer for keypair that only signs for the allowed programs
func NewLocalSigner(keypair *wallet.Keypair, evmAddress string, allowed []solana.PublicKey, logger *zap.Logger) *LocalSigner {
	if logger == nil {
		logger = zap.NewNop()
	}
	set := make(map[solana.PublicKey]struct{}, len(allowed))
	for _, p := range allowed {
		set[p] = struct{}{}
	}
	return &LocalSigner{
		keypair:    keypair,
		evmAddress: evmAddress,
		allowed:    set,
		logger:     logger.Named("relay-signer"),
	}
}

func (s *LocalSigner) Identity(context.Context) (Identity, error) {
	return Identity{Address: s.keypair.PublicKey(), EVMAddress: s.evmAddress}, nil
}

func (s *LocalSigner) Sign(ctx context.Context, req SignRequest) (*SignResponse, error) {
	ixs, err := ledger.DecodeInstructions(req.Instructions)
	if err != nil {
		return nil, fmt.Errorf("invalid instructions: %w", err)
	}
	if req.BlockRef.Blockhash.IsZero() {
		return nil, fmt.Errorf("block reference is required")
	}

	relay := s.keypair.PublicKey()
	for _, signer := range ledger.Signers(ixs) {
		if !signer.Equals(relay) {
			return nil, fmt.Errorf("%w: %s", ErrForeignSigner, signer)
		}
	}
	if len(s.allowed) > 0 {
		for _, ix := range ixs {
			if _, ok := s.allowed[ix.ProgramID()]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrProgramNotAllowed, ix.ProgramID())
			}
		}
	}

	tx, err := ledger.NewTransaction(ixs, req.BlockRef, relay)
	if err != nil {
		return nil, err
	}
	if err := s.keypair.SignTransaction(ctx, tx); err != nil {
		return nil, err
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	sig := tx.Signatures[0]
	s.logger.Info("signed relay transaction",
		zap.Stringer("signature", sig),
		zap.Int("instructions", len(ixs)),
		zap.Uint64("last_valid_block_height", req.BlockRef.LastValidBlockHeight))

	return &SignResponse{Transaction: raw, Signature: sig.String()}, nil
}
