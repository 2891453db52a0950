// Package relay holds the relay identity: the shared intermediary address and
// the narrow capability to sign instructions as that address.
package relay

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"

	"fundswap/pkg/ledger"
)

var (
	// ErrForeignSigner is returned when instructions need a signature other than the relay's.
	ErrForeignSigner = errors.New("instructions require a signer other than the relay")
	// ErrProgramNotAllowed is returned when instructions call a program the relay does not sign for.
	ErrProgramNotAllowed = errors.New("program not allowed")
	// ErrUnauthorized is returned for requests without a valid api key.
	ErrUnauthorized = errors.New("unauthorized")
)

// Identity is the relay's public address
type Identity struct {
	Address    solana.PublicKey `json:"address"`
	EVMAddress string           `json:"evm_address,omitempty"`
}

// SignRequest carries unsigned instructions and the block reference to sign against.
// It never carries key material.
type SignRequest struct {
	Instructions []ledger.WireInstruction `json:"instructions"`
	BlockRef     ledger.BlockRef          `json:"block_ref"`
}

// SignResponse is a relay-signed serialized transaction ready for submission
type SignResponse struct {
	Transaction []byte `json:"transaction"`
	Signature   string `json:"signature"`
}

// Signer signs instruction sets as the relay
type Signer interface {
	Identity(ctx context.Context) (Identity, error)
	Sign(ctx context.Context, req SignRequest) (*SignResponse, error)
}

// NewSignRequest encodes instructions for a Signer
func NewSignRequest(ixs []solana.Instruction, ref ledger.BlockRef) (SignRequest, error) {
	wire, err := ledger.EncodeInstructions(ixs)
	if err != nil {
		return SignRequest{}, err
	}
	return SignRequest{Instructions: wire, BlockRef: ref}, nil
}
