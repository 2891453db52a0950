package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"

	"fundswap/pkg/fee"
	"fundswap/pkg/types"
)

// ErrInvalidAddress is returned when an address does not match its chain's format
var ErrInvalidAddress = errors.New("invalid address")

// ValidateAddress checks addr against the address format of chain
func ValidateAddress(chain types.Chain, addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: address is empty", ErrInvalidAddress)
	}

	switch {
	case chain == types.ChainSolana:
		if _, err := solana.PublicKeyFromBase58(addr); err != nil {
			return fmt.Errorf("%w: %q is not a solana public key: %v", ErrInvalidAddress, addr, err)
		}
		return nil
	case chain.IsEVM():
		if !common.IsHexAddress(addr) || !strings.HasPrefix(addr, "0x") {
			return fmt.Errorf("%w: %q is not a hex address", ErrInvalidAddress, addr)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported chain %q", ErrInvalidAddress, chain)
	}
}

// ValidateTransferRequest checks a request before any remote call is made.
// It fills in req.Lamports from req.Amount.
func ValidateTransferRequest(req *types.TransferRequest) error {
	if req == nil {
		return errors.New("transfer request is nil")
	}

	lamports, err := fee.ParseLamports(req.Amount)
	if err != nil {
		return err
	}

	if req.Mode != types.FastTrack && req.Mode != types.Anonymous {
		return fmt.Errorf("privacy mode is required")
	}
	if req.SourceChain != types.ChainSolana {
		return fmt.Errorf("source chain must be solana, got %q", req.SourceChain)
	}
	if req.Mode == types.FastTrack && req.DestinationChain != types.ChainSolana {
		return fmt.Errorf("fast-track transfers stay on solana; use anonymous mode to reach %s", req.DestinationChain)
	}
	if err := ValidateAddress(req.SourceChain, req.SourceAddress); err != nil {
		return fmt.Errorf("source address: %w", err)
	}
	if err := ValidateAddress(req.DestinationChain, req.DestinationAddress); err != nil {
		return fmt.Errorf("destination address: %w", err)
	}

	req.Lamports = lamports
	return nil
}
