// Package fee computes the protocol fee taken when a transfer is shielded.
package fee

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"fundswap/pkg/types"
)

const (
	// LamportsPerSOL is the number of minor units in one SOL.
	LamportsPerSOL = 1_000_000_000

	solDecimals = 9

	// DefaultFastTrackBasisPoints is the 1% fee charged on fast-track transfers.
	DefaultFastTrackBasisPoints = 100

	// DefaultEstimatedBridgeFee is shown for anonymous transfers. It is never deducted.
	DefaultEstimatedBridgeFee = 5_000_000
)

// ErrInvalidAmount is returned for amounts that are not positive decimal SOL values
var ErrInvalidAmount = errors.New("invalid amount")

// Plan is the fee split of one transfer. Fee + Net always equals Amount.
type Plan struct {
	Amount             uint64            `json:"amount"`
	Fee                uint64            `json:"fee"`
	Net                uint64            `json:"net"`
	Mode               types.PrivacyMode `json:"mode"`
	EstimatedBridgeFee uint64            `json:"estimated_bridge_fee,omitempty"`
}

// Model holds the fee schedule. The zero value is not usable; use NewModel.
type Model struct {
	fastTrackBps       uint64
	estimatedBridgeFee uint64
}

// NewModel creates a fee model. A zero basis point value selects the default 1%.
func NewModel(fastTrackBps, estimatedBridgeFee uint64) (*Model, error) {
	if fastTrackBps == 0 {
		fastTrackBps = DefaultFastTrackBasisPoints
	}
	if fastTrackBps >= 10_000 {
		return nil, fmt.Errorf("fast-track fee must be below 100%%, got %d bps", fastTrackBps)
	}
	return &Model{fastTrackBps: fastTrackBps, estimatedBridgeFee: estimatedBridgeFee}, nil
}

// Default returns the fee schedule used when nothing is configured
func Default() *Model {
	m, _ := NewModel(DefaultFastTrackBasisPoints, DefaultEstimatedBridgeFee)
	return m
}

// Compute splits amount into fee and net for mode. It is pure.
func (m *Model) Compute(amount uint64, mode types.PrivacyMode) Plan {
	plan := Plan{Amount: amount, Mode: mode}

	switch mode {
	case types.FastTrack:
		// amount*bps may overflow uint64 for very large inputs
		f := new(big.Int).SetUint64(amount)
		f.Mul(f, new(big.Int).SetUint64(m.fastTrackBps))
		f.Quo(f, big.NewInt(10_000))
		plan.Fee = f.Uint64()
	case types.Anonymous:
		plan.EstimatedBridgeFee = m.estimatedBridgeFee
	}

	plan.Net = amount - plan.Fee
	return plan
}

// ParseLamports converts a decimal SOL amount into lamports without floating point.
// Amounts with more than 9 fractional digits are rejected rather than rounded.
func ParseLamports(amount string) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: amount must be greater than 0", ErrInvalidAmount)
	}

	minor := d.Shift(solDecimals)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount, solDecimals)
	}

	bi := minor.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("%w: %s is out of range", ErrInvalidAmount, amount)
	}

	return bi.Uint64(), nil
}

// FormatLamports renders lamports as a decimal SOL string
func FormatLamports(lamports uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -solDecimals).String()
}

// FormatUnits renders an integer amount in minor units with the given decimals
func FormatUnits(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}
