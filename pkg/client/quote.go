package client

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/memo"
	"github.com/gagliardetto/solana-go/programs/system"
)

// ErrMalformedQuote is returned when a quote payload fails validation
var ErrMalformedQuote = errors.New("malformed quote")

// DefaultQuoteTTL bounds how long a quote is trusted after it was fetched
const DefaultQuoteTTL = 2 * time.Minute

// QuoteParams describes the movement a quote is requested for
type QuoteParams struct {
	OriginAsset      string
	DestinationAsset string
	// Amount is in the origin asset's minor units
	Amount    *big.Int
	Recipient string
	RefundTo  string
	Deadline  time.Time
	// Dry quotes are priced without reserving a deposit address
	Dry bool
}

func (p QuoteParams) validate() error {
	switch {
	case p.OriginAsset == "" || p.DestinationAsset == "":
		return errors.New("origin and destination assets are required")
	case p.Amount == nil || p.Amount.Sign() <= 0:
		return errors.New("quote amount must be greater than 0")
	case p.Recipient == "":
		return errors.New("recipient address is required")
	}
	return nil
}

// Quote is a priced, time-bounded plan to move funds through the bridge.
// Amounts are parsed once at the adapter boundary.
type Quote struct {
	RequestID          string        `json:"request_id"`
	DepositAddress     string        `json:"deposit_address"`
	DepositMemo        string        `json:"deposit_memo,omitempty"`
	OriginAsset        string        `json:"origin_asset"`
	DestinationAsset   string        `json:"destination_asset"`
	AmountIn           *big.Int      `json:"amount_in"`
	AmountOut          *big.Int      `json:"amount_out"`
	AmountInFormatted  string        `json:"amount_in_formatted"`
	AmountOutFormatted string        `json:"amount_out_formatted"`
	TimeEstimate       float64       `json:"time_estimate_sec"`
	Deadline           time.Time     `json:"deadline"`
	FetchedAt          time.Time     `json:"fetched_at"`
	TTL                time.Duration `json:"ttl"`
}

// Validate rejects payloads that must not enter a transfer
func (q *Quote) Validate() error {
	switch {
	case q == nil:
		return fmt.Errorf("%w: empty quote", ErrMalformedQuote)
	case q.DepositAddress == "":
		return fmt.Errorf("%w: missing deposit address", ErrMalformedQuote)
	case q.AmountIn == nil || q.AmountIn.Sign() <= 0:
		return fmt.Errorf("%w: amount in must be a positive integer", ErrMalformedQuote)
	case q.AmountOut == nil || q.AmountOut.Sign() <= 0:
		return fmt.Errorf("%w: amount out must be a positive integer", ErrMalformedQuote)
	case q.FetchedAt.IsZero():
		return fmt.Errorf("%w: missing fetch time", ErrMalformedQuote)
	}
	return nil
}

// ExpiresAt is the earlier of the TTL expiry and the provider deadline
func (q *Quote) ExpiresAt() time.Time {
	ttl := q.TTL
	if ttl <= 0 {
		ttl = DefaultQuoteTTL
	}
	exp := q.FetchedAt.Add(ttl)
	if !q.Deadline.IsZero() && q.Deadline.Before(exp) {
		exp = q.Deadline
	}
	return exp
}

// Stale reports whether the quote must be re-fetched before use
func (q *Quote) Stale(now time.Time) bool {
	return q == nil || !now.Before(q.ExpiresAt())
}

// Instructions derives the origin-chain deposit for a Solana-origin quote:
// a transfer of AmountIn from payer to the deposit address, plus the memo
// when the provider requires one.
func (q *Quote) Instructions(payer solana.PublicKey) ([]solana.Instruction, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if !q.AmountIn.IsUint64() {
		return nil, fmt.Errorf("%w: amount in %s overflows lamports", ErrMalformedQuote, q.AmountIn)
	}

	deposit, err := solana.PublicKeyFromBase58(q.DepositAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: deposit address %q is not a solana address", ErrMalformedQuote, q.DepositAddress)
	}

	ixs := []solana.Instruction{
		system.NewTransferInstruction(q.AmountIn.Uint64(), payer, deposit).Build(),
	}
	if q.DepositMemo != "" {
		ixs = append(ixs, memo.NewMemoInstruction([]byte(q.DepositMemo), payer).Build())
	}
	return ixs, nil
}

// BridgeStatus is the provider's view of a quoted movement
type BridgeStatus int

const (
	BridgePending BridgeStatus = iota
	BridgeCompleted
	BridgeFailed
)

func (s BridgeStatus) String() string {
	switch s {
	case BridgeCompleted:
		return "completed"
	case BridgeFailed:
		return "failed"
	default:
		return "pending"
	}
}

// StatusReport is the parsed execution status of a request
type StatusReport struct {
	Status              BridgeStatus
	Raw                 string
	AmountOutFormatted  string
	DestinationTxHashes []string
	UpdatedAt           time.Time
}

func mapStatus(raw string) BridgeStatus {
	switch raw {
	case "SUCCESS", "COMPLETED":
		return BridgeCompleted
	case "FAILED", "REFUNDED":
		return BridgeFailed
	default:
		return BridgePending
	}
}

// parseAmount parses a provider integer amount string
func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: amount %q is not an integer", ErrMalformedQuote, s)
	}
	return v, nil
}
