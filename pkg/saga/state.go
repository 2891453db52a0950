package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/gagliardetto/solana-go"

	"fundswap/pkg/client"
	"fundswap/pkg/deposit"
	"fundswap/pkg/fee"
	"fundswap/pkg/ledger"
	"fundswap/pkg/store"
	"fundswap/pkg/types"
)

// PendingTx is a submitted transaction whose fate is not known yet.
// It is checked before any step builds fresh transaction material.
type PendingTx struct {
	Step      Step             `json:"step"`
	Signature solana.Signature `json:"signature"`
	BlockRef  ledger.BlockRef  `json:"block_ref"`
}

// TxIDs are the landed transactions of a transfer
type TxIDs struct {
	Shield   string `json:"shield,omitempty"`
	Unshield string `json:"unshield,omitempty"`
	Outbound string `json:"outbound,omitempty"`
	Inbound  string `json:"inbound,omitempty"`
	Refund   string `json:"refund,omitempty"`
}

// List returns the recorded ids in the order they landed
func (t TxIDs) List() []string {
	var ids []string
	for _, id := range []string{t.Shield, t.Unshield, t.Outbound, t.Inbound, t.Refund} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// State is everything a transfer needs to continue after a restart
type State struct {
	ID      string                `json:"id"`
	Request types.TransferRequest `json:"request"`
	Plan    fee.Plan              `json:"plan"`

	Step               Step   `json:"step"`
	LastSuccessfulStep Step   `json:"last_successful_step"`
	Status             string `json:"status"`

	LastError           *ErrorRecord `json:"last_error,omitempty"`
	CompensationPending bool         `json:"compensation_pending"`
	// CompensationReason is the failure the refund answers
	CompensationReason string `json:"compensation_reason,omitempty"`

	RelayAddress    string `json:"relay_address"`
	RelayEVMAddress string `json:"relay_evm_address,omitempty"`

	Pending *PendingTx `json:"pending,omitempty"`
	TxIDs   TxIDs      `json:"tx_ids"`

	// OutboundDeposited is set once the outbound deposit landed and the
	// provider was told about it
	OutboundDeposited bool          `json:"outbound_deposited,omitempty"`
	OutboundQuote     *client.Quote `json:"outbound_quote,omitempty"`
	InboundAmount     *big.Int      `json:"inbound_amount,omitempty"`
	InboundQuote      *client.Quote `json:"inbound_quote,omitempty"`
	// InboundDeposit is recorded before its first broadcast and only ever
	// rebroadcast as is
	InboundDeposit   *deposit.SignedDeposit `json:"inbound_deposit,omitempty"`
	InboundBroadcast bool                   `json:"inbound_broadcast,omitempty"`

	Outcome *Outcome `json:"outcome,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState creates the state of a confirmed transfer
func NewState(id string, req types.TransferRequest, plan fee.Plan, now time.Time) *State {
	return &State{
		ID:        id,
		Request:   req,
		Plan:      plan,
		Step:      StepIdle,
		Status:    statusText(StepIdle, req),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Done reports whether the transfer reached an outcome
func (s *State) Done() bool {
	return s.Outcome != nil
}

// Resumable reports whether Run can continue the transfer.
// A halted continuation restarts from the step that halted; a held refund
// is attempted again once the spend before it settles.
func (s *State) Resumable() bool {
	if !s.Done() || s.CompensationPending {
		return true
	}
	return s.LastError != nil && s.LastError.Kind == KindContinuationHalted
}

// resumeStep is where a finished but resumable transfer picks up again
func (s *State) resumeStep() Step {
	if s.LastError != nil {
		return s.LastError.Step
	}
	return s.LastSuccessfulStep
}

// Summary formats the state for display
func (s *State) Summary() types.TransferSummary {
	index, total := Progress(s.Request.Mode, s.Step, s.LastSuccessfulStep)
	return types.TransferSummary{
		ID:          s.ID,
		Mode:        s.Request.Mode.String(),
		Amount:      fee.FormatLamports(s.Plan.Amount),
		Fee:         fee.FormatLamports(s.Plan.Fee),
		Net:         fee.FormatLamports(s.Plan.Net),
		Destination: s.Request.DestinationAddress,
		Step:        s.Step.String(),
		Progress:    fmt.Sprintf("%d/%d", index, total),
		Status:      s.Status,
		UpdatedAt:   s.UpdatedAt.Format(time.RFC3339),
	}
}

// SaveState writes st to s
func SaveState(ctx context.Context, s store.Store, st *State) error {
	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal transfer %s: %w", st.ID, err)
	}
	return s.Put(ctx, st.ID, doc)
}

// LoadState reads one transfer from s
func LoadState(ctx context.Context, s store.Store, id string) (*State, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var st State
	if err := json.Unmarshal(doc, &st); err != nil {
		return nil, fmt.Errorf("failed to decode transfer %s: %w", id, err)
	}
	return &st, nil
}

// ListStates reads every transfer from s, newest first
func ListStates(ctx context.Context, s store.Store) ([]*State, error) {
	ids, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	states := make([]*State, 0, len(ids))
	for _, id := range ids {
		st, err := LoadState(ctx, s, id)
		if err != nil {
			if isNotFound(err) {
				// deleted between List and Get
				continue
			}
			return nil, err
		}
		states = append(states, st)
	}

	sort.SliceStable(states, func(i, j int) bool {
		return states[i].CreatedAt.After(states[j].CreatedAt)
	})
	return states, nil
}
