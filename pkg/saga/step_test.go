package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundswap/pkg/client"
	"fundswap/pkg/deposit"
	"fundswap/pkg/ledger"
	"fundswap/pkg/relay"
	"fundswap/pkg/types"
)

func TestProgress(t *testing.T) {
	tests := []struct {
		mode      types.PrivacyMode
		step      Step
		last      Step
		wantIndex int
		wantTotal int
	}{
		{types.FastTrack, StepIdle, StepIdle, 0, 4},
		{types.FastTrack, StepShieldPending, StepShieldPending, 1, 4},
		{types.FastTrack, StepRelayUnshieldConfirmed, StepRelayUnshieldConfirmed, 4, 4},
		{types.FastTrack, StepFailed, StepShieldConfirmed, 2, 4},
		{types.Anonymous, StepRelayUnshieldConfirmed, StepRelayUnshieldConfirmed, 4, 9},
		{types.Anonymous, StepCompleted, StepCompleted, 9, 9},
		{types.Anonymous, StepRefundIssued, StepInboundBridgePending, 8, 9},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.mode, tt.step), func(t *testing.T) {
			index, total := Progress(tt.mode, tt.step, tt.last)
			assert.Equal(t, tt.wantIndex, index)
			assert.Equal(t, tt.wantTotal, total)
		})
	}
}

func TestTerminalSteps(t *testing.T) {
	assert.True(t, Terminal(types.FastTrack, StepRelayUnshieldConfirmed))
	assert.False(t, Terminal(types.Anonymous, StepRelayUnshieldConfirmed))
	assert.True(t, Terminal(types.Anonymous, StepCompleted))
	assert.True(t, Terminal(types.FastTrack, StepFailed))
	assert.True(t, Terminal(types.Anonymous, StepRefundIssued))

	assert.True(t, Succeeded(types.Anonymous, StepCompleted))
	assert.False(t, Succeeded(types.Anonymous, StepRefundIssued))

	for _, step := range Sequence(types.FastTrack) {
		assert.False(t, compensable(step), "fast-track never leaves the relay's private balance before delivery: %s", step)
	}
	assert.True(t, compensable(StepOutboundBridgePending))
	assert.True(t, compensable(StepInboundBridgePending))
}

func TestStepJSON(t *testing.T) {
	doc, err := json.Marshal(struct {
		Step Step `json:"step"`
	}{StepOutboundBridgePending})
	require.NoError(t, err)
	assert.JSONEq(t, `{"step":"outbound_bridge_pending"}`, string(doc))

	var out struct {
		Step Step `json:"step"`
	}
	require.NoError(t, json.Unmarshal(doc, &out))
	assert.Equal(t, StepOutboundBridgePending, out.Step)

	assert.Error(t, json.Unmarshal([]byte(`{"step":"teleporting"}`), &out))

	_, err = Step(99).MarshalText()
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"classified error keeps its kind", newError(KindLedgerIntegrity, StepRelayUnshieldPending, errBoom), KindLedgerIntegrity},
		{"wrapped classified error", fmt.Errorf("outer: %w", newError(KindValidation, StepIdle, errBoom)), KindValidation},
		{"expired block reference", fmt.Errorf("confirm: %w", ledger.ErrBlockRefExpired), KindStaleQuote},
		{"stale quote", errStaleQuote, KindStaleQuote},
		{"ledger unavailable", ledger.ErrUnavailable, KindTransientNetwork},
		{"bridge api transient", client.ErrTransient, KindTransientNetwork},
		{"relay unavailable", relay.ErrUnavailable, KindTransientNetwork},
		{"missing record", errMissingRecord, KindTransientNetwork},
		{"no cover", ledger.ErrNoCover, KindLedgerIntegrity},
		{"second chain funds", deposit.ErrInsufficientFunds, KindInsufficientBalance},
		{"quote rejected", client.ErrRejected, KindValidation},
		{"foreign signer", relay.ErrForeignSigner, KindValidation},
		{"program not allowed", relay.ErrProgramNotAllowed, KindValidation},
		{"cancelled", context.Canceled, KindTerminal},
		{"failed on chain", ledger.ErrTxFailed, KindTerminal},
		{"unknown", errBoom, KindTerminal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestOnlyTransientAndStaleAreRetryable(t *testing.T) {
	for kind := range kindNames {
		want := kind == KindTransientNetwork || kind == KindStaleQuote
		assert.Equal(t, want, kind.Retryable(), kind.String())
	}
}

func TestRecordErrorUnwrapsClassifiedError(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := recordError(newError(KindContinuationHalted, StepShieldConfirmed, errors.New("no records")), StepRelayUnshieldPending, now)

	assert.Equal(t, KindContinuationHalted, rec.Kind)
	assert.Equal(t, StepShieldConfirmed, rec.Step)
	assert.Equal(t, "no records", rec.Message)
	assert.Equal(t, now, rec.At)
	assert.Contains(t, userMessage(rec), "funds are safe")

	doc, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(doc), `"kind":"continuation_halted"`)
}

func TestInboundAmount(t *testing.T) {
	tests := []struct {
		out  int64
		bps  uint64
		want int64
	}{
		{1_000_000, 50, 995_000},
		{1_999, 50, 1_989},
		{1, 50, 0},
		{1_000, 0, 1_000},
		{1_000, 10_000, 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d-%dbps", tt.out, tt.bps), func(t *testing.T) {
			assert.Equal(t, tt.want, InboundAmount(big.NewInt(tt.out), tt.bps).Int64())
		})
	}

	assert.Zero(t, InboundAmount(nil, 50).Sign())
}
