package fee

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundswap/pkg/types"
)

func TestComputeFastTrack(t *testing.T) {
	m := Default()

	amounts := []uint64{0, 1, 99, 100, 101, 12_345, 2 * LamportsPerSOL, 1_999_999_999, ^uint64(0)}
	for _, amount := range amounts {
		plan := m.Compute(amount, types.FastTrack)
		assert.Equal(t, amount, plan.Fee+plan.Net, "fee+net for %d", amount)
		assert.Equal(t, amount/100, plan.Fee, "fee for %d", amount)
		assert.Zero(t, plan.EstimatedBridgeFee)
	}
}

func TestComputeTwoSOL(t *testing.T) {
	plan := Default().Compute(2*LamportsPerSOL, types.FastTrack)

	assert.Equal(t, uint64(20_000_000), plan.Fee)
	assert.Equal(t, uint64(1_980_000_000), plan.Net)
	assert.Equal(t, "0.02", FormatLamports(plan.Fee))
	assert.Equal(t, "1.98", FormatLamports(plan.Net))
}

func TestComputeAnonymous(t *testing.T) {
	plan := Default().Compute(3*LamportsPerSOL, types.Anonymous)

	assert.Zero(t, plan.Fee)
	assert.Equal(t, uint64(3*LamportsPerSOL), plan.Net)
	assert.Equal(t, uint64(DefaultEstimatedBridgeFee), plan.EstimatedBridgeFee)
}

func TestNewModelRejectsFullFee(t *testing.T) {
	_, err := NewModel(10_000, 0)
	require.Error(t, err)

	m, err := NewModel(0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.Compute(100, types.FastTrack).Fee)
}

func TestParseLamports(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: "2", want: 2_000_000_000},
		{in: "2.0", want: 2_000_000_000},
		{in: "0.000000001", want: 1},
		{in: " 1.5 ", want: 1_500_000_000},
		{in: "0", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "0.0000000001", wantErr: true},
		{in: "99999999999999999999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLamports(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatLamports(t *testing.T) {
	assert.Equal(t, "0", FormatLamports(0))
	assert.Equal(t, "0.000000001", FormatLamports(1))
	assert.Equal(t, "1.5", FormatLamports(1_500_000_000))
}
