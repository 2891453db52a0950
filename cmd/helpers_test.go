package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundswap/config"
	"fundswap/pkg/saga"
	"fundswap/pkg/types"
)

func TestBridgeAssetsDefaultsAndOverrides(t *testing.T) {
	cfg := &config.Config{}
	origin, dest, err := bridgeAssets(cfg, types.ChainEthereum)
	require.NoError(t, err)
	assert.Equal(t, "nep141:sol.omft.near", origin)
	assert.Equal(t, "nep141:eth.omft.near", dest)

	cfg.OneClick.Assets = map[string]string{"ethereum": "nep141:custom.near"}
	_, dest, err = bridgeAssets(cfg, types.ChainEthereum)
	require.NoError(t, err)
	assert.Equal(t, "nep141:custom.near", dest)

	cfg.OneClick.Assets = map[string]string{"dogecoin": "x"}
	_, _, err = bridgeAssets(cfg, types.ChainEthereum)
	assert.Error(t, err)
}

func TestTransferState(t *testing.T) {
	assert.Equal(t, "active", transferState(&saga.State{}))
	assert.Equal(t, "refund_issued", transferState(&saga.State{Outcome: &saga.Outcome{Kind: saga.OutcomeRefundIssued}}))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 16))
	assert.Equal(t, "9xQeWvG8...", truncateString("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", 11))
	assert.Equal(t, "ab", truncateString("abcdef", 2))
}
