package deposit

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fundswap/config"
)

type fakeBackend struct {
	mu       sync.Mutex
	balance  *big.Int
	nonce    uint64
	gasPrice *big.Int
	sent     []*types.Transaction
	receipt  *types.Receipt
	lookups  int
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookups < 3 || f.receipt == nil {
		return nil, ethereum.NotFound
	}
	return f.receipt, nil
}

func newTestDepositor(t *testing.T, backend *fakeBackend) (*EVMDepositor, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	d, err := NewEVMDepositorWithBackend(backend, config.EVMNetwork{
		ChainID:    8453,
		PrivateKey: common.Bytes2Hex(crypto.FromECDSA(key)),
	}, "base", zaptest.NewLogger(t))
	require.NoError(t, err)
	d.pollInterval = time.Millisecond
	return d, crypto.PubkeyToAddress(key.PublicKey)
}

const recipient = "0x71C7656EC7ab88b098defB751B7401B5f6d8976F"

func TestSignDepositSignsWithRelayKey(t *testing.T) {
	backend := &fakeBackend{balance: big.NewInt(1e18), nonce: 7, gasPrice: big.NewInt(1e9)}
	d, from := newTestDepositor(t, backend)
	assert.Equal(t, from.Hex(), d.Address())

	signed, err := d.SignDeposit(context.Background(), recipient, big.NewInt(5e17))
	require.NoError(t, err)
	assert.Empty(t, backend.sent, "signing sends nothing")
	assert.Equal(t, uint64(7), signed.Nonce)

	require.NoError(t, d.Broadcast(context.Background(), signed))
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, signed.Hash, tx.Hash().Hex())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, nativeTransferGas, tx.Gas())
	assert.Equal(t, 0, tx.Value().Cmp(big.NewInt(5e17)))
	assert.Equal(t, common.HexToAddress(recipient), *tx.To())

	sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(8453)), tx)
	require.NoError(t, err)
	assert.Equal(t, from, sender)
}

func TestBroadcastAgainSendsTheSameTransaction(t *testing.T) {
	backend := &fakeBackend{balance: big.NewInt(1e18), nonce: 3, gasPrice: big.NewInt(1e9)}
	d, _ := newTestDepositor(t, backend)

	signed, err := d.SignDeposit(context.Background(), recipient, big.NewInt(1e17))
	require.NoError(t, err)
	require.NoError(t, d.Broadcast(context.Background(), signed))
	require.NoError(t, d.Broadcast(context.Background(), signed))

	require.Len(t, backend.sent, 2)
	assert.Equal(t, backend.sent[0].Hash(), backend.sent[1].Hash())
	assert.Equal(t, backend.sent[0].Nonce(), backend.sent[1].Nonce())
}

func TestBroadcastRejectsTamperedDeposit(t *testing.T) {
	backend := &fakeBackend{balance: big.NewInt(1e18), gasPrice: big.NewInt(1e9)}
	d, _ := newTestDepositor(t, backend)

	signed, err := d.SignDeposit(context.Background(), recipient, big.NewInt(1e17))
	require.NoError(t, err)
	signed.Hash = "0x" + strings.Repeat("00", 32)

	assert.Error(t, d.Broadcast(context.Background(), signed))
	assert.Empty(t, backend.sent)
}

func TestSignDepositChecksBalance(t *testing.T) {
	backend := &fakeBackend{balance: big.NewInt(1000), gasPrice: big.NewInt(1)}
	d, _ := newTestDepositor(t, backend)

	_, err := d.SignDeposit(context.Background(), recipient, big.NewInt(1000))
	assert.ErrorIs(t, err, ErrInsufficientFunds, "gas must be covered too")
	assert.Empty(t, backend.sent)

	_, err = d.SignDeposit(context.Background(), "not-an-address", big.NewInt(1))
	assert.Error(t, err)
}

func TestMined(t *testing.T) {
	backend := &fakeBackend{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful}}
	d, _ := newTestDepositor(t, backend)

	mined, err := d.Mined(context.Background(), "0x01")
	require.NoError(t, err)
	assert.False(t, mined, "no receipt yet")

	backend.lookups = 2
	mined, err = d.Mined(context.Background(), "0x01")
	require.NoError(t, err)
	assert.True(t, mined)

	backend = &fakeBackend{receipt: &types.Receipt{Status: types.ReceiptStatusFailed}, lookups: 2}
	d, _ = newTestDepositor(t, backend)
	_, err = d.Mined(context.Background(), "0x01")
	assert.ErrorIs(t, err, ErrReverted)
}

func TestWaitMined(t *testing.T) {
	backend := &fakeBackend{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful}}
	d, _ := newTestDepositor(t, backend)
	require.NoError(t, d.WaitMined(context.Background(), "0x01"))
	assert.Equal(t, 3, backend.lookups)

	backend = &fakeBackend{receipt: &types.Receipt{Status: types.ReceiptStatusFailed}}
	d, _ = newTestDepositor(t, backend)
	assert.ErrorIs(t, d.WaitMined(context.Background(), "0x01"), ErrReverted)

	backend = &fakeBackend{}
	d, _ = newTestDepositor(t, backend)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(d.WaitMined(ctx, "0x01"), context.DeadlineExceeded))
}

func TestManagerForChain(t *testing.T) {
	m := NewManager(config.EVMConfig{Networks: map[string]config.EVMNetwork{
		"base":     {RPCUrl: "http://127.0.0.1:1", ChainID: 8453},
		"arbitrum": {RPCUrl: "http://127.0.0.1:1", ChainID: 42161},
	}}, zaptest.NewLogger(t))

	assert.Equal(t, []string{"arbitrum", "base"}, m.GetSupportedChains())
	assert.True(t, m.IsEnabledForChain("BASE"))

	_, err := m.ForChain(context.Background(), "ethereum")
	assert.Error(t, err)

	_, err = m.ForChain(context.Background(), "base")
	assert.Error(t, err, "missing private key")
}

func TestManagerRelayAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	m := NewManager(config.EVMConfig{Networks: map[string]config.EVMNetwork{
		"base": {ChainID: 8453, PrivateKey: "0x" + common.Bytes2Hex(crypto.FromECDSA(key))},
	}}, zaptest.NewLogger(t))

	addr, err := m.RelayAddress("Base")
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), addr)

	_, err = m.RelayAddress("arbitrum")
	assert.Error(t, err)
}
