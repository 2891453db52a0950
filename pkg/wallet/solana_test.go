package wallet

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBase58(t *testing.T) {
	key := solana.NewWallet().PrivateKey

	kp, err := Load(key.String())
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), kp.PublicKey())
}

func TestLoadKeygenFile(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	raw, err := json.Marshal(ints)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	kp, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), kp.PublicKey())
}

func TestLoadRejectsGarbage(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
	_, err = Load("not-a-key")
	assert.Error(t, err)
}

func TestSignTransaction(t *testing.T) {
	kp := FromPrivateKey(solana.NewWallet().PrivateKey)
	other := solana.NewWallet().PublicKey()

	tx, err := solana.NewTransaction([]solana.Instruction{
		system.NewTransferInstruction(1, kp.PublicKey(), other).Build(),
	}, solana.Hash{1}, solana.TransactionPayer(kp.PublicKey()))
	require.NoError(t, err)

	require.NoError(t, kp.SignTransaction(context.Background(), tx))
	require.Len(t, tx.Signatures, 1)
	assert.NoError(t, tx.VerifySignatures())

	foreign, err := solana.NewTransaction([]solana.Instruction{
		system.NewTransferInstruction(1, other, kp.PublicKey()).Build(),
	}, solana.Hash{1}, solana.TransactionPayer(other))
	require.NoError(t, err)
	assert.Error(t, kp.SignTransaction(context.Background(), foreign))
}
