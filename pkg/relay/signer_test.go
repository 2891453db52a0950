package relay

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fundswap/pkg/ledger"
	"fundswap/pkg/wallet"
)

var testRef = ledger.BlockRef{Blockhash: solana.Hash{7}, LastValidBlockHeight: 100}

func newTestSigner(t *testing.T) (*LocalSigner, *wallet.Keypair) {
	t.Helper()
	kp := wallet.FromPrivateKey(solana.NewWallet().PrivateKey)
	return NewLocalSigner(kp, "", DefaultAllowedPrograms(ledger.DefaultCompressionProgramID), zaptest.NewLogger(t)), kp
}

func TestLocalSignerSignsRelayInstructions(t *testing.T) {
	signer, kp := newTestSigner(t)
	user := solana.NewWallet().PublicKey()

	req, err := NewSignRequest([]solana.Instruction{
		system.NewTransferInstruction(1_980_000_000, kp.PublicKey(), user).Build(),
	}, testRef)
	require.NoError(t, err)

	resp, err := signer.Sign(context.Background(), req)
	require.NoError(t, err)

	tx, err := solana.TransactionFromBytes(resp.Transaction)
	require.NoError(t, err)
	require.NoError(t, tx.VerifySignatures())
	assert.Equal(t, kp.PublicKey(), tx.Message.AccountKeys[0], "relay pays the fee")
	assert.Equal(t, testRef.Blockhash, tx.Message.RecentBlockhash)
	assert.Equal(t, tx.Signatures[0].String(), resp.Signature)
}

func TestLocalSignerRefusesForeignSigner(t *testing.T) {
	signer, kp := newTestSigner(t)
	user := solana.NewWallet().PublicKey()

	req, err := NewSignRequest([]solana.Instruction{
		system.NewTransferInstruction(1, user, kp.PublicKey()).Build(),
	}, testRef)
	require.NoError(t, err)

	_, err = signer.Sign(context.Background(), req)
	assert.ErrorIs(t, err, ErrForeignSigner)
}

func TestLocalSignerRefusesUnknownProgram(t *testing.T) {
	signer, kp := newTestSigner(t)
	rogue := solana.NewInstruction(solana.NewWallet().PublicKey(),
		solana.AccountMetaSlice{solana.Meta(kp.PublicKey()).WRITE().SIGNER()}, []byte{1})

	req, err := NewSignRequest([]solana.Instruction{rogue}, testRef)
	require.NoError(t, err)

	_, err = signer.Sign(context.Background(), req)
	assert.ErrorIs(t, err, ErrProgramNotAllowed)
}

func TestLocalSignerRequiresBlockRef(t *testing.T) {
	signer, kp := newTestSigner(t)
	req, err := NewSignRequest([]solana.Instruction{
		system.NewTransferInstruction(1, kp.PublicKey(), kp.PublicKey()).Build(),
	}, ledger.BlockRef{})
	require.NoError(t, err)

	_, err = signer.Sign(context.Background(), req)
	assert.Error(t, err)
}
