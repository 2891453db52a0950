package ledger

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProgram() Program {
	return Program{ID: DefaultCompressionProgramID, StateTree: solana.NewWallet().PublicKey()}
}

func TestCompress(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	relay := solana.NewWallet().PublicKey()

	ix, err := testProgram().Compress(payer, relay, 1_980_000_000)
	require.NoError(t, err)

	assert.Equal(t, DefaultCompressionProgramID, ix.ProgramID())
	assert.Equal(t, []solana.PublicKey{payer}, Signers([]solana.Instruction{ix}))

	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, compressDiscriminator[:], data[:8])
	assert.Equal(t, relay[:], data[8:40])

	_, err = testProgram().Compress(payer, relay, 0)
	assert.Error(t, err)
}

func TestDecompress(t *testing.T) {
	relay := solana.NewWallet().PublicKey()
	dest := solana.NewWallet().PublicKey()
	tree := solana.NewWallet().PublicKey()
	inputs := RecordSet{{Hash: solana.Hash{9}.String(), Lamports: 5e9, Tree: tree.String(), LeafIndex: 4}}
	proof := &ValidityProof{A: []byte{1}, B: []byte{2}, C: []byte{3}, RootIndices: []uint16{0}}

	ix, err := testProgram().Decompress(relay, dest, 4e9, inputs, proof)
	require.NoError(t, err)
	assert.Equal(t, []solana.PublicKey{relay}, Signers([]solana.Instruction{ix}), "only the owner signs")

	var keys []solana.PublicKey
	for _, acc := range ix.Accounts() {
		keys = append(keys, acc.PublicKey)
	}
	assert.Contains(t, keys, dest)
	assert.Contains(t, keys, tree)

	_, err = testProgram().Decompress(relay, dest, 6e9, inputs, proof)
	assert.ErrorIs(t, err, ErrNoCover)

	_, err = testProgram().Decompress(relay, dest, 1, inputs, &ValidityProof{})
	assert.Error(t, err, "proof must match inputs")
}

func TestWireInstructionsRoundTrip(t *testing.T) {
	relay := solana.NewWallet().PublicKey()
	ix, err := testProgram().Compress(relay, relay, 10)
	require.NoError(t, err)

	ixs := append(ComputeBudget(200_000, 1_000), ix)
	wire, err := EncodeInstructions(ixs)
	require.NoError(t, err)
	require.Len(t, wire, 3)

	decoded, err := DecodeInstructions(wire)
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	for i := range ixs {
		want, _ := ixs[i].Data()
		got, _ := decoded[i].Data()
		assert.Equal(t, want, got)
		assert.Equal(t, ixs[i].ProgramID(), decoded[i].ProgramID())
	}
	assert.Equal(t, []solana.PublicKey{relay}, Signers(decoded))

	_, err = DecodeInstructions(nil)
	assert.Error(t, err)
}
