package ledger

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
)

// DefaultCompressionProgramID is the light system program on mainnet
var DefaultCompressionProgramID = solana.MustPublicKeyFromBase58("SySTEM1eSU2p4BGQfQpimFEWWSC1XDFeun3Nqzz3rT7")

var (
	compressDiscriminator   = discriminator("compress_lamports")
	decompressDiscriminator = discriminator("decompress_lamports")
)

func discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// Program builds compress and decompress instructions for the compression program
type Program struct {
	ID        solana.PublicKey
	StateTree solana.PublicKey
}

type compressArgs struct {
	Discriminator [8]byte
	Owner         solana.PublicKey
	Lamports      uint64
}

type inputRecord struct {
	Hash      solana.Hash
	Lamports  uint64
	LeafIndex uint32
	RootIndex uint16
}

type decompressArgs struct {
	Discriminator [8]byte
	ProofA        []byte
	ProofB        []byte
	ProofC        []byte
	Inputs        []inputRecord
	Lamports      uint64
	Recipient     solana.PublicKey
}

// Compress moves lamports from payer's public balance into a record owned by owner.
// payer must sign.
func (p Program) Compress(payer, owner solana.PublicKey, lamports uint64) (solana.Instruction, error) {
	if lamports == 0 {
		return nil, errors.New("compress amount must be greater than 0")
	}

	data, err := encodeBorsh(compressArgs{
		Discriminator: compressDiscriminator,
		Owner:         owner,
		Lamports:      lamports,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode compress instruction: %w", err)
	}

	accounts := solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(p.StateTree).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}
	return solana.NewInstruction(p.ID, accounts, data), nil
}

// Decompress spends inputs owned by owner and sends lamports to the public address to.
// owner must sign. Change stays compressed under owner.
func (p Program) Decompress(owner, to solana.PublicKey, lamports uint64, inputs RecordSet, proof *ValidityProof) (solana.Instruction, error) {
	if proof == nil {
		return nil, errors.New("validity proof is required")
	}
	if len(inputs) == 0 || len(proof.RootIndices) != len(inputs) {
		return nil, fmt.Errorf("proof covers %d records, have %d inputs", len(proof.RootIndices), len(inputs))
	}
	if inputs.Total() < lamports {
		return nil, fmt.Errorf("%w: inputs hold %d, need %d", ErrNoCover, inputs.Total(), lamports)
	}

	args := decompressArgs{
		Discriminator: decompressDiscriminator,
		ProofA:        proof.A,
		ProofB:        proof.B,
		ProofC:        proof.C,
		Lamports:      lamports,
		Recipient:     to,
	}

	trees := map[solana.PublicKey]struct{}{}
	accounts := solana.AccountMetaSlice{
		solana.Meta(owner).WRITE().SIGNER(),
		solana.Meta(to).WRITE(),
		solana.Meta(p.StateTree).WRITE(),
	}
	trees[p.StateTree] = struct{}{}

	for i, r := range inputs {
		hash, err := solana.HashFromBase58(r.Hash)
		if err != nil {
			return nil, fmt.Errorf("invalid record hash %q: %w", r.Hash, err)
		}
		args.Inputs = append(args.Inputs, inputRecord{
			Hash:      hash,
			Lamports:  r.Lamports,
			LeafIndex: r.LeafIndex,
			RootIndex: proof.RootIndices[i],
		})

		if r.Tree == "" {
			continue
		}
		tree, err := solana.PublicKeyFromBase58(r.Tree)
		if err != nil {
			return nil, fmt.Errorf("invalid tree %q for record %s: %w", r.Tree, r.Hash, err)
		}
		if _, seen := trees[tree]; !seen {
			trees[tree] = struct{}{}
			accounts = append(accounts, solana.Meta(tree).WRITE())
		}
	}
	accounts = append(accounts, solana.Meta(solana.SystemProgramID))

	data, err := encodeBorsh(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode decompress instruction: %w", err)
	}
	return solana.NewInstruction(p.ID, accounts, data), nil
}

// ComputeBudget returns the compute-budget directives prepended to every transaction
func ComputeBudget(units uint32, microLamports uint64) []solana.Instruction {
	ixs := []solana.Instruction{
		computebudget.NewSetComputeUnitLimitInstruction(units).Build(),
	}
	if microLamports > 0 {
		ixs = append(ixs, computebudget.NewSetComputeUnitPriceInstruction(microLamports).Build())
	}
	return ixs
}

func encodeBorsh(v interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := bin.NewBorshEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
