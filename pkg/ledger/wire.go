package ledger

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// WireAccount is the JSON form of an instruction account
type WireAccount struct {
	Pubkey   string `json:"pubkey"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
}

// WireInstruction is the JSON form of an unsigned instruction
type WireInstruction struct {
	ProgramID string        `json:"program_id"`
	Accounts  []WireAccount `json:"accounts"`
	Data      []byte        `json:"data"`
}

// EncodeInstructions converts instructions to their wire form
func EncodeInstructions(ixs []solana.Instruction) ([]WireInstruction, error) {
	out := make([]WireInstruction, 0, len(ixs))
	for i, ix := range ixs {
		data, err := ix.Data()
		if err != nil {
			return nil, fmt.Errorf("instruction %d: failed to encode data: %w", i, err)
		}

		w := WireInstruction{ProgramID: ix.ProgramID().String(), Data: data}
		for _, acc := range ix.Accounts() {
			w.Accounts = append(w.Accounts, WireAccount{
				Pubkey:   acc.PublicKey.String(),
				Signer:   acc.IsSigner,
				Writable: acc.IsWritable,
			})
		}
		out = append(out, w)
	}
	return out, nil
}

// DecodeInstructions parses wire instructions back into solana instructions
func DecodeInstructions(wire []WireInstruction) ([]solana.Instruction, error) {
	if len(wire) == 0 {
		return nil, errors.New("no instructions")
	}

	out := make([]solana.Instruction, 0, len(wire))
	for i, w := range wire {
		programID, err := solana.PublicKeyFromBase58(w.ProgramID)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: invalid program id: %w", i, err)
		}

		accounts := make(solana.AccountMetaSlice, 0, len(w.Accounts))
		for j, a := range w.Accounts {
			pk, err := solana.PublicKeyFromBase58(a.Pubkey)
			if err != nil {
				return nil, fmt.Errorf("instruction %d account %d: %w", i, j, err)
			}
			accounts = append(accounts, solana.NewAccountMeta(pk, a.Writable, a.Signer))
		}
		out = append(out, solana.NewInstruction(programID, accounts, w.Data))
	}
	return out, nil
}

// Signers lists the distinct accounts the instructions require signatures from
func Signers(ixs []solana.Instruction) []solana.PublicKey {
	seen := map[solana.PublicKey]struct{}{}
	var out []solana.PublicKey
	for _, ix := range ixs {
		for _, acc := range ix.Accounts() {
			if !acc.IsSigner {
				continue
			}
			if _, ok := seen[acc.PublicKey]; ok {
				continue
			}
			seen[acc.PublicKey] = struct{}{}
			out = append(out, acc.PublicKey)
		}
	}
	return out
}

// NewTransaction assembles an unsigned transaction paid for by payer
func NewTransaction(ixs []solana.Instruction, ref BlockRef, payer solana.PublicKey) (*solana.Transaction, error) {
	tx, err := solana.NewTransaction(ixs, ref.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	return tx, nil
}
