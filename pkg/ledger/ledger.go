// Package ledger adapts the Solana RPC node and the compression indexer to the
// narrow contract the transfer saga consumes.
package ledger

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrBlockRefExpired means the chain passed the block reference's last valid
	// height before the transaction confirmed. Rebuilding with a fresh ref is safe.
	ErrBlockRefExpired = errors.New("block reference expired")
	// ErrTxFailed means the transaction landed and failed on chain.
	ErrTxFailed = errors.New("transaction failed on chain")
	// ErrNoCover means the records cannot cover the requested amount.
	ErrNoCover = errors.New("no record subset covers the amount")
	// ErrUnavailable wraps transport failures talking to the node or indexer.
	ErrUnavailable = errors.New("ledger unavailable")
)

// BlockRef is a recent blockhash plus the height after which it is no longer accepted
type BlockRef struct {
	Blockhash            solana.Hash `json:"blockhash"`
	LastValidBlockHeight uint64      `json:"last_valid_block_height"`
}

// Record is one privacy-preserving balance record owned by an address
type Record struct {
	Hash      string `json:"hash"`
	Lamports  uint64 `json:"lamports"`
	Tree      string `json:"tree,omitempty"`
	LeafIndex uint32 `json:"leaf_index"`
}

// RecordSet is a snapshot of an owner's records
type RecordSet []Record

// Total sums the lamports of every record
func (s RecordSet) Total() uint64 {
	var total uint64
	for _, r := range s {
		total += r.Lamports
	}
	return total
}

// Hashes returns the record hashes in order
func (s RecordSet) Hashes() []string {
	hashes := make([]string, len(s))
	for i, r := range s {
		hashes[i] = r.Hash
	}
	return hashes
}

// ValidityProof proves that a set of records exists and is unspent
type ValidityProof struct {
	A           []byte   `json:"a"`
	B           []byte   `json:"b"`
	C           []byte   `json:"c"`
	RootIndices []uint16 `json:"root_indices"`
	LeafIndices []uint32 `json:"leaf_indices"`
	MerkleTrees []string `json:"merkle_trees"`
}

// ConfirmedTx is the fetched record of a confirmed transaction
type ConfirmedTx struct {
	Signature solana.Signature `json:"signature"`
	Slot      uint64           `json:"slot"`
	BlockTime int64            `json:"block_time,omitempty"`
}

// Client is the ledger contract used by the saga
type Client interface {
	Balance(ctx context.Context, owner solana.PublicKey) (uint64, error)
	LatestBlockRef(ctx context.Context) (BlockRef, error)
	Submit(ctx context.Context, signedTx []byte) (solana.Signature, error)
	// Confirm waits until sig is confirmed. It returns ErrBlockRefExpired once the
	// chain passes ref without seeing sig, and ErrTxFailed if sig failed on chain.
	Confirm(ctx context.Context, sig solana.Signature, ref BlockRef) error
	// FetchConfirmedTx returns nil without error when the node has no record of sig.
	FetchConfirmedTx(ctx context.Context, sig solana.Signature) (*ConfirmedTx, error)
	OwnedRecords(ctx context.Context, owner solana.PublicKey) (RecordSet, error)
	SpendProof(ctx context.Context, hashes []string) (*ValidityProof, error)
}
