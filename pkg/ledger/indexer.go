package ledger

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

type accountsByOwnerParams struct {
	Owner  string  `json:"owner"`
	Cursor *string `json:"cursor,omitempty"`
}

type accountsByOwnerResult struct {
	Value struct {
		Items  []compressedAccount `json:"items"`
		Cursor *string             `json:"cursor"`
	} `json:"value"`
}

type compressedAccount struct {
	Hash      string `json:"hash"`
	Lamports  uint64 `json:"lamports"`
	Tree      string `json:"tree"`
	LeafIndex uint32 `json:"leafIndex"`
}

type validityProofParams struct {
	Hashes []string `json:"hashes"`
}

type validityProofResult struct {
	Value struct {
		CompressedProof struct {
			A []int `json:"a"`
			B []int `json:"b"`
			C []int `json:"c"`
		} `json:"compressedProof"`
		RootIndices []uint16 `json:"rootIndices"`
		LeafIndices []uint32 `json:"leafIndices"`
		MerkleTrees []string `json:"merkleTrees"`
	} `json:"value"`
}

// maxRecordPages bounds cursor pagination against a misbehaving indexer
const maxRecordPages = 50

func (c *RPC) OwnedRecords(ctx context.Context, owner solana.PublicKey) (RecordSet, error) {
	var (
		records RecordSet
		cursor  *string
	)

	for page := 0; page < maxRecordPages; page++ {
		var out accountsByOwnerResult
		if err := c.callIndexer(ctx, &out, "getCompressedAccountsByOwner",
			accountsByOwnerParams{Owner: owner.String(), Cursor: cursor}); err != nil {
			return nil, err
		}

		for _, item := range out.Value.Items {
			if item.Lamports == 0 {
				continue
			}
			records = append(records, Record{
				Hash:      item.Hash,
				Lamports:  item.Lamports,
				Tree:      item.Tree,
				LeafIndex: item.LeafIndex,
			})
		}

		if out.Value.Cursor == nil || *out.Value.Cursor == "" || len(out.Value.Items) == 0 {
			break
		}
		cursor = out.Value.Cursor
	}

	c.logger.Debug("fetched owned records",
		zap.Stringer("owner", owner),
		zap.Int("count", len(records)),
		zap.Uint64("total", records.Total()))
	return records, nil
}

func (c *RPC) SpendProof(ctx context.Context, hashes []string) (*ValidityProof, error) {
	if len(hashes) == 0 {
		return nil, fmt.Errorf("no record hashes to prove")
	}

	var out validityProofResult
	if err := c.callIndexer(ctx, &out, "getValidityProof", validityProofParams{Hashes: hashes}); err != nil {
		return nil, err
	}

	v := out.Value
	if len(v.CompressedProof.A) == 0 || len(v.RootIndices) != len(hashes) {
		return nil, fmt.Errorf("%w: malformed validity proof for %d records", ErrUnavailable, len(hashes))
	}

	return &ValidityProof{
		A:           toBytes(v.CompressedProof.A),
		B:           toBytes(v.CompressedProof.B),
		C:           toBytes(v.CompressedProof.C),
		RootIndices: v.RootIndices,
		LeafIndices: v.LeafIndices,
		MerkleTrees: v.MerkleTrees,
	}, nil
}

func (c *RPC) callIndexer(ctx context.Context, out interface{}, method string, params interface{}) error {
	resp, err := c.indexer.Call(ctx, method, params)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%w: %s: %s", ErrUnavailable, method, resp.Error.Message)
	}
	if err := resp.GetObject(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	return nil
}

func toBytes(ints []int) []byte {
	b := make([]byte, len(ints))
	for i, v := range ints {
		b[i] = byte(v)
	}
	return b
}
