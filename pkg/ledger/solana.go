package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"go.uber.org/zap"
)

const defaultPollInterval = 2 * time.Second

// RPCConfig configures the node and indexer endpoints
type RPCConfig struct {
	Endpoint        string
	IndexerEndpoint string
	Commitment      rpc.CommitmentType
	PollInterval    time.Duration
}

// RPC implements Client over a Solana JSON-RPC node and a compression indexer
type RPC struct {
	node         *rpc.Client
	indexer      jsonrpc.RPCClient
	commitment   rpc.CommitmentType
	pollInterval time.Duration
	logger       *zap.Logger
}

var _ Client = (*RPC)(nil)

// NewRPC creates a ledger client. The indexer endpoint defaults to the node endpoint.
func NewRPC(cfg RPCConfig, logger *zap.Logger) (*RPC, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("solana rpc endpoint is required")
	}
	if cfg.IndexerEndpoint == "" {
		cfg.IndexerEndpoint = cfg.Endpoint
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RPC{
		node:         rpc.New(cfg.Endpoint),
		indexer:      jsonrpc.NewClient(cfg.IndexerEndpoint),
		commitment:   cfg.Commitment,
		pollInterval: cfg.PollInterval,
		logger:       logger.Named("ledger"),
	}, nil
}

func (c *RPC) Balance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	out, err := c.node.GetBalance(ctx, owner, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get balance of %s: %v", ErrUnavailable, owner, err)
	}
	return out.Value, nil
}

func (c *RPC) LatestBlockRef(ctx context.Context) (BlockRef, error) {
	out, err := c.node.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return BlockRef{}, fmt.Errorf("%w: failed to get latest blockhash: %v", ErrUnavailable, err)
	}
	if out == nil || out.Value == nil {
		return BlockRef{}, fmt.Errorf("%w: empty blockhash response", ErrUnavailable)
	}
	return BlockRef{
		Blockhash:            out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}

func (c *RPC) Submit(ctx context.Context, signedTx []byte) (solana.Signature, error) {
	sig, err := c.node.SendRawTransactionWithOpts(ctx, signedTx, rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			// preflight rejections are answered by the node, not lost in transit
			if isBlockhashNotFound(rpcErr) {
				return solana.Signature{}, fmt.Errorf("%w: %s", ErrBlockRefExpired, rpcErr.Message)
			}
			return solana.Signature{}, fmt.Errorf("%w: %s", ErrTxFailed, rpcErr.Message)
		}
		return solana.Signature{}, fmt.Errorf("%w: failed to send transaction: %v", ErrUnavailable, err)
	}

	c.logger.Debug("transaction submitted", zap.Stringer("signature", sig))
	return sig, nil
}

func isBlockhashNotFound(e *jsonrpc.RPCError) bool {
	return strings.Contains(strings.ToLower(e.Message), "blockhash not found")
}

func (c *RPC) Confirm(ctx context.Context, sig solana.Signature, ref BlockRef) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		done, err := c.checkSignature(ctx, sig, ref)
		if done || err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *RPC) checkSignature(ctx context.Context, sig solana.Signature, ref BlockRef) (bool, error) {
	statuses, err := c.node.GetSignatureStatuses(ctx, false, sig)
	if err != nil && !errors.Is(err, rpc.ErrNotFound) {
		return false, fmt.Errorf("%w: failed to get signature status: %v", ErrUnavailable, err)
	}

	if statuses != nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
		status := statuses.Value[0]
		if status.Err != nil {
			return true, fmt.Errorf("%w: %s: %v", ErrTxFailed, sig, status.Err)
		}
		switch status.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			c.logger.Debug("transaction confirmed",
				zap.Stringer("signature", sig),
				zap.String("status", string(status.ConfirmationStatus)))
			return true, nil
		}
		return false, nil
	}

	height, err := c.node.GetBlockHeight(ctx, c.commitment)
	if err != nil {
		return false, fmt.Errorf("%w: failed to get block height: %v", ErrUnavailable, err)
	}
	if height > ref.LastValidBlockHeight {
		return true, fmt.Errorf("%w: height %d passed %d before %s confirmed",
			ErrBlockRefExpired, height, ref.LastValidBlockHeight, sig)
	}
	return false, nil
}

func (c *RPC) FetchConfirmedTx(ctx context.Context, sig solana.Signature) (*ConfirmedTx, error) {
	maxVersion := uint64(0)
	out, err := c.node.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get transaction %s: %v", ErrUnavailable, sig, err)
	}
	if out.Meta != nil && out.Meta.Err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTxFailed, sig, out.Meta.Err)
	}

	tx := &ConfirmedTx{Signature: sig, Slot: out.Slot}
	if out.BlockTime != nil {
		tx.BlockTime = int64(*out.BlockTime)
	}
	return tx, nil
}
