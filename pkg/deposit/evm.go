package deposit

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"fundswap/config"
)

var (
	// ErrInsufficientFunds is returned when the relay's EVM balance cannot cover value plus gas.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrReverted is returned when a deposit transaction was mined with a failed status.
	ErrReverted = errors.New("transaction reverted")
)

const nativeTransferGas = uint64(21000)

// Backend is the part of an Ethereum RPC client the depositor uses
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EVMDepositor sends native-asset deposits from the relay's EVM key
type EVMDepositor struct {
	networkName  string
	network      config.EVMNetwork
	client       Backend
	closer       func()
	privateKey   *ecdsa.PrivateKey
	from         common.Address
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewEVMDepositor creates a new EVM depositor for a specific network
func NewEVMDepositor(ctx context.Context, cfg config.EVMConfig, networkName string, logger *zap.Logger) (*EVMDepositor, error) {
	network, exists := cfg.Networks[networkName]
	if !exists {
		return nil, fmt.Errorf("network %s not configured", networkName)
	}
	if network.RPCUrl == "" {
		return nil, fmt.Errorf("RPC URL not configured for network %s", networkName)
	}

	client, err := ethclient.DialContext(ctx, network.RPCUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	d, err := NewEVMDepositorWithBackend(client, network, networkName, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	d.closer = client.Close
	return d, nil
}

// NewEVMDepositorWithBackend creates a depositor on an existing backend
func NewEVMDepositorWithBackend(backend Backend, network config.EVMNetwork, networkName string, logger *zap.Logger) (*EVMDepositor, error) {
	if network.PrivateKey == "" {
		return nil, fmt.Errorf("private key not configured for network %s", networkName)
	}
	if network.ChainID <= 0 {
		return nil, fmt.Errorf("chain id not configured for network %s", networkName)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(network.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EVMDepositor{
		networkName:  networkName,
		network:      network,
		client:       backend,
		privateKey:   privateKey,
		from:         crypto.PubkeyToAddress(privateKey.PublicKey),
		pollInterval: 3 * time.Second,
		logger:       logger.Named("evm").With(zap.String("network", networkName)),
	}, nil
}

// Address returns the relay's address on this network
func (e *EVMDepositor) Address() string {
	return e.from.Hex()
}

// SignedDeposit is a signed native transfer that has not necessarily been broadcast.
// Broadcasting the same SignedDeposit again cannot pay twice: it carries one nonce.
type SignedDeposit struct {
	Hash   string   `json:"hash"`
	Raw    []byte   `json:"raw"`
	To     string   `json:"to"`
	Amount *big.Int `json:"amount"`
	Nonce  uint64   `json:"nonce"`
}

// SignDeposit builds and signs a transfer of amountWei of the native asset to address.
// Nothing is sent.
func (e *EVMDepositor) SignDeposit(ctx context.Context, address string, amountWei *big.Int) (*SignedDeposit, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid recipient address: %s", address)
	}
	if amountWei == nil || amountWei.Sign() <= 0 {
		return nil, fmt.Errorf("deposit amount must be greater than 0")
	}

	nonce, err := e.client.PendingNonceAt(ctx, e.from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := e.getGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	gasLimit := nativeTransferGas
	if e.network.GasLimit != nil {
		gasLimit = *e.network.GasLimit
	}

	balance, err := e.client.BalanceAt(ctx, e.from, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	need := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	need.Add(need, amountWei)
	if balance.Cmp(need) < 0 {
		return nil, fmt.Errorf("%w: have %s wei, need %s wei (including gas)", ErrInsufficientFunds, balance, need)
	}

	tx := types.NewTransaction(
		nonce,
		common.HexToAddress(address),
		amountWei,
		gasLimit,
		gasPrice,
		nil,
	)

	chainID := big.NewInt(e.network.ChainID)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), e.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	return &SignedDeposit{
		Hash:   signedTx.Hash().Hex(),
		Raw:    raw,
		To:     address,
		Amount: new(big.Int).Set(amountWei),
		Nonce:  nonce,
	}, nil
}

// Broadcast sends a signed deposit. An error does not mean the node rejected it.
func (e *EVMDepositor) Broadcast(ctx context.Context, d *SignedDeposit) error {
	if d == nil {
		return errors.New("no signed deposit")
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(d.Raw); err != nil {
		return fmt.Errorf("failed to decode signed deposit %s: %w", d.Hash, err)
	}
	if tx.Hash().Hex() != d.Hash {
		return fmt.Errorf("signed deposit hash mismatch: recorded %s, decoded %s", d.Hash, tx.Hash().Hex())
	}

	if err := e.client.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("failed to send transaction: %w", err)
	}

	e.logger.Info("deposit sent",
		zap.String("tx_hash", d.Hash),
		zap.String("to", d.To),
		zap.Stringer("value_wei", d.Amount),
		zap.Uint64("nonce", d.Nonce))
	return nil
}

// Mined checks once whether txHash has a receipt. A reverted receipt returns ErrReverted.
func (e *EVMDepositor) Mined(ctx context.Context, txHash string) (bool, error) {
	receipt, err := e.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	switch {
	case errors.Is(err, ethereum.NotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to get receipt: %w", err)
	case receipt == nil:
		return false, nil
	case receipt.Status != types.ReceiptStatusSuccessful:
		return false, fmt.Errorf("%w: %s", ErrReverted, txHash)
	}
	return true, nil
}

// WaitMined polls for the receipt of txHash until it is mined or ctx ends
func (e *EVMDepositor) WaitMined(ctx context.Context, txHash string) error {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("%w: %s", ErrReverted, txHash)
			}
			return nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			e.logger.Warn("failed to get receipt", zap.String("tx_hash", txHash), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// getGasPrice returns the gas price to use for transactions
func (e *EVMDepositor) getGasPrice(ctx context.Context) (*big.Int, error) {
	if e.network.GasPrice != nil {
		return big.NewInt(*e.network.GasPrice), nil
	}

	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	return gasPrice, nil
}

// Close closes the client connection
func (e *EVMDepositor) Close() {
	if e.closer != nil {
		e.closer()
	}
}
