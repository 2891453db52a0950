// Package deposit sends second-chain deposits with the relay's EVM keys.
package deposit

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"fundswap/config"
)

// Depositor sends native deposits on one chain. Signing and broadcasting are
// separate so a caller can record the hash before the transaction can exist.
type Depositor interface {
	Address() string
	SignDeposit(ctx context.Context, address string, amount *big.Int) (*SignedDeposit, error)
	Broadcast(ctx context.Context, d *SignedDeposit) error
	Mined(ctx context.Context, txHash string) (bool, error)
	WaitMined(ctx context.Context, txHash string) error
}

// Manager hands out depositors per configured EVM network
type Manager struct {
	config config.EVMConfig
	logger *zap.Logger

	mu         sync.Mutex
	depositors map[string]*EVMDepositor
}

// NewManager creates a new deposit manager
func NewManager(cfg config.EVMConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		config:     cfg,
		logger:     logger,
		depositors: map[string]*EVMDepositor{},
	}
}

// IsEnabledForChain returns whether a network is configured for chain
func (m *Manager) IsEnabledForChain(chain string) bool {
	_, ok := m.config.Networks[strings.ToLower(chain)]
	return ok
}

// ForChain returns the depositor for chain, dialing it on first use
func (m *Manager) ForChain(ctx context.Context, chain string) (Depositor, error) {
	chain = strings.ToLower(chain)

	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.depositors[chain]; ok {
		return d, nil
	}
	if !m.IsEnabledForChain(chain) {
		return nil, fmt.Errorf("no EVM network configured for chain: %s", chain)
	}

	d, err := NewEVMDepositor(ctx, m.config, chain, m.logger)
	if err != nil {
		return nil, err
	}
	m.depositors[chain] = d
	return d, nil
}

// RelayAddress derives the relay's address on chain from its key, without dialing the network
func (m *Manager) RelayAddress(chain string) (string, error) {
	network, ok := m.config.Networks[strings.ToLower(chain)]
	if !ok {
		return "", fmt.Errorf("no EVM network configured for chain: %s", chain)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(network.PrivateKey, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid private key for %s: %w", chain, err)
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// GetSupportedChains returns the configured network names
func (m *Manager) GetSupportedChains() []string {
	supported := make([]string, 0, len(m.config.Networks))
	for name := range m.config.Networks {
		supported = append(supported, name)
	}
	sort.Strings(supported)
	return supported
}

// Close closes every dialed depositor
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.depositors {
		d.Close()
	}
}
