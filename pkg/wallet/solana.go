// Package wallet holds local Solana keypairs that sign transactions in-process.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Keypair signs Solana transactions with a private key held in memory
type Keypair struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
}

// Load parses a base58 private key, or reads a solana-keygen JSON file when
// the value names an existing file.
func Load(keyOrPath string) (*Keypair, error) {
	keyOrPath = strings.TrimSpace(keyOrPath)
	if keyOrPath == "" {
		return nil, errors.New("private key not configured")
	}

	var (
		privateKey solana.PrivateKey
		err        error
	)
	if _, statErr := os.Stat(keyOrPath); statErr == nil {
		privateKey, err = solana.PrivateKeyFromSolanaKeygenFile(keyOrPath)
	} else {
		privateKey, err = solana.PrivateKeyFromBase58(keyOrPath)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return FromPrivateKey(privateKey), nil
}

// FromPrivateKey wraps an already parsed private key
func FromPrivateKey(privateKey solana.PrivateKey) *Keypair {
	return &Keypair{
		privateKey: privateKey,
		publicKey:  privateKey.PublicKey(),
	}
}

// PublicKey returns the address of the keypair
func (k *Keypair) PublicKey() solana.PublicKey {
	return k.publicKey
}

// SignTransaction adds this keypair's signature to tx.
// It fails if tx needs any other signer.
func (k *Keypair) SignTransaction(_ context.Context, tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(k.publicKey) {
			return &k.privateKey
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	return nil
}
