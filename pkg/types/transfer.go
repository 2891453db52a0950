package types

import (
	"fmt"
	"strings"
)

// Chain identifies a blockchain a transfer touches
type Chain string

const (
	ChainSolana   Chain = "solana"
	ChainEthereum Chain = "ethereum"
	ChainBase     Chain = "base"
	ChainArbitrum Chain = "arbitrum"
)

// ParseChain normalizes user input ("sol", "eth", ...) into a Chain
func ParseChain(s string) (Chain, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sol", "solana":
		return ChainSolana, nil
	case "eth", "ethereum":
		return ChainEthereum, nil
	case "base":
		return ChainBase, nil
	case "arb", "arbitrum":
		return ChainArbitrum, nil
	default:
		return "", fmt.Errorf("unsupported chain: %s", s)
	}
}

// IsEVM reports whether addresses on the chain are 20-byte hex addresses
func (c Chain) IsEVM() bool {
	switch c {
	case ChainEthereum, ChainBase, ChainArbitrum:
		return true
	default:
		return false
	}
}

// PrivacyMode selects the step sequence of a transfer
type PrivacyMode int

const (
	// FastTrack shields to the relay and unshields straight to the destination.
	FastTrack PrivacyMode = iota + 1
	// Anonymous additionally round-trips the funds through a second chain.
	Anonymous
)

// ParsePrivacyMode accepts the names used on the command line and in stored state
func ParsePrivacyMode(s string) (PrivacyMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast-track", "fasttrack", "fast":
		return FastTrack, nil
	case "anonymous", "anon":
		return Anonymous, nil
	default:
		return 0, fmt.Errorf("unknown privacy mode %q (expected fast-track or anonymous)", s)
	}
}

func (m PrivacyMode) String() string {
	switch m {
	case FastTrack:
		return "fast-track"
	case Anonymous:
		return "anonymous"
	default:
		return fmt.Sprintf("PrivacyMode(%d)", int(m))
	}
}

func (m PrivacyMode) MarshalText() ([]byte, error) {
	if m != FastTrack && m != Anonymous {
		return nil, fmt.Errorf("invalid privacy mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *PrivacyMode) UnmarshalText(b []byte) error {
	parsed, err := ParsePrivacyMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// TransferRequest represents a user's confirmed transfer. It is immutable once a saga starts.
type TransferRequest struct {
	Amount             string      `json:"amount"`   // decimal, in whole SOL
	Lamports           uint64      `json:"lamports"` // Amount in minor units
	SourceChain        Chain       `json:"source_chain"`
	DestinationChain   Chain       `json:"destination_chain"`
	SourceAddress      string      `json:"source_address"`
	DestinationAddress string      `json:"destination_address"`
	Mode               PrivacyMode `json:"mode"`
}

// TransferSummary holds formatted transfer information for display
type TransferSummary struct {
	ID          string `json:"id"`
	Mode        string `json:"mode"`
	Amount      string `json:"amount"`
	Fee         string `json:"fee"`
	Net         string `json:"net"`
	Destination string `json:"destination"`
	Step        string `json:"step"`
	Progress    string `json:"progress"`
	Status      string `json:"status"`
	UpdatedAt   string `json:"updated_at"`
}
