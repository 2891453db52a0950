package parser

import (
	"fmt"
	"regexp"
	"strings"
)

var transferPattern = regexp.MustCompile(`^(\d+\.?\d*)\s+([A-Za-z0-9]+)\s+(?i:to)\s+(\S+)$`)

// TransferCommand is the parsed form of "<amount> <token> to <address>"
type TransferCommand struct {
	Amount      string
	Token       string
	Destination string
}

// ParseTransferCommand parses a natural language transfer command
// Examples:
//   - "send 2 SOL to 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
//   - "0.5 sol to 0x71C7656EC7ab88b098defB751B7401B5f6d8976F"
//
// Addresses are case-sensitive, so only the verb and token are normalized.
func ParseTransferCommand(command string) (*TransferCommand, error) {
	command = strings.TrimSpace(command)

	lower := strings.ToLower(command)
	for _, verb := range []string{"send ", "transfer "} {
		if strings.HasPrefix(lower, verb) {
			command = strings.TrimSpace(command[len(verb):])
			break
		}
	}

	matches := transferPattern.FindStringSubmatch(command)
	if matches == nil {
		return nil, fmt.Errorf("invalid transfer command format. Expected: 'send <amount> <token> to <address>' (e.g., 'send 2 SOL to <address>')")
	}

	return &TransferCommand{
		Amount:      matches[1],
		Token:       NormalizeTokenSymbol(matches[2]),
		Destination: matches[3],
	}, nil
}

// NormalizeTokenSymbol normalizes token symbols to standard format
func NormalizeTokenSymbol(symbol string) string {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	aliases := map[string]string{
		"WSOL": "SOL",
		"WETH": "ETH",
	}

	if normalized, exists := aliases[symbol]; exists {
		return normalized
	}

	return symbol
}
