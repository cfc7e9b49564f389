package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TokenConfig is a token symbol bound to its contract address.
type TokenConfig struct {
	Symbol  string
	Address common.Address
}

// ParseAddress converts a hex string into common.Address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %q", input)
	}
	return common.HexToAddress(input), nil
}

// ParseAddresses converts string addresses into common.Address.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		addr, err := ParseAddress(input)
		if err != nil {
			return nil, err
		}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}

// ParseTokens parses SYMBOL=0xaddr entries. Symbols are upper-cased and must
// be unique.
func ParseTokens(inputs []string) ([]TokenConfig, error) {
	tokens := make([]TokenConfig, 0, len(inputs))
	seen := make(map[string]struct{}, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		parts := strings.SplitN(input, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid token entry %q, want SYMBOL=0xaddress", input)
		}
		symbol := strings.ToUpper(strings.TrimSpace(parts[0]))
		if symbol == "" {
			return nil, fmt.Errorf("invalid token entry %q: empty symbol", input)
		}
		if _, ok := seen[symbol]; ok {
			return nil, fmt.Errorf("duplicate token symbol %s", symbol)
		}
		addr, err := ParseAddress(parts[1])
		if err != nil {
			return nil, fmt.Errorf("token %s: %w", symbol, err)
		}
		seen[symbol] = struct{}{}
		tokens = append(tokens, TokenConfig{Symbol: symbol, Address: addr})
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("at least one token is required")
	}
	return tokens, nil
}
