package model

import "github.com/ethereum/go-ethereum/common"

// TokenDecimals is fixed for every token the service lists.
const TokenDecimals uint8 = 18

// TokenMeta captures ERC20 metadata loaded once per ledger binding.
type TokenMeta struct {
	Symbol   string         `json:"symbol"`
	Name     string         `json:"name"`
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
}
