package model

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Session is the active account and chain. The zero value is the
// disconnected session.
type Session struct {
	Account    common.Address `json:"account"`
	HasAccount bool           `json:"has_account"`
	ChainID    uint64         `json:"chain_id"`
	HasChain   bool           `json:"has_chain"`
	Connected  bool           `json:"connected"`
}

// Live reports whether the session can sign and read.
func (s Session) Live() bool {
	return s.Connected && s.HasAccount && s.HasChain
}

// OnChain reports whether the session is connected to chainID.
func (s Session) OnChain(chainID uint64) bool {
	return s.HasChain && s.ChainID == chainID
}

func (s Session) String() string {
	if !s.Connected {
		return "disconnected"
	}
	return fmt.Sprintf("%s@%d", s.Account.Hex(), s.ChainID)
}
