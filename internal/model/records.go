package model

import (
	"math/big"
	"time"
)

// PoolRecord is the storage representation of one pool inside a snapshot.
// Amounts are decimal strings so JSON and SQL numeric columns keep full
// precision.
type PoolRecord struct {
	ChainID        uint64 `json:"chain_id"`
	Generation     uint64 `json:"generation"`
	PoolID         string `json:"pool_id"`
	TokenA         string `json:"token_a"`
	TokenB         string `json:"token_b"`
	ReserveA       string `json:"reserve_a"`
	ReserveB       string `json:"reserve_b"`
	TotalLiquidity string `json:"total_liquidity"`
	TotalBorrowedA string `json:"total_borrowed_a"`
	TotalBorrowedB string `json:"total_borrowed_b"`
	InterestRateA  string `json:"interest_rate_a"`
	InterestRateB  string `json:"interest_rate_b"`
}

// SnapshotRecord is a committed snapshot as written to the journal.
type SnapshotRecord struct {
	ChainID    uint64       `json:"chain_id"`
	Account    string       `json:"account,omitempty"`
	Generation uint64       `json:"generation"`
	FetchedAt  string       `json:"fetched_at"`
	Pools      []PoolRecord `json:"pools"`
}

// IntentRecord is a finished transaction intent as written to the journal.
type IntentRecord struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	ChainID   uint64    `json:"chain_id"`
	Account   string    `json:"account"`
	PoolID    string    `json:"pool_id,omitempty"`
	TxHashes  []string  `json:"tx_hashes"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSnapshotRecord converts a snapshot for storage.
func NewSnapshotRecord(s *Snapshot) SnapshotRecord {
	rec := SnapshotRecord{
		ChainID:    s.FetchedAtSession.ChainID,
		Generation: s.Generation,
		FetchedAt:  s.FetchedAt.UTC().Format(time.RFC3339Nano),
		Pools:      make([]PoolRecord, 0, len(s.Pools)),
	}
	if s.FetchedAtSession.HasAccount {
		rec.Account = s.FetchedAtSession.Account.Hex()
	}
	for _, p := range s.Pools {
		rec.Pools = append(rec.Pools, PoolRecord{
			ChainID:        rec.ChainID,
			Generation:     s.Generation,
			PoolID:         p.ID.Hex(),
			TokenA:         p.TokenA.Hex(),
			TokenB:         p.TokenB.Hex(),
			ReserveA:       intString(p.ReserveA),
			ReserveB:       intString(p.ReserveB),
			TotalLiquidity: intString(p.TotalLiquidity),
			TotalBorrowedA: intString(p.TotalBorrowedA),
			TotalBorrowedB: intString(p.TotalBorrowedB),
			InterestRateA:  intString(p.InterestRateA),
			InterestRateB:  intString(p.InterestRateB),
		})
	}
	return rec
}

func intString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
