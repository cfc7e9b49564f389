package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Snapshot is an immutable, generation-stamped view of every pool. A refresh
// always builds a new Snapshot; callers must not modify the Pools slice.
type Snapshot struct {
	Pools            []Pool
	FetchedAtSession Session
	Generation       uint64
	FetchedAt        time.Time
}

// Pool returns the pool with the given id.
func (s *Snapshot) Pool(id common.Hash) (Pool, bool) {
	if s == nil {
		return Pool{}, false
	}
	for _, p := range s.Pools {
		if p.ID == id {
			return p, true
		}
	}
	return Pool{}, false
}

// Len returns the number of pools, tolerating a nil snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Pools)
}
