package clamm

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownPool = errors.New("pool not in state")
	ErrPoolExists  = errors.New("pool already in state")
)

// Patcher applies diff to prevState and returns the new state sorted by pool
// address. prevState is not modified and shares no memory with the result.
func Patcher(prevState []PoolView, diff SystemDiff) ([]PoolView, error) {
	state := make(map[common.Address]PoolView, len(prevState)+len(diff.Additions))
	for _, pool := range prevState {
		state[pool.Address] = pool.Clone()
	}

	for _, addr := range diff.Deletions {
		if _, ok := state[addr]; !ok {
			return nil, fmt.Errorf("%w: delete %s", ErrUnknownPool, addr.Hex())
		}
		delete(state, addr)
	}
	for _, pool := range diff.Updates {
		if _, ok := state[pool.Address]; !ok {
			return nil, fmt.Errorf("%w: update %s", ErrUnknownPool, pool.Address.Hex())
		}
		state[pool.Address] = pool.Clone()
	}
	for _, pool := range diff.Additions {
		if _, ok := state[pool.Address]; ok {
			return nil, fmt.Errorf("%w: add %s", ErrPoolExists, pool.Address.Hex())
		}
		state[pool.Address] = pool.Clone()
	}

	out := make([]PoolView, 0, len(state))
	for _, pool := range state {
		out = append(out, pool)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return out, nil
}
