package clamm

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// SystemDiff describes how a set of pool views changed between two snapshots.
type SystemDiff struct {
	Additions []PoolView       `json:"additions,omitempty"`
	Updates   []PoolView       `json:"updates,omitempty"`
	Deletions []common.Address `json:"deletions,omitempty"`
}

// IsEmpty returns true if the diff contains no changes.
func (d SystemDiff) IsEmpty() bool {
	return len(d.Additions) == 0 && len(d.Updates) == 0 && len(d.Deletions) == 0
}

func poolChanged(old, new PoolView) bool {
	o, n := old.PoolViewMinimal, new.PoolViewMinimal
	if o.Tick != n.Tick || o.Fee != n.Fee || o.CommunityFee != n.CommunityFee ||
		o.TickSpacing != n.TickSpacing || o.PluginConfig != n.PluginConfig ||
		o.Token0 != n.Token0 || o.Token1 != n.Token1 {
		return true
	}
	if !bigEqual(o.SqrtPriceX96, n.SqrtPriceX96) || !bigEqual(o.Liquidity, n.Liquidity) {
		return true
	}
	if !bigEqual(o.Reserve0, n.Reserve0) || !bigEqual(o.Reserve1, n.Reserve1) {
		return true
	}

	if len(old.Ticks) != len(new.Ticks) {
		return true
	}
	oldTicks := sortedTicks(old.Ticks)
	newTicks := sortedTicks(new.Ticks)
	for i := range oldTicks {
		if oldTicks[i].Index != newTicks[i].Index {
			return true
		}
		if !bigEqual(oldTicks[i].LiquidityNet, newTicks[i].LiquidityNet) ||
			!bigEqual(oldTicks[i].LiquidityGross, newTicks[i].LiquidityGross) {
			return true
		}
	}
	return false
}

func sortedTicks(ticks []TickInfo) []TickInfo {
	if sort.SliceIsSorted(ticks, func(i, j int) bool { return ticks[i].Index < ticks[j].Index }) {
		return ticks
	}
	sorted := make([]TickInfo, len(ticks))
	copy(sorted, ticks)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Index < sorted[j].Index
	})
	return sorted
}

// Differ computes the diff that turns old into new, keyed by pool address.
// Additions and updates follow the order of new, deletions the order of old.
func Differ(old, new []PoolView) SystemDiff {
	oldPools := make(map[common.Address]PoolView, len(old))
	for _, pool := range old {
		oldPools[pool.Address] = pool
	}
	newPools := make(map[common.Address]struct{}, len(new))

	var diff SystemDiff
	for _, pool := range new {
		newPools[pool.Address] = struct{}{}
		prev, exists := oldPools[pool.Address]
		if !exists {
			diff.Additions = append(diff.Additions, pool)
			continue
		}
		if poolChanged(prev, pool) {
			diff.Updates = append(diff.Updates, pool)
		}
	}

	for _, pool := range old {
		if _, exists := newPools[pool.Address]; !exists {
			diff.Deletions = append(diff.Deletions, pool.Address)
		}
	}
	return diff
}
