package clamm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findPool(pools []PoolView, addr common.Address) *PoolView {
	for i := range pools {
		if pools[i].Address == addr {
			return &pools[i]
		}
	}
	return nil
}

func TestPatcher(t *testing.T) {
	tick1 := TickInfo{Index: 60, LiquidityNet: big.NewInt(100), LiquidityGross: big.NewInt(100)}
	tick2 := TickInfo{Index: 120, LiquidityNet: big.NewInt(200), LiquidityGross: big.NewInt(200)}

	initialState := []PoolView{
		newTestView(1, 1000, 5000, 100, []TickInfo{tick1}),
		newTestView(2, 2000, 6000, 200, []TickInfo{tick2}),
		newTestView(3, 3000, 7000, 300, nil),
	}

	t.Run("additions", func(t *testing.T) {
		newState, err := Patcher(initialState, SystemDiff{
			Additions: []PoolView{newTestView(4, 4000, 8000, 400, nil)},
		})
		require.NoError(t, err)

		assert.Len(t, newState, 4)
		added := findPool(newState, poolAddr(4))
		require.NotNil(t, added)
		assert.Equal(t, int64(4000), added.Liquidity.Int64())
	})

	t.Run("deletions", func(t *testing.T) {
		newState, err := Patcher(initialState, SystemDiff{Deletions: []common.Address{poolAddr(2)}})
		require.NoError(t, err)

		assert.Len(t, newState, 2)
		assert.Nil(t, findPool(newState, poolAddr(2)))
	})

	t.Run("updates", func(t *testing.T) {
		newState, err := Patcher(initialState, SystemDiff{
			Updates: []PoolView{newTestView(1, 1001, 5005, 101, []TickInfo{tick1})},
		})
		require.NoError(t, err)

		require.Len(t, newState, 3)
		updated := findPool(newState, poolAddr(1))
		require.NotNil(t, updated)
		assert.Equal(t, int64(1001), updated.Liquidity.Int64())
		assert.Equal(t, int64(5005), updated.SqrtPriceX96.Int64())
		assert.Equal(t, int32(101), updated.Tick)
	})

	t.Run("result shares no memory with its inputs", func(t *testing.T) {
		prev := []PoolView{newTestView(1, 1000, 5000, 100, []TickInfo{tick1.clone()})}
		update := newTestView(2, 2000, 6000, 200, []TickInfo{tick2.clone()})

		newState, err := Patcher(prev, SystemDiff{Additions: []PoolView{update}})
		require.NoError(t, err)
		require.Len(t, newState, 2)

		prev[0].Liquidity.SetInt64(9999)
		prev[0].Ticks[0].LiquidityNet.SetInt64(9999)
		update.Ticks[0].LiquidityNet.SetInt64(9999)

		assert.Equal(t, int64(1000), findPool(newState, poolAddr(1)).Liquidity.Int64())
		assert.Equal(t, int64(100), findPool(newState, poolAddr(1)).Ticks[0].LiquidityNet.Int64())
		assert.Equal(t, int64(200), findPool(newState, poolAddr(2)).Ticks[0].LiquidityNet.Int64())
	})

	t.Run("rejects inconsistent diffs", func(t *testing.T) {
		_, err := Patcher(initialState, SystemDiff{Deletions: []common.Address{poolAddr(9)}})
		assert.ErrorIs(t, err, ErrUnknownPool)

		_, err = Patcher(initialState, SystemDiff{Updates: []PoolView{newTestView(9, 1, 1, 0, nil)}})
		assert.ErrorIs(t, err, ErrUnknownPool)

		_, err = Patcher(initialState, SystemDiff{Additions: []PoolView{newTestView(1, 1, 1, 0, nil)}})
		assert.ErrorIs(t, err, ErrPoolExists)
	})

	t.Run("applying a diff reproduces the new state", func(t *testing.T) {
		next := []PoolView{
			newTestView(4, 4000, 8000, 400, nil),
			newTestView(2, 2002, 6006, 202, []TickInfo{tick2}),
			initialState[0],
		}

		newState, err := Patcher(initialState, Differ(initialState, next))
		require.NoError(t, err)
		assert.True(t, Differ(next, newState).IsEmpty())
		for i := 1; i < len(newState); i++ {
			assert.Equal(t, -1, newState[i-1].Address.Cmp(newState[i].Address), "sorted by address")
		}
	})

	t.Run("empty diff", func(t *testing.T) {
		newState, err := Patcher(initialState, SystemDiff{})
		require.NoError(t, err)
		assert.ElementsMatch(t, initialState, newState)
	})
}

func (t TickInfo) clone() TickInfo {
	return TickInfo{Index: t.Index, LiquidityGross: new(big.Int).Set(t.LiquidityGross), LiquidityNet: new(big.Int).Set(t.LiquidityNet)}
}
