package clamm

import (
	"math/big"

	"github.com/defistate/defistate-clamm/protocols/clamm/plugin"
	"github.com/ethereum/go-ethereum/common"
)

// PoolViewMinimal is the pool-level state an indexer needs to quote a pool.
type PoolViewMinimal struct {
	Address      common.Address `json:"address"`
	Token0       common.Address `json:"token0"`
	Token1       common.Address `json:"token1"`
	Fee          uint16         `json:"fee"`
	CommunityFee uint16         `json:"communityFee"`
	TickSpacing  int32          `json:"tickSpacing"`
	Tick         int32          `json:"tick"`
	Liquidity    *big.Int       `json:"liquidity"`
	SqrtPriceX96 *big.Int       `json:"sqrtPriceX96"`
	PluginConfig plugin.Hook    `json:"pluginConfig"`
	Reserve0     *big.Int       `json:"reserve0"`
	Reserve1     *big.Int       `json:"reserve1"`
}

// TickInfo is an initialized tick. Its presence in a view means the tick has
// liquidity referencing it.
type TickInfo struct {
	Index          int32    `json:"index"`
	LiquidityGross *big.Int `json:"liquidityGross"`
	LiquidityNet   *big.Int `json:"liquidityNet"`
}

// PoolView is a detached snapshot of a pool: the minimal state plus its
// initialized ticks in ascending order.
type PoolView struct {
	PoolViewMinimal `json:",inline"`
	Ticks           []TickInfo `json:"ticks"`
}

// Clone returns a deep copy of v.
func (v PoolView) Clone() PoolView {
	c := v
	c.Liquidity = cloneInt(v.Liquidity)
	c.SqrtPriceX96 = cloneInt(v.SqrtPriceX96)
	c.Reserve0 = cloneInt(v.Reserve0)
	c.Reserve1 = cloneInt(v.Reserve1)
	if v.Ticks != nil {
		c.Ticks = make([]TickInfo, len(v.Ticks))
		for i, t := range v.Ticks {
			c.Ticks[i] = TickInfo{
				Index:          t.Index,
				LiquidityGross: cloneInt(t.LiquidityGross),
				LiquidityNet:   cloneInt(t.LiquidityNet),
			}
		}
	}
	return c
}

func cloneInt(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}

// bigEqual treats nil as zero.
func bigEqual(a, b *big.Int) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil:
		return b.Sign() == 0
	case b == nil:
		return a.Sign() == 0
	}
	return a.Cmp(b) == 0
}
