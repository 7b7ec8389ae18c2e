package pool

import (
	"math/big"

	"github.com/defistate/defistate-clamm/protocols/clamm"
)

// View returns a detached snapshot of the pool for indexers.
func (p *Pool) View() clamm.PoolView {
	r0, r1 := p.reserves.Reserves()
	indices := p.ticks.Indices()

	view := clamm.PoolView{
		PoolViewMinimal: clamm.PoolViewMinimal{
			Address:      p.address,
			Token0:       p.token0,
			Token1:       p.token1,
			Fee:          p.fee,
			CommunityFee: p.communityFee,
			TickSpacing:  p.tickSpacing,
			Tick:         p.tick,
			Liquidity:    p.Liquidity(),
			SqrtPriceX96: p.GlobalState().Price,
			PluginConfig: p.plugins.Config(),
			Reserve0:     r0.Big(),
			Reserve1:     r1.Big(),
		},
		Ticks: make([]clamm.TickInfo, 0, len(indices)),
	}
	for _, index := range indices {
		t, _ := p.ticks.Get(index)
		view.Ticks = append(view.Ticks, clamm.TickInfo{
			Index:          index,
			LiquidityGross: new(big.Int).Set(t.LiquidityGross),
			LiquidityNet:   new(big.Int).Set(t.LiquidityNet),
		})
	}
	return view
}
