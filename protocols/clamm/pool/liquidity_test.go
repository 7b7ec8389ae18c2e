package pool

import (
	"math/big"
	"testing"

	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/liquiditymath"
	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/tickmath"
	"github.com/defistate/defistate-clamm/protocols/clamm/position"
	"github.com/defistate/defistate-clamm/protocols/clamm/ticks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"
)

func TestMint(t *testing.T) {
	t.Run("balanced amounts around the current price", func(t *testing.T) {
		h := newTestPool(t)
		h.initialize(t, 0)

		a0, a1 := h.mint(t, lp, -60, 60, big.NewInt(1000))
		assert.Equal(t, int64(3), a0.Int64())
		assert.Equal(t, int64(3), a1.Int64())

		assert.Equal(t, int64(1000), h.pool.Liquidity().Int64())
		assert.True(t, h.pool.IsTickInitialized(-60))
		assert.True(t, h.pool.IsTickInitialized(60))
		assert.False(t, h.pool.IsTickInitialized(0))

		lower, ok := h.pool.Tick(-60)
		require.True(t, ok)
		assert.Equal(t, int64(1000), lower.LiquidityNet.Int64())
		upper, ok := h.pool.Tick(60)
		require.True(t, ok)
		assert.Equal(t, int64(-1000), upper.LiquidityNet.Int64())

		pos, ok := h.pool.Position(position.Key{Owner: lp, Lower: -60, Upper: 60})
		require.True(t, ok)
		assert.Equal(t, int64(1000), pos.Liquidity.Int64())
		h.checkInvariants(t)
	})

	t.Run("large position is balanced at price one", func(t *testing.T) {
		h := newTestPool(t)
		h.initialize(t, 0)

		a0, a1 := h.mint(t, lp, -60, 60, n("1000000000000000000"))
		diff := new(big.Int).Sub(a0, a1)
		assert.True(t, diff.CmpAbs(big.NewInt(2)) <= 0, "amount0 %s amount1 %s", a0, a1)
		assert.Equal(t, "2995354", new(big.Int).Quo(a0, big.NewInt(1_000_000_000)).String())
	})

	t.Run("one-sided ranges", func(t *testing.T) {
		h := newTestPool(t)
		h.initialize(t, 0)

		a0, a1 := h.mint(t, lp, 60, 120, n("1000000000000000000"))
		assert.Positive(t, a0.Sign())
		assert.Zero(t, a1.Sign())

		a0, a1 = h.mint(t, lp, -120, -60, n("1000000000000000000"))
		assert.Zero(t, a0.Sign())
		assert.Positive(t, a1.Sign())

		assert.Zero(t, h.pool.Liquidity().Sign(), "out of range positions are not active")
		h.checkInvariants(t)
	})

	t.Run("range starting at the current tick is active", func(t *testing.T) {
		h := newTestPool(t)
		h.initialize(t, 60)
		h.mint(t, lp, 60, 120, big.NewInt(1000))
		assert.Equal(t, int64(1000), h.pool.Liquidity().Int64())
		h.checkInvariants(t)
	})

	t.Run("scales liquidity to a short payment", func(t *testing.T) {
		h := newHarness(t, harnessConfig{defaults: testDefaults, token1FeePct: 1})
		h.initialize(t, 0)
		before0 := h.balance(t, token0, lp)

		liquidity := n("1000000000000000000")
		a0, a1, actual, err := h.pool.Mint(lp, lp, -60, 60, liquidity, h.payer(lp))
		require.NoError(t, err)

		assert.Equal(t, -1, actual.Cmp(liquidity))
		ratio := new(big.Int).Quo(new(big.Int).Mul(actual, big.NewInt(1000)), liquidity)
		assert.Equal(t, int64(990), ratio.Int64())

		pos, _ := h.pool.Position(position.Key{Owner: lp, Lower: -60, Upper: 60})
		assert.Equal(t, actual.String(), pos.Liquidity.String())
		assert.Equal(t, actual.String(), h.pool.Liquidity().String())

		// the token0 surplus comes back to the sender
		spent0 := new(big.Int).Sub(before0, h.balance(t, token0, lp))
		assert.Equal(t, a0.String(), spent0.String())
		assert.Positive(t, a1.Sign())

		var minted MintEvent
		for _, e := range h.sink.envelopes {
			if m, ok := e.Event.(MintEvent); ok {
				minted = m
			}
		}
		require.NotNil(t, minted.Liquidity)
		assert.Equal(t, actual.String(), minted.Liquidity.String())
		h.checkInvariants(t)
	})

	t.Run("second mint takes exactly what it owes", func(t *testing.T) {
		h := newTestPool(t)
		h.initialize(t, 0)
		h.mint(t, lp, -600, 600, n("1000000000"))

		pool0, pool1 := h.balance(t, token0, poolAddr), h.balance(t, token1, poolAddr)
		lp0, lp1 := h.balance(t, token0, lp), h.balance(t, token1, lp)

		a0, a1 := h.mint(t, lp, 1200, 1800, n("1000000"))
		assert.Positive(t, a0.Sign())
		assert.Zero(t, a1.Sign(), "range above the price takes token0 only")

		assert.Equal(t, new(big.Int).Add(pool0, a0).String(), h.balance(t, token0, poolAddr).String())
		assert.Equal(t, new(big.Int).Add(pool1, a1).String(), h.balance(t, token1, poolAddr).String())
		assert.Equal(t, new(big.Int).Sub(lp0, a0).String(), h.balance(t, token0, lp).String())
		assert.Equal(t, lp1.String(), h.balance(t, token1, lp).String())
		h.checkInvariants(t)
	})

	t.Run("rejects a missing payment", func(t *testing.T) {
		h := newTestPool(t)
		h.initialize(t, 0)
		_, _, _, err := h.pool.Mint(lp, lp, -60, 60, big.NewInt(1000), nil)
		assert.ErrorIs(t, err, ErrInsufficientInput)
		assert.Empty(t, h.pool.TickIndices())
		assert.Empty(t, h.pool.PositionKeys())
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		h := newTestPool(t)
		h.initialize(t, 0)

		tests := []struct {
			name         string
			lower, upper int32
			liquidity    *big.Int
			err          error
		}{
			{"inverted range", 60, -60, big.NewInt(1), ErrInvalidTickRange},
			{"empty range", 60, 60, big.NewInt(1), ErrInvalidTickRange},
			{"misaligned lower", -59, 60, big.NewInt(1), ErrTickMisaligned},
			{"misaligned upper", -60, 61, big.NewInt(1), ErrTickMisaligned},
			{"below min tick", -887280, 0, big.NewInt(1), tickmath.ErrTickOutOfBounds},
			{"above max tick", 0, 887280, big.NewInt(1), tickmath.ErrTickOutOfBounds},
			{"zero liquidity", -60, 60, big.NewInt(0), ErrZeroLiquidity},
			{"negative liquidity", -60, 60, big.NewInt(-1), ErrZeroLiquidity},
			{"beyond uint128", -60, 60, new(big.Int).Lsh(big.NewInt(1), 128), liquiditymath.ErrLiquidityOverflow},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, _, _, err := h.pool.Mint(lp, lp, tt.lower, tt.upper, tt.liquidity, h.payer(lp))
				assert.ErrorIs(t, err, tt.err)
			})
		}
	})

	t.Run("caps liquidity per tick", func(t *testing.T) {
		h := newTestPool(t)
		h.initialize(t, 0)
		rich := n("1000000000000000000000000000000000000")
		require.NoError(t, h.ledger.Mint(token0, lp, rich))
		require.NoError(t, h.ledger.Mint(token1, lp, rich))

		tooMuch := new(big.Int).Add(h.pool.MaxLiquidityPerTick(), big.NewInt(1))
		_, _, _, err := h.pool.Mint(lp, lp, -60, 60, tooMuch, h.payer(lp))
		assert.ErrorIs(t, err, ticks.ErrLiquidityPerTickExceeded)
	})
}

func TestBurn(t *testing.T) {
	key := position.Key{Owner: lp, Lower: -60, Upper: 60}

	t.Run("credits removed amounts to tokens owed", func(t *testing.T) {
		h := newTestPool(t)
		h.initialize(t, 0)
		h.mint(t, lp, -60, 60, n("1000000000000000000"))

		a0, a1, err := h.pool.Burn(lp, -60, 60, n("400000000000000000"))
		require.NoError(t, err)
		assert.Positive(t, a0.Sign())
		assert.Positive(t, a1.Sign())

		pos, _ := h.pool.Position(key)
		assert.Equal(t, "600000000000000000", pos.Liquidity.String())
		assert.Equal(t, a0.String(), pos.TokensOwed0.String())
		assert.Equal(t, a1.String(), pos.TokensOwed1.String())
		assert.Equal(t, "600000000000000000", h.pool.Liquidity().String())
		h.checkInvariants(t)
	})

	t.Run("full removal clears ticks", func(t *testing.T) {
		h := newTestPool(t)
		h.initialize(t, 0)
		h.mint(t, lp, -60, 60, big.NewInt(1000))

		_, _, err := h.pool.Burn(lp, -60, 60, big.NewInt(1000))
		require.NoError(t, err)
		assert.Empty(t, h.pool.TickIndices())
		assert.False(t, h.pool.IsTickInitialized(-60))
		assert.False(t, h.pool.IsTickInitialized(60))
		assert.Zero(t, h.pool.Liquidity().Sign())

		_, ok := h.pool.Position(key)
		assert.True(t, ok, "positions are never deleted")
	})

	t.Run("shared tick survives partial removal", func(t *testing.T) {
		h := newTestPool(t)
		h.initialize(t, 0)
		h.mint(t, lp, -60, 60, big.NewInt(1000))
		h.mint(t, lp, 60, 120, big.NewInt(500))

		_, _, err := h.pool.Burn(lp, -60, 60, big.NewInt(1000))
		require.NoError(t, err)
		assert.True(t, h.pool.IsTickInitialized(60))
		assert.False(t, h.pool.IsTickInitialized(-60))
		h.checkInvariants(t)
	})

	t.Run("poke accrues fees", func(t *testing.T) {
		h := newTestPool(t)
		h.initialize(t, 0)
		h.mint(t, lp, -60, 60, n("1000000000000000000"))
		h.swap(t, true, n("1000000000000000"))

		a0, a1, err := h.pool.Burn(lp, -60, 60, big.NewInt(0))
		require.NoError(t, err)
		assert.Zero(t, a0.Sign())
		assert.Zero(t, a1.Sign())

		pos, _ := h.pool.Position(key)
		assert.False(t, pos.TokensOwed0.IsZero())
		assert.True(t, pos.TokensOwed1.IsZero())
	})

	t.Run("rejects poke without liquidity", func(t *testing.T) {
		h := newTestPool(t)
		h.initialize(t, 0)
		_, _, err := h.pool.Burn(lp, -60, 60, big.NewInt(0))
		assert.ErrorIs(t, err, position.ErrNoLiquidity)
	})

	t.Run("rejects removing more than held", func(t *testing.T) {
		h := newTestPool(t)
		h.initialize(t, 0)
		h.mint(t, lp, -60, 60, big.NewInt(1000))
		_, _, err := h.pool.Burn(lp, -60, 60, big.NewInt(1001))
		assert.ErrorIs(t, err, liquiditymath.ErrLiquidityUnderflow)

		pos, _ := h.pool.Position(key)
		assert.Equal(t, int64(1000), pos.Liquidity.Int64())
		h.checkInvariants(t)
	})

	t.Run("owner only burns its own position", func(t *testing.T) {
		h := newTestPool(t)
		h.initialize(t, 0)
		h.mint(t, lp, -60, 60, big.NewInt(1000))
		_, _, err := h.pool.Burn(trader, -60, 60, big.NewInt(1))
		assert.ErrorIs(t, err, liquiditymath.ErrLiquidityUnderflow)
	})
}

func TestCollect(t *testing.T) {
	t.Run("owed fees remain collectible after full removal", func(t *testing.T) {
		h := newTestPool(t)
		h.initialize(t, 0)
		liquidity := n("1000000000000000000")
		paid0, paid1 := h.mint(t, lp, -60, 60, liquidity)
		h.swap(t, true, n("1000000000000000"))
		h.swap(t, false, n("1000000000000000"))

		burned0, burned1, err := h.pool.Burn(lp, -60, 60, liquidity)
		require.NoError(t, err)
		pos, _ := h.pool.Position(position.Key{Owner: lp, Lower: -60, Upper: 60})
		assert.Zero(t, pos.Liquidity.Sign())
		assert.True(t, pos.TokensOwed0.Big().Cmp(burned0) > 0, "fees on top of principal")
		assert.True(t, pos.TokensOwed1.Big().Cmp(burned1) > 0, "fees on top of principal")

		before0, before1 := h.balance(t, token0, lp), h.balance(t, token1, lp)
		c0, c1, err := h.pool.Collect(lp, lp, -60, 60, maxUint128, maxUint128)
		require.NoError(t, err)
		assert.Equal(t, pos.TokensOwed0, c0)
		assert.Equal(t, pos.TokensOwed1, c1)
		assert.Equal(t, new(big.Int).Add(before0, c0.Big()).String(), h.balance(t, token0, lp).String())
		assert.Equal(t, new(big.Int).Add(before1, c1.Big()).String(), h.balance(t, token1, lp).String())

		// both swaps paid fees, so the position earned more than it put in
		assert.True(t, c0.Big().Cmp(paid0) > 0 || c1.Big().Cmp(paid1) > 0)

		c0, c1, err = h.pool.Collect(lp, lp, -60, 60, maxUint128, maxUint128)
		require.NoError(t, err)
		assert.True(t, c0.IsZero())
		assert.True(t, c1.IsZero())
		h.checkInvariants(t)
	})

	t.Run("caps at the requested amount", func(t *testing.T) {
		h := newTestPool(t)
		h.initialize(t, 0)
		h.mint(t, lp, -60, 60, big.NewInt(1_000_000))
		_, _, err := h.pool.Burn(lp, -60, 60, big.NewInt(1_000_000))
		require.NoError(t, err)

		c0, c1, err := h.pool.Collect(lp, trader, -60, 60, uint128.From64(10), uint128.Zero)
		require.NoError(t, err)
		assert.Equal(t, uint128.From64(10), c0)
		assert.True(t, c1.IsZero())

		pos, _ := h.pool.Position(position.Key{Owner: lp, Lower: -60, Upper: 60})
		assert.False(t, pos.TokensOwed1.IsZero())
		h.checkInvariants(t)
	})

	t.Run("zero request is a no-op", func(t *testing.T) {
		h := newTestPool(t)
		h.initialize(t, 0)
		h.mint(t, lp, -60, 60, big.NewInt(1_000_000))
		_, _, err := h.pool.Burn(lp, -60, 60, big.NewInt(1_000_000))
		require.NoError(t, err)
		h.sink.reset()
		before, _ := h.pool.Position(position.Key{Owner: lp, Lower: -60, Upper: 60})

		c0, c1, err := h.pool.Collect(lp, lp, -60, 60, uint128.Zero, uint128.Zero)
		require.NoError(t, err)
		assert.True(t, c0.IsZero())
		assert.True(t, c1.IsZero())
		assert.Empty(t, h.sink.kinds())

		after, _ := h.pool.Position(position.Key{Owner: lp, Lower: -60, Upper: 60})
		assert.Equal(t, before.TokensOwed0, after.TokensOwed0)
		assert.Equal(t, before.TokensOwed1, after.TokensOwed1)
	})

	t.Run("unknown position", func(t *testing.T) {
		h := newTestPool(t)
		h.initialize(t, 0)
		_, _, err := h.pool.Collect(lp, lp, -60, 60, maxUint128, maxUint128)
		assert.ErrorIs(t, err, position.ErrNotFound)
	})
}

func TestAddRemoveRoundTrip(t *testing.T) {
	ranges := []struct {
		name         string
		lower, upper int32
	}{
		{"straddling", -60, 60},
		{"above price", 60, 600},
		{"below price", -600, -60},
		{"full range", tickmath.MinUsableTick(60), tickmath.MaxUsableTick(60)},
		{"narrow", -120, -60},
	}
	liquidities := []string{"1", "1000", "123456789", "1000000000000000007"}

	for _, r := range ranges {
		for _, l := range liquidities {
			t.Run(r.name+"/"+l, func(t *testing.T) {
				h := newTestPool(t)
				h.initialize(t, -7)
				liquidity := n(l)

				before0, before1 := h.balance(t, token0, lp), h.balance(t, token1, lp)
				_, _, actual, err := h.pool.Mint(lp, lp, r.lower, r.upper, liquidity, h.payer(lp))
				require.NoError(t, err)
				require.Equal(t, liquidity.String(), actual.String())
				_, _, err = h.pool.Burn(lp, r.lower, r.upper, actual)
				require.NoError(t, err)
				_, _, err = h.pool.Collect(lp, lp, r.lower, r.upper, maxUint128, maxUint128)
				require.NoError(t, err)

				lost0 := new(big.Int).Sub(before0, h.balance(t, token0, lp))
				lost1 := new(big.Int).Sub(before1, h.balance(t, token1, lp))
				for _, lost := range []*big.Int{lost0, lost1} {
					assert.GreaterOrEqual(t, lost.Sign(), 0, "the pool never pays out more than it received")
					assert.True(t, lost.Cmp(big.NewInt(1)) <= 0, "lost %s", lost)
				}
				assert.Empty(t, h.pool.TickIndices())
				h.checkInvariants(t)
			})
		}
	}
}
