package pool

import (
	"fmt"
	"math/big"

	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/fullmath"
	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/liquiditymath"
	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/sqrtpricemath"
	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/tickmath"
	"github.com/defistate/defistate-clamm/protocols/clamm/plugin"
	"github.com/defistate/defistate-clamm/protocols/clamm/position"
	"github.com/ethereum/go-ethereum/common"
	"lukechampine.com/uint128"
)

// MintCallbackFunc is asked to deliver amount0 and amount1 to the pool
// during Mint. The pool measures what actually arrived.
type MintCallbackFunc func(amount0, amount1 *big.Int) error

func checkTicks(lower, upper int32) error {
	if lower >= upper {
		return fmt.Errorf("%w: lower %d >= upper %d", ErrInvalidTickRange, lower, upper)
	}
	if lower < tickmath.MIN_TICK || upper > tickmath.MAX_TICK {
		return fmt.Errorf("%w: [%d, %d]", tickmath.ErrTickOutOfBounds, lower, upper)
	}
	return nil
}

// checkSpacing applies to new liquidity only, so positions opened under an
// older tick spacing can still be burned.
func (p *Pool) checkSpacing(lower, upper int32) error {
	if lower%p.tickSpacing != 0 || upper%p.tickSpacing != 0 {
		return fmt.Errorf("%w: [%d, %d] spacing %d", ErrTickMisaligned, lower, upper, p.tickSpacing)
	}
	return nil
}

// amountsForLiquidity returns the signed token amounts for liquidityDelta
// over [lower, upper) at the current price: rounded up for additions, down
// (and negative) for removals.
func (p *Pool) amountsForLiquidity(lower, upper int32, liquidityDelta *big.Int) (amount0, amount1 *big.Int, err error) {
	amount0, amount1 = new(big.Int), new(big.Int)
	if liquidityDelta.Sign() == 0 {
		return amount0, amount1, nil
	}

	priceLower, priceUpper := new(big.Int), new(big.Int)
	if err = tickmath.GetSqrtRatioAtTick(priceLower, lower); err != nil {
		return nil, nil, err
	}
	if err = tickmath.GetSqrtRatioAtTick(priceUpper, upper); err != nil {
		return nil, nil, err
	}

	switch {
	case p.tick < lower:
		err = sqrtpricemath.GetAmount0DeltaSigned(amount0, priceLower, priceUpper, liquidityDelta)
	case p.tick < upper:
		if err = sqrtpricemath.GetAmount0DeltaSigned(amount0, p.price, priceUpper, liquidityDelta); err != nil {
			return nil, nil, err
		}
		err = sqrtpricemath.GetAmount1DeltaSigned(amount1, priceLower, p.price, liquidityDelta)
	default:
		err = sqrtpricemath.GetAmount1DeltaSigned(amount1, priceLower, priceUpper, liquidityDelta)
	}
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

// modifyPosition applies liquidityDelta to the position of owner over
// [lower, upper): both bounding ticks and their bitmap bits, the position's
// fee snapshot, and the active liquidity when the range holds the price.
func (p *Pool) modifyPosition(owner common.Address, lower, upper int32, liquidityDelta *big.Int) (amount0, amount1 *big.Int, err error) {
	now := p.now()
	g0, g1 := p.feeGrowthGlobal0, p.feeGrowthGlobal1

	var flippedLower, flippedUpper bool
	if liquidityDelta.Sign() != 0 {
		flippedLower, err = p.ticks.Update(lower, p.tick, liquidityDelta, &g0, &g1, now, false, p.maxLiquidityPerTick)
		if err != nil {
			return nil, nil, err
		}
		flippedUpper, err = p.ticks.Update(upper, p.tick, liquidityDelta, &g0, &g1, now, true, p.maxLiquidityPerTick)
		if err != nil {
			return nil, nil, err
		}
		if flippedLower {
			if err = p.bitmap.FlipTick(lower, bitmapSpacing); err != nil {
				return nil, nil, err
			}
		}
		if flippedUpper {
			if err = p.bitmap.FlipTick(upper, bitmapSpacing); err != nil {
				return nil, nil, err
			}
		}
	}

	inside0, inside1 := p.ticks.FeeGrowthInside(lower, upper, p.tick, &g0, &g1)
	key := position.Key{Owner: owner, Lower: lower, Upper: upper}
	if err = p.positions.Update(key, liquidityDelta, &inside0, &inside1); err != nil {
		return nil, nil, err
	}

	// a removal that flips a tick leaves it with zero gross liquidity
	if liquidityDelta.Sign() < 0 {
		if flippedLower {
			p.ticks.Clear(lower)
		}
		if flippedUpper {
			p.ticks.Clear(upper)
		}
	}

	amount0, amount1, err = p.amountsForLiquidity(lower, upper, liquidityDelta)
	if err != nil {
		return nil, nil, err
	}

	if lower <= p.tick && p.tick < upper && liquidityDelta.Sign() != 0 {
		next := new(big.Int)
		if err = liquiditymath.AddDelta(next, p.liquidity, liquidityDelta); err != nil {
			return nil, nil, err
		}
		p.recordCore()
		p.liquidity = next
	}
	return amount0, amount1, nil
}

// Mint adds liquidity for owner over [lower, upper). The callback is asked
// for the required amounts; if less arrives, the minted liquidity is scaled
// down to what was paid and any surplus is refunded to sender.
func (p *Pool) Mint(
	sender, owner common.Address,
	lower, upper int32,
	liquidity *big.Int,
	cb MintCallbackFunc,
) (amount0, amount1, liquidityActual *big.Int, err error) {
	err = p.execute("mint", func() error {
		if err := p.requireInitialized(); err != nil {
			return err
		}
		if err := checkTicks(lower, upper); err != nil {
			return err
		}
		if err := p.checkSpacing(lower, upper); err != nil {
			return err
		}
		if liquidity == nil || liquidity.Sign() <= 0 {
			return ErrZeroLiquidity
		}
		if liquidity.Cmp(liquiditymath.MaxUint128) > 0 {
			return liquiditymath.ErrLiquidityOverflow
		}

		params := plugin.ModifyPositionParams{
			Sender:         sender,
			Owner:          owner,
			Lower:          lower,
			Upper:          upper,
			LiquidityDelta: new(big.Int).Set(liquidity),
		}
		if err := p.plugins.BeforeModifyPosition(params); err != nil {
			return err
		}

		sync, err := p.syncReserves()
		if err != nil {
			return err
		}

		required0, required1, err := p.amountsForLiquidity(lower, upper, liquidity)
		if err != nil {
			return err
		}
		if cb != nil {
			if err := cb(new(big.Int).Set(required0), new(big.Int).Set(required1)); err != nil {
				return fmt.Errorf("mint callback: %w", err)
			}
		}
		received0, err := p.received(p.token0, sync.Balance0)
		if err != nil {
			return err
		}
		received1, err := p.received(p.token1, sync.Balance1)
		if err != nil {
			return err
		}

		actual := new(big.Int).Set(liquidity)
		if err := scaleLiquidity(actual, received0, required0); err != nil {
			return err
		}
		if err := scaleLiquidity(actual, received1, required1); err != nil {
			return err
		}
		if actual.Sign() == 0 {
			return fmt.Errorf("%w: nothing paid", ErrInsufficientInput)
		}

		amount0, amount1, err = p.modifyPosition(owner, lower, upper, actual)
		if err != nil {
			return err
		}
		if amount0.Cmp(received0) > 0 || amount1.Cmp(received1) > 0 {
			return fmt.Errorf("%w: need (%s, %s), received (%s, %s)", ErrInsufficientInput, amount0, amount1, received0, received1)
		}

		if err := p.transfer(p.token0, sender, new(big.Int).Sub(received0, amount0)); err != nil {
			return err
		}
		if err := p.transfer(p.token1, sender, new(big.Int).Sub(received1, amount1)); err != nil {
			return err
		}
		if err := p.changeReserves(amount0, amount1, new(big.Int), new(big.Int)); err != nil {
			return err
		}

		params.LiquidityDelta = new(big.Int).Set(actual)
		params.Amount0, params.Amount1 = amount0, amount1
		if err := p.plugins.AfterModifyPosition(params); err != nil {
			return err
		}

		liquidityActual = actual
		p.emit(MintEvent{
			Sender:    sender,
			Owner:     owner,
			Lower:     lower,
			Upper:     upper,
			Liquidity: new(big.Int).Set(actual),
			Amount0:   new(big.Int).Set(amount0),
			Amount1:   new(big.Int).Set(amount1),
		})
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return amount0, amount1, liquidityActual, nil
}

// scaleLiquidity reduces liquidity to liquidity * received / required when
// less than required arrived.
func scaleLiquidity(liquidity, received, required *big.Int) error {
	if required.Sign() == 0 || received.Cmp(required) >= 0 {
		return nil
	}
	if received.Sign() <= 0 {
		liquidity.SetInt64(0)
		return nil
	}
	return fullmath.MulDiv(liquidity, liquidity, received, required)
}

// Burn removes liquidity from the position of owner and credits the released
// amounts to its tokens owed. Burning zero liquidity only updates the fees
// owed, which requires the position to hold liquidity.
func (p *Pool) Burn(owner common.Address, lower, upper int32, liquidity *big.Int) (amount0, amount1 *big.Int, err error) {
	err = p.execute("burn", func() error {
		if err := p.requireInitialized(); err != nil {
			return err
		}
		if err := checkTicks(lower, upper); err != nil {
			return err
		}
		if liquidity == nil || liquidity.Sign() < 0 {
			return fmt.Errorf("%w: negative burn", ErrZeroLiquidity)
		}
		if liquidity.Cmp(liquiditymath.MaxUint128) > 0 {
			return liquiditymath.ErrLiquidityOverflow
		}

		delta := new(big.Int).Neg(liquidity)
		params := plugin.ModifyPositionParams{
			Sender:         owner,
			Owner:          owner,
			Lower:          lower,
			Upper:          upper,
			LiquidityDelta: new(big.Int).Set(delta),
		}
		if err := p.plugins.BeforeModifyPosition(params); err != nil {
			return err
		}

		if _, err := p.syncReserves(); err != nil {
			return err
		}

		a0, a1, err := p.modifyPosition(owner, lower, upper, delta)
		if err != nil {
			return err
		}
		amount0, amount1 = a0.Neg(a0), a1.Neg(a1)

		if amount0.Sign() > 0 || amount1.Sign() > 0 {
			key := position.Key{Owner: owner, Lower: lower, Upper: upper}
			if err := p.positions.Credit(key, amount0, amount1); err != nil {
				return err
			}
		}

		params.Amount0, params.Amount1 = new(big.Int).Neg(amount0), new(big.Int).Neg(amount1)
		if err := p.plugins.AfterModifyPosition(params); err != nil {
			return err
		}

		p.emit(BurnEvent{
			Owner:     owner,
			Lower:     lower,
			Upper:     upper,
			Liquidity: new(big.Int).Set(liquidity),
			Amount0:   new(big.Int).Set(amount0),
			Amount1:   new(big.Int).Set(amount1),
		})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

// Collect sends up to the requested amounts of the tokens owed to the
// position of owner to recipient. Requesting zero of both is a no-op.
func (p *Pool) Collect(
	owner, recipient common.Address,
	lower, upper int32,
	requested0, requested1 uint128.Uint128,
) (amount0, amount1 uint128.Uint128, err error) {
	err = p.execute("collect", func() error {
		if requested0.IsZero() && requested1.IsZero() {
			return nil
		}

		key := position.Key{Owner: owner, Lower: lower, Upper: upper}
		amount0, amount1, err = p.positions.Collect(key, requested0, requested1)
		if err != nil {
			return err
		}
		if amount0.IsZero() && amount1.IsZero() {
			return nil
		}

		if _, err := p.syncReserves(); err != nil {
			return err
		}
		out0, out1 := amount0.Big(), amount1.Big()
		if err := p.transfer(p.token0, recipient, out0); err != nil {
			return err
		}
		if err := p.transfer(p.token1, recipient, out1); err != nil {
			return err
		}
		if err := p.changeReserves(new(big.Int).Neg(out0), new(big.Int).Neg(out1), new(big.Int), new(big.Int)); err != nil {
			return err
		}

		p.emit(CollectEvent{
			Owner:     owner,
			Recipient: recipient,
			Lower:     lower,
			Upper:     upper,
			Amount0:   out0,
			Amount1:   out1,
		})
		return nil
	})
	if err != nil {
		return uint128.Zero, uint128.Zero, err
	}
	return amount0, amount1, nil
}
