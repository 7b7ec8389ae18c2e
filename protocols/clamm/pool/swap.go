package pool

import (
	"fmt"
	"math/big"

	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/fullmath"
	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/liquiditymath"
	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/swapmath"
	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/tickmath"
	"github.com/defistate/defistate-clamm/protocols/clamm/plugin"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var communityFeeDenominator = big.NewInt(MaxCommunityFee)

// SwapCallbackFunc is asked to deliver the input owed by the swapper. A
// positive amount is owed to the pool; a negative one will be paid out.
type SwapCallbackFunc func(amount0, amount1 *big.Int) error

// SwapResult is the outcome of a swap. Positive amounts are paid into the
// pool, negative amounts are paid out of it.
type SwapResult struct {
	Amount0       *big.Int
	Amount1       *big.Int
	Price         *big.Int
	Tick          int32
	Liquidity     *big.Int
	CommunityFee0 *big.Int
	CommunityFee1 *big.Int
	Fee           uint32
	TicksCrossed  int
}

// swapState is the running state of the swap loop.
type swapState struct {
	amountSpecifiedRemaining *big.Int
	amountCalculated         *big.Int
	price                    *big.Int
	tick                     int32
	liquidity                *big.Int
	// fee growth of the input token; the output token's does not move
	feeGrowthGlobal uint256.Int
	communityFee    *big.Int
	ticksCrossed    int

	priceStart *big.Int
	priceNext  *big.Int
	target     *big.Int
	stepFee    *big.Int
	scratch    *big.Int
	step       *swapmath.Step
}

func newSwapState() *swapState {
	return &swapState{
		amountSpecifiedRemaining: new(big.Int),
		amountCalculated:         new(big.Int),
		price:                    new(big.Int),
		liquidity:                new(big.Int),
		communityFee:             new(big.Int),
		priceStart:               new(big.Int),
		priceNext:                new(big.Int),
		target:                   new(big.Int),
		stepFee:                  new(big.Int),
		scratch:                  new(big.Int),
		step:                     swapmath.NewStep(),
	}
}

func (p *Pool) checkPriceLimit(zeroToOne bool, limit *big.Int) error {
	if limit == nil {
		return fmt.Errorf("%w: nil", ErrInvalidPriceLimit)
	}
	if zeroToOne {
		if limit.Cmp(p.price) >= 0 || limit.Cmp(tickmath.MIN_SQRT_RATIO) <= 0 {
			return fmt.Errorf("%w: %s for price %s going down", ErrInvalidPriceLimit, limit, p.price)
		}
		return nil
	}
	if limit.Cmp(p.price) <= 0 || limit.Cmp(tickmath.MAX_SQRT_RATIO) >= 0 {
		return fmt.Errorf("%w: %s for price %s going up", ErrInvalidPriceLimit, limit, p.price)
	}
	return nil
}

// calculateSwap walks the price from the current price toward limit,
// crossing initialized ticks, until amountSpecified is used up or the limit
// is reached. Tick crossings and the new price, tick, liquidity and fee
// growth are written to the pool; the caller settles the amounts.
func (p *Pool) calculateSwap(zeroToOne bool, amountSpecified, limit *big.Int, fee uint32, notify bool) (*SwapResult, error) {
	s := newSwapState()
	s.amountSpecifiedRemaining.Set(amountSpecified)
	s.price.Set(p.price)
	s.tick = p.tick
	s.liquidity.Set(p.liquidity)
	if zeroToOne {
		s.feeGrowthGlobal = p.feeGrowthGlobal0
	} else {
		s.feeGrowthGlobal = p.feeGrowthGlobal1
	}

	exactInput := amountSpecified.Sign() > 0
	communityFee := big.NewInt(int64(p.communityFee))
	now := p.now()

	for s.amountSpecifiedRemaining.Sign() != 0 && s.price.Cmp(limit) != 0 {
		s.priceStart.Set(s.price)

		tickNext, initialized := p.bitmap.NextInitializedTickWithinOneWord(s.tick, bitmapSpacing, zeroToOne)
		if tickNext < tickmath.MIN_TICK {
			tickNext = tickmath.MIN_TICK
		} else if tickNext > tickmath.MAX_TICK {
			tickNext = tickmath.MAX_TICK
		}
		if err := tickmath.GetSqrtRatioAtTick(s.priceNext, tickNext); err != nil {
			return nil, err
		}

		if (zeroToOne && s.priceNext.Cmp(limit) < 0) || (!zeroToOne && s.priceNext.Cmp(limit) > 0) {
			s.target.Set(limit)
		} else {
			s.target.Set(s.priceNext)
		}

		if err := swapmath.ComputeSwapStep(s.step, s.price, s.target, s.liquidity, s.amountSpecifiedRemaining, fee); err != nil {
			return nil, fmt.Errorf("swap step at tick %d: %w", s.tick, err)
		}
		s.price.Set(s.step.SqrtPriceNextX96)

		if exactInput {
			s.amountSpecifiedRemaining.Sub(s.amountSpecifiedRemaining, s.scratch.Add(s.step.AmountIn, s.step.FeeAmount))
			s.amountCalculated.Sub(s.amountCalculated, s.step.AmountOut)
		} else {
			s.amountSpecifiedRemaining.Add(s.amountSpecifiedRemaining, s.step.AmountOut)
			s.amountCalculated.Add(s.amountCalculated, s.scratch.Add(s.step.AmountIn, s.step.FeeAmount))
		}

		s.stepFee.Set(s.step.FeeAmount)
		if communityFee.Sign() > 0 && s.stepFee.Sign() > 0 {
			delta := new(big.Int).Mul(s.stepFee, communityFee)
			delta.Quo(delta, communityFeeDenominator)
			s.stepFee.Sub(s.stepFee, delta)
			s.communityFee.Add(s.communityFee, delta)
		}
		if s.liquidity.Sign() > 0 {
			if err := addFeeGrowth(&s.feeGrowthGlobal, s.stepFee, s.liquidity); err != nil {
				return nil, err
			}
		} else {
			s.communityFee.Add(s.communityFee, s.stepFee)
		}

		if s.price.Cmp(s.priceNext) == 0 {
			if initialized {
				if err := p.crossTick(s, tickNext, zeroToOne, now); err != nil {
					return nil, err
				}
				if notify && p.observer != nil {
					if err := p.observer.CrossTo(tickNext, zeroToOne); err != nil {
						return nil, fmt.Errorf("crossing observer at tick %d: %w", tickNext, err)
					}
				}
			}
			if zeroToOne {
				s.tick = tickNext - 1
			} else {
				s.tick = tickNext
			}
		} else if s.price.Cmp(s.priceStart) != 0 {
			tick, err := tickmath.GetTickAtSqrtRatio(s.price)
			if err != nil {
				return nil, err
			}
			s.tick = tick
		}
	}

	result := &SwapResult{
		Price:         new(big.Int).Set(s.price),
		Tick:          s.tick,
		Liquidity:     new(big.Int).Set(s.liquidity),
		CommunityFee0: new(big.Int),
		CommunityFee1: new(big.Int),
		Fee:           fee,
		TicksCrossed:  s.ticksCrossed,
	}
	consumed := new(big.Int).Sub(amountSpecified, s.amountSpecifiedRemaining)
	if zeroToOne == exactInput {
		result.Amount0, result.Amount1 = consumed, new(big.Int).Set(s.amountCalculated)
	} else {
		result.Amount0, result.Amount1 = new(big.Int).Set(s.amountCalculated), consumed
	}

	amountIn := result.Amount1
	if zeroToOne {
		amountIn = result.Amount0
		result.CommunityFee0.Set(s.communityFee)
	} else {
		result.CommunityFee1.Set(s.communityFee)
	}
	if amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: liquidity %s between price %s and limit %s", ErrZeroLiquiditySwap, p.liquidity, p.price, limit)
	}

	p.recordCore()
	p.price = result.Price
	p.tick = result.Tick
	p.liquidity = new(big.Int).Set(result.Liquidity)
	if zeroToOne {
		p.feeGrowthGlobal0 = s.feeGrowthGlobal
	} else {
		p.feeGrowthGlobal1 = s.feeGrowthGlobal
	}
	return result, nil
}

// crossTick moves tickNext to the other side of the price and applies its
// net liquidity in the direction of travel.
func (p *Pool) crossTick(s *swapState, tickNext int32, zeroToOne bool, now uint32) error {
	g0, g1 := p.feeGrowthGlobal0, p.feeGrowthGlobal1
	if zeroToOne {
		g0 = s.feeGrowthGlobal
	} else {
		g1 = s.feeGrowthGlobal
	}

	net, err := p.ticks.Cross(tickNext, &g0, &g1, now)
	if err != nil {
		return err
	}
	if zeroToOne {
		net.Neg(net)
	}
	next := new(big.Int)
	if err := liquiditymath.AddDelta(next, s.liquidity, net); err != nil {
		return fmt.Errorf("crossing tick %d: %w", tickNext, err)
	}
	s.liquidity.Set(next)
	s.ticksCrossed++
	return nil
}

// swapFee returns the fee for a swap, letting the plugin override it.
func (p *Pool) swapFee(params plugin.SwapParams) (uint32, error) {
	fee, override, err := p.plugins.BeforeSwap(params)
	if err != nil {
		return 0, err
	}
	if !override {
		return uint32(p.fee), nil
	}
	if fee > MaxFee {
		return 0, fmt.Errorf("%w: plugin fee %d", ErrInvalidFee, fee)
	}
	return fee, nil
}

func (p *Pool) checkSwap(amountSpecified, limit *big.Int, zeroToOne bool) error {
	if err := p.requireInitialized(); err != nil {
		return err
	}
	if amountSpecified == nil || amountSpecified.Sign() == 0 {
		return ErrZeroAmount
	}
	return p.checkPriceLimit(zeroToOne, limit)
}

// Swap trades along the curve from the current price toward limit.
// amountSpecified is an exact input when positive and an exact output when
// negative. The callback must deliver the input before any output is sent
// to recipient.
func (p *Pool) Swap(
	sender, recipient common.Address,
	zeroToOne bool,
	amountSpecified, limit *big.Int,
	cb SwapCallbackFunc,
) (result *SwapResult, err error) {
	err = p.execute("swap", func() error {
		if err := p.checkSwap(amountSpecified, limit, zeroToOne); err != nil {
			return err
		}

		params := plugin.SwapParams{
			Sender:          sender,
			Recipient:       recipient,
			ZeroToOne:       zeroToOne,
			AmountSpecified: new(big.Int).Set(amountSpecified),
			PriceLimit:      new(big.Int).Set(limit),
		}
		fee, err := p.swapFee(params)
		if err != nil {
			return err
		}

		sync, err := p.syncReserves()
		if err != nil {
			return err
		}

		result, err = p.calculateSwap(zeroToOne, amountSpecified, limit, fee, true)
		if err != nil {
			return err
		}

		tokenIn, tokenOut := p.token0, p.token1
		amountIn, amountOut, balanceBefore := result.Amount0, result.Amount1, sync.Balance0
		if !zeroToOne {
			tokenIn, tokenOut = p.token1, p.token0
			amountIn, amountOut, balanceBefore = result.Amount1, result.Amount0, sync.Balance1
		}

		if cb != nil {
			if err := cb(new(big.Int).Set(result.Amount0), new(big.Int).Set(result.Amount1)); err != nil {
				return fmt.Errorf("swap callback: %w", err)
			}
		}
		received, err := p.received(tokenIn, balanceBefore)
		if err != nil {
			return err
		}
		if received.Cmp(amountIn) < 0 {
			return fmt.Errorf("%w: need %s, received %s", ErrInsufficientInput, amountIn, received)
		}

		if err := p.transfer(tokenOut, recipient, new(big.Int).Neg(amountOut)); err != nil {
			return err
		}
		if err := p.changeReserves(result.Amount0, result.Amount1, result.CommunityFee0, result.CommunityFee1); err != nil {
			return err
		}

		params.Amount0, params.Amount1 = new(big.Int).Set(result.Amount0), new(big.Int).Set(result.Amount1)
		if err := p.plugins.AfterSwap(params); err != nil {
			return err
		}

		p.metrics.ticksCrossed.Observe(float64(result.TicksCrossed))
		p.emit(SwapEvent{
			Sender:    sender,
			Recipient: recipient,
			Amount0:   new(big.Int).Set(result.Amount0),
			Amount1:   new(big.Int).Set(result.Amount1),
			Price:     new(big.Int).Set(result.Price),
			Liquidity: new(big.Int).Set(result.Liquidity),
			Tick:      result.Tick,
			Fee:       fee,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Quote computes the outcome of a swap without changing the pool, calling
// the plugin, the observer or moving any tokens. It uses the pool fee.
func (p *Pool) Quote(zeroToOne bool, amountSpecified, limit *big.Int) (*SwapResult, error) {
	var result *SwapResult
	err := p.execute("quote", func() error {
		defer p.journal.Revert()

		if err := p.checkSwap(amountSpecified, limit, zeroToOne); err != nil {
			return err
		}
		var err error
		result, err = p.calculateSwap(zeroToOne, amountSpecified, limit, uint32(p.fee), false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Flash lends amount0 and amount1 to recipient for the duration of the
// callback, which must return them plus ceil(amount * fee / 1e6). The fee
// paid is shared between the community and in-range liquidity.
func (p *Pool) Flash(
	sender, recipient common.Address,
	amount0, amount1 *big.Int,
	cb FlashCallbackFunc,
) (paid0, paid1 *big.Int, err error) {
	err = p.execute("flash", func() error {
		if err := p.requireInitialized(); err != nil {
			return err
		}
		if amount0 == nil || amount1 == nil || amount0.Sign() < 0 || amount1.Sign() < 0 {
			return fmt.Errorf("%w: flash amounts must be non-negative", ErrZeroAmount)
		}

		params := plugin.FlashParams{
			Sender:    sender,
			Recipient: recipient,
			Amount0:   new(big.Int).Set(amount0),
			Amount1:   new(big.Int).Set(amount1),
		}
		if err := p.plugins.BeforeFlash(params); err != nil {
			return err
		}

		sync, err := p.syncReserves()
		if err != nil {
			return err
		}

		fee0, fee1 := new(big.Int), new(big.Int)
		feePips := big.NewInt(int64(p.fee))
		if err := fullmath.MulDivRoundingUp(fee0, amount0, feePips, big.NewInt(swapmath.FeeDenominator)); err != nil {
			return err
		}
		if err := fullmath.MulDivRoundingUp(fee1, amount1, feePips, big.NewInt(swapmath.FeeDenominator)); err != nil {
			return err
		}

		if err := p.transfer(p.token0, recipient, amount0); err != nil {
			return err
		}
		if err := p.transfer(p.token1, recipient, amount1); err != nil {
			return err
		}
		if cb != nil {
			if err := cb(new(big.Int).Set(fee0), new(big.Int).Set(fee1)); err != nil {
				return fmt.Errorf("flash callback: %w", err)
			}
		}

		paid0, err = p.received(p.token0, sync.Balance0)
		if err != nil {
			return err
		}
		paid1, err = p.received(p.token1, sync.Balance1)
		if err != nil {
			return err
		}
		if paid0.Cmp(fee0) < 0 || paid1.Cmp(fee1) < 0 {
			return fmt.Errorf("%w: owed (%s, %s), paid (%s, %s)", ErrFlashInsufficientPaid, fee0, fee1, paid0, paid1)
		}

		community0, err := p.distributeFee(paid0, &p.feeGrowthGlobal0)
		if err != nil {
			return err
		}
		community1, err := p.distributeFee(paid1, &p.feeGrowthGlobal1)
		if err != nil {
			return err
		}
		if err := p.changeReserves(paid0, paid1, community0, community1); err != nil {
			return err
		}

		params.Paid0, params.Paid1 = new(big.Int).Set(paid0), new(big.Int).Set(paid1)
		if err := p.plugins.AfterFlash(params); err != nil {
			return err
		}

		p.emit(FlashEvent{
			Sender:    sender,
			Recipient: recipient,
			Amount0:   new(big.Int).Set(amount0),
			Amount1:   new(big.Int).Set(amount1),
			Paid0:     new(big.Int).Set(paid0),
			Paid1:     new(big.Int).Set(paid1),
		})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return paid0, paid1, nil
}

// FlashCallbackFunc must repay the loan plus fee0 and fee1.
type FlashCallbackFunc func(fee0, fee1 *big.Int) error

// distributeFee splits a paid fee into the community share, which it
// returns, and the liquidity share, which it adds to growth. With no
// liquidity in range everything goes to the community.
func (p *Pool) distributeFee(paid *big.Int, growth *uint256.Int) (*big.Int, error) {
	if paid.Sign() == 0 {
		return new(big.Int), nil
	}
	community := new(big.Int).Mul(paid, big.NewInt(int64(p.communityFee)))
	community.Quo(community, communityFeeDenominator)
	if p.liquidity.Sign() == 0 {
		return new(big.Int).Set(paid), nil
	}

	next := *growth
	if err := addFeeGrowth(&next, new(big.Int).Sub(paid, community), p.liquidity); err != nil {
		return nil, err
	}
	p.recordCore()
	*growth = next
	return community, nil
}
