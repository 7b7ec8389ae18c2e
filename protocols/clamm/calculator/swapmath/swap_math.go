package swapmath

import (
	"errors"
	"math/big"
	"sync"

	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/fullmath"
	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/sqrtpricemath"
)

// FeeDenominator expresses fees in parts per million.
const FeeDenominator = 1_000_000

var (
	ErrInvalidFee = errors.New("fee must be below 1e6")

	feeDenominator = big.NewInt(FeeDenominator)
)

// Step is the outcome of swapping within a single price range.
type Step struct {
	SqrtPriceNextX96 *big.Int
	AmountIn         *big.Int
	AmountOut        *big.Int
	FeeAmount        *big.Int
}

// NewStep allocates a Step whose fields can be reused across iterations.
func NewStep() *Step {
	return &Step{
		SqrtPriceNextX96: new(big.Int),
		AmountIn:         new(big.Int),
		AmountOut:        new(big.Int),
		FeeAmount:        new(big.Int),
	}
}

// SwapMath holds reusable big.Int objects for intermediate values.
type SwapMath struct {
	amountRemainingLessFee *big.Int
	amountRemainingAbs     *big.Int
	feeComplement          *big.Int
	fee                    *big.Int
}

var swapMathPool = sync.Pool{
	New: func() any {
		return &SwapMath{
			amountRemainingLessFee: new(big.Int),
			amountRemainingAbs:     new(big.Int),
			feeComplement:          new(big.Int),
			fee:                    new(big.Int),
		}
	},
}

// ComputeSwapStep swaps from sqrtRatioCurrentX96 toward sqrtRatioTargetX96
// with the given liquidity. A positive amountRemaining is an exact input
// budget that includes the fee; a negative one is an exact output target.
// The direction is implied by the two prices.
func ComputeSwapStep(
	step *Step,
	sqrtRatioCurrentX96 *big.Int,
	sqrtRatioTargetX96 *big.Int,
	liquidity *big.Int,
	amountRemaining *big.Int,
	feePips uint32,
) error {
	if feePips >= FeeDenominator {
		return ErrInvalidFee
	}

	s := swapMathPool.Get().(*SwapMath)
	defer swapMathPool.Put(s)

	return s.computeSwapStep(step, sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, amountRemaining, feePips)
}

func (s *SwapMath) computeSwapStep(
	step *Step,
	sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, amountRemaining *big.Int,
	feePips uint32,
) (err error) {
	zeroToOne := sqrtRatioCurrentX96.Cmp(sqrtRatioTargetX96) >= 0
	exactIn := amountRemaining.Sign() >= 0

	s.fee.SetUint64(uint64(feePips))
	s.feeComplement.Sub(feeDenominator, s.fee)

	step.AmountIn.SetInt64(0)
	step.AmountOut.SetInt64(0)
	step.FeeAmount.SetInt64(0)

	if exactIn {
		if err = fullmath.MulDiv(s.amountRemainingLessFee, amountRemaining, s.feeComplement, feeDenominator); err != nil {
			return err
		}
		if zeroToOne {
			err = sqrtpricemath.GetAmount0Delta(step.AmountIn, sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, true)
		} else {
			err = sqrtpricemath.GetAmount1Delta(step.AmountIn, sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, true)
		}
		if err != nil {
			return err
		}

		if s.amountRemainingLessFee.Cmp(step.AmountIn) >= 0 {
			step.SqrtPriceNextX96.Set(sqrtRatioTargetX96)
		} else if err = sqrtpricemath.GetNextSqrtPriceFromInput(step.SqrtPriceNextX96, sqrtRatioCurrentX96, liquidity, s.amountRemainingLessFee, zeroToOne); err != nil {
			return err
		}
	} else {
		s.amountRemainingAbs.Neg(amountRemaining)
		if zeroToOne {
			err = sqrtpricemath.GetAmount1Delta(step.AmountOut, sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, false)
		} else {
			err = sqrtpricemath.GetAmount0Delta(step.AmountOut, sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, false)
		}
		if err != nil {
			return err
		}

		if s.amountRemainingAbs.Cmp(step.AmountOut) >= 0 {
			step.SqrtPriceNextX96.Set(sqrtRatioTargetX96)
		} else if err = sqrtpricemath.GetNextSqrtPriceFromOutput(step.SqrtPriceNextX96, sqrtRatioCurrentX96, liquidity, s.amountRemainingAbs, zeroToOne); err != nil {
			return err
		}
	}

	reachedTarget := sqrtRatioTargetX96.Cmp(step.SqrtPriceNextX96) == 0

	// Recompute the amounts for the price actually reached.
	if zeroToOne {
		if !(reachedTarget && exactIn) {
			if err = sqrtpricemath.GetAmount0Delta(step.AmountIn, step.SqrtPriceNextX96, sqrtRatioCurrentX96, liquidity, true); err != nil {
				return err
			}
		}
		if !(reachedTarget && !exactIn) {
			if err = sqrtpricemath.GetAmount1Delta(step.AmountOut, step.SqrtPriceNextX96, sqrtRatioCurrentX96, liquidity, false); err != nil {
				return err
			}
		}
	} else {
		if !(reachedTarget && exactIn) {
			if err = sqrtpricemath.GetAmount1Delta(step.AmountIn, sqrtRatioCurrentX96, step.SqrtPriceNextX96, liquidity, true); err != nil {
				return err
			}
		}
		if !(reachedTarget && !exactIn) {
			if err = sqrtpricemath.GetAmount0Delta(step.AmountOut, sqrtRatioCurrentX96, step.SqrtPriceNextX96, liquidity, false); err != nil {
				return err
			}
		}
	}

	// The output can never exceed what was asked for.
	if !exactIn && step.AmountOut.Cmp(s.amountRemainingAbs) > 0 {
		step.AmountOut.Set(s.amountRemainingAbs)
	}

	if exactIn && !reachedTarget {
		// The price stopped short, so whatever input is left over is the fee.
		step.FeeAmount.Sub(amountRemaining, step.AmountIn)
		return nil
	}
	return fullmath.MulDivRoundingUp(step.FeeAmount, step.AmountIn, s.fee, s.feeComplement)
}
