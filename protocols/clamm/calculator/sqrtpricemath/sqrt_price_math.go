package sqrtpricemath

import (
	"errors"
	"math/big"
	"sync"

	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/fullmath"
)

var (
	// Q96 is the UQ64.96 fixed-point number representing 1.
	Q96 = new(big.Int).Lsh(big.NewInt(1), 96)
	// Resolution is the number of bits in the Q96 format.
	Resolution = uint(96)

	ErrLiquidityZero     = errors.New("liquidity must be greater than zero")
	ErrSqrtPriceZero     = errors.New("sqrt price must be greater than zero")
	ErrPriceOverflow     = errors.New("sqrt price overflows uint160")
	ErrPriceUnderflow    = errors.New("sqrt price underflow")
	ErrNegativeLiquidity = errors.New("liquidity must not be negative")

	maxUint160 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))
)

// SqrtPriceMath holds reusable big.Int objects to avoid memory allocations.
// Instances are managed by a sync.Pool for safe concurrent use.
type SqrtPriceMath struct {
	product     *big.Int
	numerator1  *big.Int
	numerator2  *big.Int
	denominator *big.Int
	quotient    *big.Int
	term        *big.Int
}

var pool = sync.Pool{
	New: func() any {
		return &SqrtPriceMath{
			product:     new(big.Int),
			numerator1:  new(big.Int),
			numerator2:  new(big.Int),
			denominator: new(big.Int),
			quotient:    new(big.Int),
			term:        new(big.Int),
		}
	},
}

// GetNextSqrtPriceFromAmount0RoundingUp returns the price after adding or
// removing amount of token0, always rounding up.
func GetNextSqrtPriceFromAmount0RoundingUp(dest, sqrtPX96, liquidity, amount *big.Int, add bool) error {
	s := pool.Get().(*SqrtPriceMath)
	defer pool.Put(s)
	return s.getNextSqrtPriceFromAmount0RoundingUp(dest, sqrtPX96, liquidity, amount, add)
}

// GetNextSqrtPriceFromAmount1RoundingDown returns the price after adding or
// removing amount of token1, always rounding down.
func GetNextSqrtPriceFromAmount1RoundingDown(dest, sqrtPX96, liquidity, amount *big.Int, add bool) error {
	s := pool.Get().(*SqrtPriceMath)
	defer pool.Put(s)
	return s.getNextSqrtPriceFromAmount1RoundingDown(dest, sqrtPX96, liquidity, amount, add)
}

// GetNextSqrtPriceFromInput rounds so that the input never moves the price past the true target.
func GetNextSqrtPriceFromInput(dest, sqrtPX96, liquidity, amountIn *big.Int, zeroToOne bool) error {
	if sqrtPX96.Sign() <= 0 {
		return ErrSqrtPriceZero
	}
	if liquidity.Sign() <= 0 {
		return ErrLiquidityZero
	}
	if zeroToOne {
		return GetNextSqrtPriceFromAmount0RoundingUp(dest, sqrtPX96, liquidity, amountIn, true)
	}
	return GetNextSqrtPriceFromAmount1RoundingDown(dest, sqrtPX96, liquidity, amountIn, true)
}

// GetNextSqrtPriceFromOutput rounds so that the output is always available at the returned price.
func GetNextSqrtPriceFromOutput(dest, sqrtPX96, liquidity, amountOut *big.Int, zeroToOne bool) error {
	if sqrtPX96.Sign() <= 0 {
		return ErrSqrtPriceZero
	}
	if liquidity.Sign() <= 0 {
		return ErrLiquidityZero
	}
	if zeroToOne {
		return GetNextSqrtPriceFromAmount1RoundingDown(dest, sqrtPX96, liquidity, amountOut, false)
	}
	return GetNextSqrtPriceFromAmount0RoundingUp(dest, sqrtPX96, liquidity, amountOut, false)
}

// GetAmount0Delta writes liquidity * (sqrtB - sqrtA) / (sqrtA * sqrtB) into dest.
func GetAmount0Delta(dest, sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int, roundUp bool) error {
	s := pool.Get().(*SqrtPriceMath)
	defer pool.Put(s)
	return s.getAmount0Delta(dest, sqrtRatioAX96, sqrtRatioBX96, liquidity, roundUp)
}

// GetAmount1Delta writes liquidity * (sqrtB - sqrtA) into dest.
func GetAmount1Delta(dest, sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int, roundUp bool) error {
	s := pool.Get().(*SqrtPriceMath)
	defer pool.Put(s)
	return s.getAmount1Delta(dest, sqrtRatioAX96, sqrtRatioBX96, liquidity, roundUp)
}

// GetAmount0DeltaSigned returns the token0 amount for a signed liquidity
// change: rounded up and positive when liquidity is added, rounded down and
// negative when it is removed.
func GetAmount0DeltaSigned(dest, sqrtRatioAX96, sqrtRatioBX96, liquidityDelta *big.Int) error {
	s := pool.Get().(*SqrtPriceMath)
	defer pool.Put(s)

	if liquidityDelta.Sign() < 0 {
		s.quotient.Neg(liquidityDelta)
		if err := s.getAmount0Delta(dest, sqrtRatioAX96, sqrtRatioBX96, s.quotient, false); err != nil {
			return err
		}
		dest.Neg(dest)
		return nil
	}
	return s.getAmount0Delta(dest, sqrtRatioAX96, sqrtRatioBX96, liquidityDelta, true)
}

// GetAmount1DeltaSigned is the token1 counterpart of GetAmount0DeltaSigned.
func GetAmount1DeltaSigned(dest, sqrtRatioAX96, sqrtRatioBX96, liquidityDelta *big.Int) error {
	s := pool.Get().(*SqrtPriceMath)
	defer pool.Put(s)

	if liquidityDelta.Sign() < 0 {
		s.quotient.Neg(liquidityDelta)
		if err := s.getAmount1Delta(dest, sqrtRatioAX96, sqrtRatioBX96, s.quotient, false); err != nil {
			return err
		}
		dest.Neg(dest)
		return nil
	}
	return s.getAmount1Delta(dest, sqrtRatioAX96, sqrtRatioBX96, liquidityDelta, true)
}

func (s *SqrtPriceMath) getNextSqrtPriceFromAmount0RoundingUp(dest, sqrtPX96, liquidity, amount *big.Int, add bool) error {
	if amount.Sign() == 0 {
		dest.Set(sqrtPX96)
		return nil
	}

	s.numerator1.Lsh(liquidity, Resolution)
	s.product.Mul(amount, sqrtPX96)

	if add {
		// L * sqrtP / (L + amount * sqrtP) while the product fits 256 bits,
		// otherwise the equivalent L / (L / sqrtP + amount).
		if s.product.Cmp(fullmath.MaxUint256) <= 0 {
			s.denominator.Add(s.numerator1, s.product)
			if s.denominator.Cmp(fullmath.MaxUint256) <= 0 {
				if err := fullmath.MulDivRoundingUp(dest, s.numerator1, sqrtPX96, s.denominator); err != nil {
					return err
				}
				return checkPrice(dest)
			}
		}
		s.denominator.Div(s.numerator1, sqrtPX96)
		s.denominator.Add(s.denominator, amount)
		if err := fullmath.DivRoundingUp(dest, s.numerator1, s.denominator); err != nil {
			return err
		}
		return checkPrice(dest)
	}

	if s.product.Cmp(fullmath.MaxUint256) > 0 || s.numerator1.Cmp(s.product) <= 0 {
		return ErrPriceUnderflow
	}
	s.denominator.Sub(s.numerator1, s.product)
	if err := fullmath.MulDivRoundingUp(dest, s.numerator1, sqrtPX96, s.denominator); err != nil {
		return err
	}
	return checkPrice(dest)
}

func (s *SqrtPriceMath) getNextSqrtPriceFromAmount1RoundingDown(dest, sqrtPX96, liquidity, amount *big.Int, add bool) error {
	if add {
		if err := fullmath.MulDiv(s.quotient, amount, Q96, liquidity); err != nil {
			return err
		}
		dest.Add(sqrtPX96, s.quotient)
		return checkPrice(dest)
	}

	if err := fullmath.MulDivRoundingUp(s.quotient, amount, Q96, liquidity); err != nil {
		return err
	}
	if sqrtPX96.Cmp(s.quotient) <= 0 {
		return ErrPriceUnderflow
	}
	dest.Sub(sqrtPX96, s.quotient)
	return nil
}

func (s *SqrtPriceMath) getAmount0Delta(dest, sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int, roundUp bool) error {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}
	if sqrtRatioAX96.Sign() <= 0 {
		return ErrSqrtPriceZero
	}
	if liquidity.Sign() < 0 {
		return ErrNegativeLiquidity
	}

	s.numerator1.Lsh(liquidity, Resolution)
	s.numerator2.Sub(sqrtRatioBX96, sqrtRatioAX96)

	if roundUp {
		if err := fullmath.MulDivRoundingUp(s.term, s.numerator1, s.numerator2, sqrtRatioBX96); err != nil {
			return err
		}
		return fullmath.DivRoundingUp(dest, s.term, sqrtRatioAX96)
	}
	if err := fullmath.MulDiv(s.term, s.numerator1, s.numerator2, sqrtRatioBX96); err != nil {
		return err
	}
	dest.Div(s.term, sqrtRatioAX96)
	return nil
}

func (s *SqrtPriceMath) getAmount1Delta(dest, sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int, roundUp bool) error {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}
	if liquidity.Sign() < 0 {
		return ErrNegativeLiquidity
	}

	s.numerator1.Sub(sqrtRatioBX96, sqrtRatioAX96)
	if roundUp {
		return fullmath.MulDivRoundingUp(dest, liquidity, s.numerator1, Q96)
	}
	return fullmath.MulDiv(dest, liquidity, s.numerator1, Q96)
}

func checkPrice(price *big.Int) error {
	if price.Cmp(maxUint160) > 0 {
		return ErrPriceOverflow
	}
	return nil
}
