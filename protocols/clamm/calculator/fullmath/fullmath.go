package fullmath

import (
	"errors"
	"math/big"
	"sync"
)

var (
	// MaxUint256 is 2^256 - 1, the largest result MulDiv may return.
	MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	// Q128 is 2^128, the unit of the fee growth accumulators.
	Q128 = new(big.Int).Lsh(big.NewInt(1), 128)

	ErrDivisionByZero = errors.New("fullmath: division by zero")
	ErrOverflow       = errors.New("fullmath: result overflows uint256")
	ErrNegativeInput  = errors.New("fullmath: negative operand")
)

type scratch struct {
	product *big.Int
	rem     *big.Int
}

var pool = sync.Pool{
	New: func() any {
		return &scratch{product: new(big.Int), rem: new(big.Int)}
	},
}

// MulDiv writes floor(a*b/denominator) into dest. The intermediate product is
// exact; only the final result must fit in 256 bits.
func MulDiv(dest, a, b, denominator *big.Int) error {
	return mulDiv(dest, a, b, denominator, false)
}

// MulDivRoundingUp writes ceil(a*b/denominator) into dest.
func MulDivRoundingUp(dest, a, b, denominator *big.Int) error {
	return mulDiv(dest, a, b, denominator, true)
}

func mulDiv(dest, a, b, denominator *big.Int, roundUp bool) error {
	if denominator.Sign() == 0 {
		return ErrDivisionByZero
	}
	if a.Sign() < 0 || b.Sign() < 0 || denominator.Sign() < 0 {
		return ErrNegativeInput
	}

	s := pool.Get().(*scratch)
	defer pool.Put(s)

	s.product.Mul(a, b)
	dest.QuoRem(s.product, denominator, s.rem)
	if roundUp && s.rem.Sign() > 0 {
		dest.Add(dest, big.NewInt(1))
	}
	if dest.Cmp(MaxUint256) > 0 {
		return ErrOverflow
	}
	return nil
}

// DivRoundingUp writes ceil(a/b) into dest.
func DivRoundingUp(dest, a, b *big.Int) error {
	if b.Sign() == 0 {
		return ErrDivisionByZero
	}

	s := pool.Get().(*scratch)
	defer pool.Put(s)

	dest.QuoRem(a, b, s.rem)
	if s.rem.Sign() > 0 {
		dest.Add(dest, big.NewInt(1))
	}
	return nil
}
