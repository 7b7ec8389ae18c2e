package liquiditymath

import (
	"errors"
	"math/big"
)

var (
	// MaxUint128 is the largest liquidity value a tick, position or pool may hold.
	MaxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))

	ErrLiquidityOverflow  = errors.New("liquidity overflow")
	ErrLiquidityUnderflow = errors.New("liquidity underflow")
	ErrNetOutOfRange      = errors.New("liquidity net out of int128 range")
)

// AddDelta adds a signed liquidity delta to an unsigned liquidity value.
// dest is only written when the result is within uint128.
func AddDelta(dest *big.Int, x *big.Int, y *big.Int) error {
	sum := new(big.Int).Add(x, y)
	if sum.Sign() < 0 {
		return ErrLiquidityUnderflow
	}
	if sum.Cmp(MaxUint128) > 0 {
		return ErrLiquidityOverflow
	}
	dest.Set(sum)
	return nil
}

// AddNet adds a signed delta to a signed liquidity net value, keeping the
// result within int128.
func AddNet(dest *big.Int, net *big.Int, delta *big.Int) error {
	sum := new(big.Int).Add(net, delta)
	if sum.Cmp(maxInt128) > 0 || sum.Cmp(minInt128) < 0 {
		return ErrNetOutOfRange
	}
	dest.Set(sum)
	return nil
}
