package position

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/fullmath"
	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/liquiditymath"
	"github.com/defistate/defistate-clamm/protocols/clamm/journal"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"lukechampine.com/uint128"
)

var (
	ErrNoLiquidity        = errors.New("position has no liquidity")
	ErrTokensOwedOverflow = errors.New("tokens owed overflow uint128")
	ErrNotFound           = errors.New("position not found")
)

// Key identifies a position. Two keys alias the same record only if all
// three fields are equal.
type Key struct {
	Owner common.Address `json:"owner"`
	Lower int32          `json:"lower"`
	Upper int32          `json:"upper"`
}

// ID is keccak256(owner ++ lower ++ upper) with the ticks as big-endian
// 24-bit integers.
func (k Key) ID() common.Hash {
	var buf [common.AddressLength + 6]byte
	copy(buf[:], k.Owner.Bytes())
	putInt24(buf[common.AddressLength:], k.Lower)
	putInt24(buf[common.AddressLength+3:], k.Upper)
	return crypto.Keccak256Hash(buf[:])
}

func putInt24(dst []byte, v int32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	copy(dst, tmp[1:])
}

func (k Key) String() string {
	return fmt.Sprintf("%s[%d,%d]", k.Owner.Hex(), k.Lower, k.Upper)
}

// Position is the liquidity and fee state of one Key.
// As with ticks, *big.Int fields are replaced rather than mutated.
type Position struct {
	Liquidity            *big.Int
	FeeGrowthInside0Last uint256.Int
	FeeGrowthInside1Last uint256.Int
	TokensOwed0          uint128.Uint128
	TokensOwed1          uint128.Uint128
}

// Book stores every position ever created in a pool. Records are never
// deleted so that owed tokens stay collectible after liquidity reaches zero.
type Book struct {
	positions map[Key]*Position
	journal   *journal.Journal
}

func NewBook(j *journal.Journal) *Book {
	return &Book{
		positions: make(map[Key]*Position),
		journal:   j,
	}
}

func (b *Book) record(key Key) {
	if b.journal == nil {
		return
	}
	p, ok := b.positions[key]
	if !ok {
		b.journal.Append(func() { delete(b.positions, key) })
		return
	}
	prev := *p
	b.journal.Append(func() {
		restored := prev
		b.positions[key] = &restored
	})
}

// GetOrCreate returns the position for key, creating an empty one on first use.
func (b *Book) GetOrCreate(key Key) Position {
	if p, ok := b.positions[key]; ok {
		return *p
	}
	b.record(key)
	p := &Position{Liquidity: new(big.Int)}
	b.positions[key] = p
	return *p
}

// Get returns a copy of the position for key.
func (b *Book) Get(key Key) (Position, bool) {
	p, ok := b.positions[key]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Update credits the fees earned since the last touch and applies
// liquidityDelta. Owed fees are floor(liquidity * (inside - last) / 2^128)
// with the difference taken modulo 2^256.
func (b *Book) Update(key Key, liquidityDelta *big.Int, feeGrowthInside0, feeGrowthInside1 *uint256.Int) error {
	p, ok := b.positions[key]
	if !ok {
		p = &Position{Liquidity: new(big.Int)}
	}

	if liquidityDelta.Sign() == 0 && p.Liquidity.Sign() == 0 {
		return fmt.Errorf("%w: %s", ErrNoLiquidity, key)
	}

	liquidityNext := new(big.Int)
	if err := liquiditymath.AddDelta(liquidityNext, p.Liquidity, liquidityDelta); err != nil {
		return fmt.Errorf("position %s: %w", key, err)
	}

	owed0, err := accrue(p.TokensOwed0, p.Liquidity, feeGrowthInside0, &p.FeeGrowthInside0Last)
	if err != nil {
		return fmt.Errorf("position %s token0: %w", key, err)
	}
	owed1, err := accrue(p.TokensOwed1, p.Liquidity, feeGrowthInside1, &p.FeeGrowthInside1Last)
	if err != nil {
		return fmt.Errorf("position %s token1: %w", key, err)
	}

	b.record(key)
	b.positions[key] = &Position{
		Liquidity:            liquidityNext,
		FeeGrowthInside0Last: *feeGrowthInside0,
		FeeGrowthInside1Last: *feeGrowthInside1,
		TokensOwed0:          owed0,
		TokensOwed1:          owed1,
	}
	return nil
}

func accrue(owed uint128.Uint128, liquidity *big.Int, inside, last *uint256.Int) (uint128.Uint128, error) {
	if liquidity.Sign() == 0 {
		return owed, nil
	}
	growth := new(uint256.Int).Sub(inside, last).ToBig()

	fees := new(big.Int)
	if err := fullmath.MulDiv(fees, growth, liquidity, fullmath.Q128); err != nil {
		return owed, err
	}
	total := fees.Add(fees, owed.Big())
	if total.BitLen() > 128 {
		return owed, ErrTokensOwedOverflow
	}
	return uint128.FromBig(total), nil
}

// Credit adds amounts released by a burn to the tokens owed.
func (b *Book) Credit(key Key, amount0, amount1 *big.Int) error {
	p, ok := b.positions[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	owed0 := new(big.Int).Add(p.TokensOwed0.Big(), amount0)
	owed1 := new(big.Int).Add(p.TokensOwed1.Big(), amount1)
	if owed0.BitLen() > 128 || owed1.BitLen() > 128 {
		return fmt.Errorf("%w: %s", ErrTokensOwedOverflow, key)
	}

	b.record(key)
	next := *p
	next.TokensOwed0 = uint128.FromBig(owed0)
	next.TokensOwed1 = uint128.FromBig(owed1)
	b.positions[key] = &next
	return nil
}

// Collect debits up to the requested amounts from the tokens owed and
// returns the amounts actually debited.
func (b *Book) Collect(key Key, requested0, requested1 uint128.Uint128) (amount0, amount1 uint128.Uint128, err error) {
	p, ok := b.positions[key]
	if !ok {
		return uint128.Zero, uint128.Zero, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	amount0 = minU128(requested0, p.TokensOwed0)
	amount1 = minU128(requested1, p.TokensOwed1)
	if amount0.IsZero() && amount1.IsZero() {
		return amount0, amount1, nil
	}

	b.record(key)
	next := *p
	next.TokensOwed0 = p.TokensOwed0.Sub(amount0)
	next.TokensOwed1 = p.TokensOwed1.Sub(amount1)
	b.positions[key] = &next
	return amount0, amount1, nil
}

func minU128(a, b uint128.Uint128) uint128.Uint128 {
	if a.Cmp(b) < 0 {
		return a
	}
	return b
}

// Keys returns every key in the book.
func (b *Book) Keys() []Key {
	out := make([]Key, 0, len(b.positions))
	for k := range b.positions {
		out = append(out, k)
	}
	return out
}

func (b *Book) Len() int {
	return len(b.positions)
}
