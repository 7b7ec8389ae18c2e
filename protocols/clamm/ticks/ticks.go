package ticks

import (
	"errors"
	"fmt"
	"math/big"
	"slices"

	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/liquiditymath"
	"github.com/defistate/defistate-clamm/protocols/clamm/journal"
	"github.com/holiman/uint256"
)

var (
	ErrLiquidityPerTickExceeded = errors.New("tick liquidity exceeds per-tick maximum")
	ErrTickNotInitialized       = errors.New("tick is not initialized")
)

// Tick is the state kept for every initialized tick.
//
// Stored *big.Int values are never mutated in place; updates swap in a new
// value. A shallow copy is therefore a complete snapshot.
type Tick struct {
	LiquidityGross *big.Int
	LiquidityNet   *big.Int
	// Fee growth per unit of liquidity on the side of this tick opposite to
	// the current price, as Q128.128 values that wrap modulo 2^256.
	FeeGrowthOutside0 uint256.Int
	FeeGrowthOutside1 uint256.Int
	SecondsOutside    uint32
}

// Table owns the tick map of one pool.
type Table struct {
	ticks   map[int32]*Tick
	journal *journal.Journal
}

func NewTable(j *journal.Journal) *Table {
	return &Table{
		ticks:   make(map[int32]*Tick),
		journal: j,
	}
}

// record registers the undo for the next change to index.
func (tb *Table) record(index int32) {
	if tb.journal == nil {
		return
	}
	t, ok := tb.ticks[index]
	if !ok {
		tb.journal.Append(func() { delete(tb.ticks, index) })
		return
	}
	prev := *t
	tb.journal.Append(func() {
		restored := prev
		tb.ticks[index] = &restored
	})
}

// Update applies liquidityDelta to the tick at index and reports whether the
// tick flipped between initialized and uninitialized. A tick first
// referenced at or below currentTick starts with all growth counted as
// outside, i.e. below it.
func (tb *Table) Update(
	index, currentTick int32,
	liquidityDelta *big.Int,
	feeGrowthGlobal0, feeGrowthGlobal1 *uint256.Int,
	secondsNow uint32,
	upper bool,
	maxLiquidity *big.Int,
) (flipped bool, err error) {
	t, exists := tb.ticks[index]
	grossBefore := new(big.Int)
	netBefore := new(big.Int)
	if exists {
		grossBefore = t.LiquidityGross
		netBefore = t.LiquidityNet
	}

	grossAfter := new(big.Int)
	if err := liquiditymath.AddDelta(grossAfter, grossBefore, liquidityDelta); err != nil {
		return false, fmt.Errorf("tick %d: %w", index, err)
	}
	if grossAfter.Cmp(maxLiquidity) > 0 {
		return false, fmt.Errorf("%w: tick %d", ErrLiquidityPerTickExceeded, index)
	}

	delta := liquidityDelta
	if upper {
		delta = new(big.Int).Neg(liquidityDelta)
	}
	netAfter := new(big.Int)
	if err := liquiditymath.AddNet(netAfter, netBefore, delta); err != nil {
		return false, fmt.Errorf("tick %d: %w", index, err)
	}

	tb.record(index)
	next := Tick{}
	if exists {
		next = *t
	}
	if grossBefore.Sign() == 0 && index <= currentTick {
		next.FeeGrowthOutside0 = *feeGrowthGlobal0
		next.FeeGrowthOutside1 = *feeGrowthGlobal1
		next.SecondsOutside = secondsNow
	}
	next.LiquidityGross = grossAfter
	next.LiquidityNet = netAfter
	tb.ticks[index] = &next

	return (grossAfter.Sign() == 0) != (grossBefore.Sign() == 0), nil
}

// Cross moves the tick to the other side of the price: every outside
// accumulator becomes global minus outside. It returns the tick's
// liquidityNet for the caller to apply in the direction of travel.
func (tb *Table) Cross(index int32, feeGrowthGlobal0, feeGrowthGlobal1 *uint256.Int, secondsNow uint32) (*big.Int, error) {
	t, ok := tb.ticks[index]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTickNotInitialized, index)
	}

	tb.record(index)
	next := *t
	next.FeeGrowthOutside0.Sub(feeGrowthGlobal0, &t.FeeGrowthOutside0)
	next.FeeGrowthOutside1.Sub(feeGrowthGlobal1, &t.FeeGrowthOutside1)
	next.SecondsOutside = secondsNow - t.SecondsOutside
	tb.ticks[index] = &next

	return new(big.Int).Set(next.LiquidityNet), nil
}

// Clear removes the tick at index.
func (tb *Table) Clear(index int32) {
	if _, ok := tb.ticks[index]; !ok {
		return
	}
	tb.record(index)
	delete(tb.ticks, index)
}

// FeeGrowthInside returns the growth per unit of liquidity between lower and
// upper. All arithmetic is modulo 2^256; only differences of the result are
// meaningful.
func (tb *Table) FeeGrowthInside(
	lower, upper, currentTick int32,
	feeGrowthGlobal0, feeGrowthGlobal1 *uint256.Int,
) (inside0, inside1 uint256.Int) {
	var lo, up Tick
	if t, ok := tb.ticks[lower]; ok {
		lo = *t
	}
	if t, ok := tb.ticks[upper]; ok {
		up = *t
	}

	var below0, below1 uint256.Int
	if currentTick >= lower {
		below0, below1 = lo.FeeGrowthOutside0, lo.FeeGrowthOutside1
	} else {
		below0.Sub(feeGrowthGlobal0, &lo.FeeGrowthOutside0)
		below1.Sub(feeGrowthGlobal1, &lo.FeeGrowthOutside1)
	}

	var above0, above1 uint256.Int
	if currentTick < upper {
		above0, above1 = up.FeeGrowthOutside0, up.FeeGrowthOutside1
	} else {
		above0.Sub(feeGrowthGlobal0, &up.FeeGrowthOutside0)
		above1.Sub(feeGrowthGlobal1, &up.FeeGrowthOutside1)
	}

	inside0.Sub(feeGrowthGlobal0, &below0)
	inside0.Sub(&inside0, &above0)
	inside1.Sub(feeGrowthGlobal1, &below1)
	inside1.Sub(&inside1, &above1)
	return inside0, inside1
}

// SecondsInside returns how long the price has spent between lower and upper,
// modulo 2^32.
func (tb *Table) SecondsInside(lower, upper, currentTick int32, secondsNow uint32) uint32 {
	var lo, up uint32
	if t, ok := tb.ticks[lower]; ok {
		lo = t.SecondsOutside
	}
	if t, ok := tb.ticks[upper]; ok {
		up = t.SecondsOutside
	}

	switch {
	case currentTick < lower:
		return lo - up
	case currentTick >= upper:
		return up - lo
	default:
		return secondsNow - lo - up
	}
}

// Get returns a copy of the tick at index.
func (tb *Table) Get(index int32) (Tick, bool) {
	t, ok := tb.ticks[index]
	if !ok {
		return Tick{}, false
	}
	return *t, true
}

// Indices returns every initialized tick index in ascending order.
func (tb *Table) Indices() []int32 {
	out := make([]int32, 0, len(tb.ticks))
	for index := range tb.ticks {
		out = append(out, index)
	}
	slices.Sort(out)
	return out
}

func (tb *Table) Len() int {
	return len(tb.ticks)
}
