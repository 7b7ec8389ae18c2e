package tickbitmap

import (
	"errors"
	"fmt"

	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/bitmath"
	"github.com/defistate/defistate-clamm/protocols/clamm/journal"
	"github.com/holiman/uint256"
)

var ErrTickMisaligned = errors.New("tick is not a multiple of tick spacing")

// Bitmap packs one bit per spacing-compressed tick into 256-bit words keyed
// by the upper bits of the compressed index.
type Bitmap struct {
	words   map[int16]*uint256.Int
	journal *journal.Journal
}

// New returns an empty bitmap. Flips are recorded in j when it is non-nil.
func New(j *journal.Journal) *Bitmap {
	return &Bitmap{
		words:   make(map[int16]*uint256.Int),
		journal: j,
	}
}

// compress divides by tickSpacing, rounding toward negative infinity.
func compress(tick, tickSpacing int32) int32 {
	compressed := tick / tickSpacing
	if tick < 0 && tick%tickSpacing != 0 {
		compressed--
	}
	return compressed
}

// position splits a compressed tick into its word index and bit index.
func position(compressed int32) (wordPos int16, bitPos uint8) {
	return int16(compressed >> 8), uint8(compressed & 0xff)
}

func (b *Bitmap) word(wordPos int16) *uint256.Int {
	if w, ok := b.words[wordPos]; ok {
		return w
	}
	return new(uint256.Int)
}

// FlipTick toggles the initialized state of tick.
func (b *Bitmap) FlipTick(tick, tickSpacing int32) error {
	if tick%tickSpacing != 0 {
		return fmt.Errorf("%w: tick %d spacing %d", ErrTickMisaligned, tick, tickSpacing)
	}
	b.flip(tick / tickSpacing)
	b.journal.Append(func() { b.flip(tick / tickSpacing) })
	return nil
}

func (b *Bitmap) flip(compressed int32) {
	wordPos, bitPos := position(compressed)
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(bitPos))

	w := new(uint256.Int).Xor(b.word(wordPos), mask)
	if w.IsZero() {
		delete(b.words, wordPos)
		return
	}
	b.words[wordPos] = w
}

// IsInitialized reports whether the bit for tick is set.
func (b *Bitmap) IsInitialized(tick, tickSpacing int32) bool {
	if tick%tickSpacing != 0 {
		return false
	}
	wordPos, bitPos := position(tick / tickSpacing)
	w, ok := b.words[wordPos]
	if !ok {
		return false
	}
	return new(uint256.Int).Rsh(w, uint(bitPos)).Uint64()&1 == 1
}

// NextInitializedTickWithinOneWord returns the next initialized tick in the
// same word as tick: at or below it when lte is true, strictly above it
// otherwise. When the word holds no such tick it returns the word boundary
// with initialized set to false, so the caller can resume from there.
func (b *Bitmap) NextInitializedTickWithinOneWord(tick, tickSpacing int32, lte bool) (next int32, initialized bool) {
	compressed := compress(tick, tickSpacing)

	if lte {
		wordPos, bitPos := position(compressed)
		// all bits at or to the right of bitPos
		mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(bitPos))
		mask.Sub(mask, uint256.NewInt(1))
		mask.Or(mask, new(uint256.Int).Lsh(uint256.NewInt(1), uint(bitPos)))

		masked := mask.And(mask, b.word(wordPos))
		if masked.IsZero() {
			return (compressed - int32(bitPos)) * tickSpacing, false
		}
		msb, _ := bitmath.MostSignificantBit(masked)
		return (compressed - int32(bitPos-msb)) * tickSpacing, true
	}

	wordPos, bitPos := position(compressed + 1)
	// all bits at or to the left of bitPos
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(bitPos))
	mask.Sub(mask, uint256.NewInt(1))
	mask.Not(mask)

	masked := mask.And(mask, b.word(wordPos))
	if masked.IsZero() {
		return (compressed + 1 + int32(255-bitPos)) * tickSpacing, false
	}
	lsb, _ := bitmath.LeastSignificantBit(masked)
	return (compressed + 1 + int32(lsb-bitPos)) * tickSpacing, true
}

// Words returns a copy of the non-empty words.
func (b *Bitmap) Words() map[int16]uint256.Int {
	out := make(map[int16]uint256.Int, len(b.words))
	for pos, w := range b.words {
		out[pos] = *w
	}
	return out
}

// Len returns the number of non-empty words.
func (b *Bitmap) Len() int {
	return len(b.words)
}
