package main

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/tickmath"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteConversions(t *testing.T) {
	t.Run("tick zero", func(t *testing.T) {
		q, err := quoteFromTick(0)
		require.NoError(t, err)
		assert.Equal(t, q96.String(), q.SqrtPriceX96.String())
		f, _ := q.Price.Float64()
		assert.Equal(t, 1.0, f)
	})

	t.Run("round trips through the sqrt price", func(t *testing.T) {
		for _, tick := range []int32{tickmath.MIN_TICK, -887, -60, -1, 1, 60, 46054, tickmath.MAX_TICK - 1} {
			q, err := quoteFromTick(tick)
			require.NoError(t, err)
			back, err := quoteFromSqrtPrice(q.SqrtPriceX96)
			require.NoError(t, err)
			assert.Equal(t, tick, back.Tick)
		}
	})

	t.Run("price", func(t *testing.T) {
		q, err := quoteFromPrice(big.NewFloat(1.0001))
		require.NoError(t, err)
		assert.Contains(t, []int32{0, 1}, q.Tick, "rounding may land just below tick 1")

		q, err = quoteFromPrice(big.NewFloat(100))
		require.NoError(t, err)
		assert.InDelta(t, 46054, q.Tick, 1)

		_, err = quoteFromPrice(big.NewFloat(0))
		assert.Error(t, err)
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := quoteFromTick(tickmath.MAX_TICK + 1)
		assert.ErrorIs(t, err, tickmath.ErrTickOutOfBounds)
		_, err = quoteFromSqrtPrice(big.NewInt(1))
		assert.Error(t, err)
	})
}

func TestUsableTicks(t *testing.T) {
	tests := []struct {
		tick, spacing, lower, upper int32
	}{
		{0, 60, 0, 60},
		{59, 60, 0, 60},
		{60, 60, 60, 120},
		{-1, 60, -60, 0},
		{-60, 60, -60, 0},
		{-61, 60, -120, -60},
	}
	for _, tt := range tests {
		lower, upper := usableTicks(tt.tick, tt.spacing)
		assert.Equal(t, tt.lower, lower, "tick %d", tt.tick)
		assert.Equal(t, tt.upper, upper, "tick %d", tt.tick)
	}
}

func TestRunQuote(t *testing.T) {
	cmd := &cobra.Command{RunE: runQuote}
	cmd.Flags().String("tick", "", "")
	cmd.Flags().String("sqrt-price", "", "")
	cmd.Flags().String("price", "", "")
	cmd.Flags().Int32("tick-spacing", 0, "")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--tick", "-61", "--tick-spacing", "60"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "tick:         -61")
	assert.Contains(t, out.String(), "usable ticks: [-120, -60)")
}
