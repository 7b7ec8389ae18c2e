package main

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/tickmath"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/spf13/cobra"
)

var q96 = new(big.Int).Lsh(big.NewInt(1), 96)

// quote is a point on the price curve.
type quote struct {
	Tick         int32
	SqrtPriceX96 *big.Int
	Price        *big.Float
}

func quoteFromTick(tick int32) (quote, error) {
	sqrtPrice := new(big.Int)
	if err := tickmath.GetSqrtRatioAtTick(sqrtPrice, tick); err != nil {
		return quote{}, err
	}
	return quote{Tick: tick, SqrtPriceX96: sqrtPrice, Price: priceOf(sqrtPrice)}, nil
}

func quoteFromSqrtPrice(sqrtPrice *big.Int) (quote, error) {
	tick, err := tickmath.GetTickAtSqrtRatio(sqrtPrice)
	if err != nil {
		return quote{}, err
	}
	return quote{Tick: tick, SqrtPriceX96: new(big.Int).Set(sqrtPrice), Price: priceOf(sqrtPrice)}, nil
}

// quoteFromPrice rounds sqrt(price) * 2^96 down.
func quoteFromPrice(price *big.Float) (quote, error) {
	if price.Sign() <= 0 {
		return quote{}, fmt.Errorf("price must be positive")
	}
	root := new(big.Float).SetPrec(256).Sqrt(price)
	root.Mul(root, new(big.Float).SetInt(q96))
	sqrtPrice, _ := root.Int(nil)
	return quoteFromSqrtPrice(sqrtPrice)
}

func priceOf(sqrtPrice *big.Int) *big.Float {
	r := new(big.Float).SetPrec(256).SetInt(sqrtPrice)
	r.Quo(r, new(big.Float).SetInt(q96))
	return r.Mul(r, r)
}

// usableTicks returns the spacing-aligned ticks around tick.
func usableTicks(tick, spacing int32) (lower, upper int32) {
	lower = tick / spacing * spacing
	if tick < 0 && tick%spacing != 0 {
		lower -= spacing
	}
	return lower, lower + spacing
}

func runQuote(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	var (
		q   quote
		err error
	)
	switch {
	case flags.Changed("tick"):
		raw, _ := flags.GetString("tick")
		tick, perr := strconv.ParseInt(raw, 10, 32)
		if perr != nil {
			return fmt.Errorf("parse tick: %w", perr)
		}
		q, err = quoteFromTick(int32(tick))
	case flags.Changed("sqrt-price"):
		raw, _ := flags.GetString("sqrt-price")
		sqrtPrice, ok := math.ParseBig256(raw)
		if !ok {
			return fmt.Errorf("parse sqrt price %q", raw)
		}
		q, err = quoteFromSqrtPrice(sqrtPrice)
	default:
		raw, _ := flags.GetString("price")
		price, _, perr := big.ParseFloat(raw, 10, 256, big.ToNearestEven)
		if perr != nil {
			return fmt.Errorf("parse price: %w", perr)
		}
		q, err = quoteFromPrice(price)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "tick:         %d\n", q.Tick)
	fmt.Fprintf(out, "sqrtPriceX96: %s\n", q.SqrtPriceX96)
	fmt.Fprintf(out, "price:        %s\n", q.Price.Text('g', 18))

	spacing, _ := flags.GetInt32("tick-spacing")
	if spacing > 0 {
		lower, upper := usableTicks(q.Tick, spacing)
		fmt.Fprintf(out, "usable ticks: [%d, %d)\n", lower, upper)
	}
	return nil
}
