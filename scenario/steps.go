package scenario

import (
	"fmt"
	"math/big"
	"time"

	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/tickmath"
	"github.com/defistate/defistate-clamm/protocols/clamm/pool"
	"github.com/defistate/defistate-clamm/protocols/tokenregistry"
	"github.com/ethereum/go-ethereum/common"
	"lukechampine.com/uint128"
)

var (
	minPriceLimit = new(big.Int).Add(tickmath.MIN_SQRT_RATIO, big.NewInt(1))
	maxPriceLimit = new(big.Int).Sub(tickmath.MAX_SQRT_RATIO, big.NewInt(1))
)

// executor applies steps to one pool.
type executor struct {
	pool   *pool.Pool
	ledger *tokenregistry.Ledger
	clock  *clock
}

func (ex *executor) apply(s Step) error {
	switch s.Op {
	case OpInitialize:
		price := value(s.SqrtPriceX96)
		if price == nil {
			price = new(big.Int)
			if err := tickmath.GetSqrtRatioAtTick(price, s.Tick); err != nil {
				return err
			}
		}
		return ex.pool.Initialize(s.From, price)

	case OpMint:
		liquidity, err := required(value(s.Liquidity), "liquidity")
		if err != nil {
			return err
		}
		_, _, _, err = ex.pool.Mint(s.From, s.recipient(), s.Lower, s.Upper, liquidity, ex.payer(s.From))
		return err

	case OpBurn:
		liquidity := value(s.Liquidity)
		if liquidity == nil {
			liquidity = new(big.Int)
		}
		_, _, err := ex.pool.Burn(s.From, s.Lower, s.Upper, liquidity)
		return err

	case OpCollect:
		requested0, err := request(value(s.Amount0))
		if err != nil {
			return err
		}
		requested1, err := request(value(s.Amount1))
		if err != nil {
			return err
		}
		_, _, err = ex.pool.Collect(s.From, s.recipient(), s.Lower, s.Upper, requested0, requested1)
		return err

	case OpSwap:
		amount, err := required(value(s.Amount), "amount")
		if err != nil {
			return err
		}
		if s.ExactOutput {
			amount.Neg(amount)
		}
		limit := value(s.PriceLimit)
		if limit == nil {
			limit = maxPriceLimit
			if s.ZeroToOne {
				limit = minPriceLimit
			}
		}
		_, err = ex.pool.Swap(s.From, s.recipient(), s.ZeroToOne, amount, limit, ex.payer(s.From))
		return err

	case OpFlash:
		amount0, amount1 := value(s.Amount0), value(s.Amount1)
		if amount0 == nil {
			amount0 = new(big.Int)
		}
		if amount1 == nil {
			amount1 = new(big.Int)
		}
		to := s.recipient()
		_, _, err := ex.pool.Flash(s.From, to, amount0, amount1, func(fee0, fee1 *big.Int) error {
			return ex.payer(to)(new(big.Int).Add(amount0, fee0), new(big.Int).Add(amount1, fee1))
		})
		return err

	case OpDonate:
		amount, err := required(value(s.Amount), "amount")
		if err != nil {
			return err
		}
		return ex.ledger.Transfer(s.Token, s.From, ex.pool.Address(), amount)

	case OpAdvance:
		if s.Seconds < 0 {
			return fmt.Errorf("advance: negative seconds %d", s.Seconds)
		}
		ex.clock.now = ex.clock.now.Add(time.Duration(s.Seconds) * time.Second)
		return nil

	case OpSetFee:
		return ex.pool.SetFee(s.From, s.Fee)
	case OpSetTickSpacing:
		return ex.pool.SetTickSpacing(s.From, s.TickSpacing)
	case OpSetCommunityFee:
		return ex.pool.SetCommunityFee(s.From, s.CommunityFee)
	case OpSetCommunityVault:
		return ex.pool.SetCommunityVault(s.From, s.To)
	}
	return fmt.Errorf("unknown op %q", s.Op)
}

// payer settles callbacks from owner, grossing up transfers of tokens that
// charge a fee on transfer.
func (ex *executor) payer(owner common.Address) func(amount0, amount1 *big.Int) error {
	token0, token1 := ex.pool.Tokens()
	return func(amount0, amount1 *big.Int) error {
		if err := ex.pay(token0, owner, amount0); err != nil {
			return err
		}
		return ex.pay(token1, owner, amount1)
	}
}

func (ex *executor) pay(token, owner common.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return nil
	}
	t, ok := ex.ledger.Token(token)
	if !ok {
		return fmt.Errorf("%w: %s", tokenregistry.ErrUnknownToken, token.Hex())
	}
	return ex.ledger.Transfer(token, owner, ex.pool.Address(), t.GrossUp(amount))
}

func required(x *big.Int, name string) (*big.Int, error) {
	if x == nil {
		return nil, fmt.Errorf("%s is required", name)
	}
	return x, nil
}

func request(x *big.Int) (uint128.Uint128, error) {
	if x == nil {
		return uint128.Max, nil
	}
	if x.Sign() < 0 || x.BitLen() > 128 {
		return uint128.Zero, fmt.Errorf("collect request %s out of range", x)
	}
	return uint128.FromBig(x), nil
}
