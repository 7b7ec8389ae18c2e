package pool

import (
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/tickmath"
	"github.com/defistate/defistate-clamm/protocols/tokenregistry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"
)

var (
	token0   = common.HexToAddress("0x0000000000000000000000000000000000001000")
	token1   = common.HexToAddress("0x0000000000000000000000000000000000002000")
	poolAddr = common.HexToAddress("0x000000000000000000000000000000000000beef")

	admin  = common.HexToAddress("0x000000000000000000000000000000000000ad01")
	lp     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	trader = common.HexToAddress("0x0000000000000000000000000000000000000002")
	vault  = common.HexToAddress("0x000000000000000000000000000000000000fee5")

	q96 = new(big.Int).Lsh(big.NewInt(1), 96)

	minLimit   = new(big.Int).Add(tickmath.MIN_SQRT_RATIO, big.NewInt(1))
	maxLimit   = new(big.Int).Sub(tickmath.MAX_SQRT_RATIO, big.NewInt(1))
	maxUint128 = uint128.Max

	testDefaults = Defaults{Fee: 3000, TickSpacing: 60}
	startTime    = time.Unix(1_700_000_000, 0)
)

func n(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad number " + s)
	}
	return v
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu        sync.Mutex
	envelopes []Envelope
	err       error
}

func (s *recordingSink) Publish(events []Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = append(s.envelopes, events...)
	return s.err
}

func (s *recordingSink) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]EventKind, len(s.envelopes))
	for i, e := range s.envelopes {
		kinds[i] = e.Kind
	}
	return kinds
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = nil
}

type crossing struct {
	tick      int32
	zeroToOne bool
}

type recordingObserver struct {
	crossed []crossing
	err     error
}

func (o *recordingObserver) CrossTo(tick int32, zeroToOne bool) error {
	o.crossed = append(o.crossed, crossing{tick: tick, zeroToOne: zeroToOne})
	return o.err
}

type harness struct {
	pool   *Pool
	ledger *tokenregistry.Ledger
	clock  *fakeClock
	sink   *recordingSink
	reg    *prometheus.Registry
}

type harnessConfig struct {
	defaults        Defaults
	token1FeePct    float64
	opts            []Option
	withoutBalances bool
}

func newTestPool(t *testing.T, opts ...Option) *harness {
	t.Helper()
	return newHarness(t, harnessConfig{defaults: testDefaults, opts: opts})
}

func newHarness(t *testing.T, hc harnessConfig) *harness {
	t.Helper()

	ledger, err := tokenregistry.NewLedger(
		tokenregistry.Token{Address: token0, Symbol: "T0", Decimals: 18},
		tokenregistry.Token{Address: token1, Symbol: "T1", Decimals: 18, FeeOnTransferPercent: hc.token1FeePct},
	)
	require.NoError(t, err)

	if !hc.withoutBalances {
		for _, owner := range []common.Address{lp, trader} {
			require.NoError(t, ledger.Mint(token0, owner, n("1000000000000000000000000")))
			require.NoError(t, ledger.Mint(token1, owner, n("1000000000000000000000000")))
		}
	}

	h := &harness{
		ledger: ledger,
		clock:  &fakeClock{now: startTime},
		sink:   &recordingSink{},
		reg:    prometheus.NewRegistry(),
	}

	opts := append([]Option{WithClock(h.clock.Now), WithEventSink(h.sink)}, hc.opts...)
	h.pool, err = New(Config{
		Address:   poolAddr,
		Token0:    token0,
		Token1:    token1,
		Assets:    ledger.Account(poolAddr),
		Authority: StaticAuthority{Admin: admin, Params: hc.defaults},
		Registry:  h.reg,
		Logger:    nopLogger{},
	}, opts...)
	require.NoError(t, err)
	return h
}

func priceAtTick(t *testing.T, tick int32) *big.Int {
	t.Helper()
	price := new(big.Int)
	require.NoError(t, tickmath.GetSqrtRatioAtTick(price, tick))
	return price
}

func (h *harness) initialize(t *testing.T, tick int32) {
	t.Helper()
	require.NoError(t, h.pool.Initialize(admin, priceAtTick(t, tick)))
}

// payer returns a callback that sends every positive amount from owner to
// the pool.
func (h *harness) payer(owner common.Address) func(amount0, amount1 *big.Int) error {
	return func(amount0, amount1 *big.Int) error {
		if amount0.Sign() > 0 {
			if err := h.ledger.Transfer(token0, owner, poolAddr, amount0); err != nil {
				return err
			}
		}
		if amount1.Sign() > 0 {
			if err := h.ledger.Transfer(token1, owner, poolAddr, amount1); err != nil {
				return err
			}
		}
		return nil
	}
}

func (h *harness) mint(t *testing.T, owner common.Address, lower, upper int32, liquidity *big.Int) (*big.Int, *big.Int) {
	t.Helper()
	a0, a1, actual, err := h.pool.Mint(owner, owner, lower, upper, liquidity, h.payer(owner))
	require.NoError(t, err)
	require.Equal(t, liquidity.String(), actual.String())
	return a0, a1
}

func (h *harness) swap(t *testing.T, zeroToOne bool, amountSpecified *big.Int) *SwapResult {
	t.Helper()
	limit := minLimit
	if !zeroToOne {
		limit = maxLimit
	}
	result, err := h.pool.Swap(trader, trader, zeroToOne, amountSpecified, limit, h.payer(trader))
	require.NoError(t, err)
	return result
}

func (h *harness) balance(t *testing.T, token, owner common.Address) *big.Int {
	t.Helper()
	b, err := h.ledger.BalanceOf(token, owner)
	require.NoError(t, err)
	return b
}

// checkInvariants verifies the tick, bitmap and liquidity bookkeeping and
// that the cached reserves match the pool balances.
func (h *harness) checkInvariants(t *testing.T) {
	t.Helper()
	p := h.pool

	active := new(big.Int)
	for _, index := range p.TickIndices() {
		tick, ok := p.Tick(index)
		require.True(t, ok)
		assert.Positive(t, tick.LiquidityGross.Sign(), "tick %d kept with zero gross", index)
		assert.True(t, p.IsTickInitialized(index), "tick %d missing from bitmap", index)
		assert.True(t, tick.LiquidityGross.CmpAbs(tick.LiquidityNet) >= 0, "tick %d gross below |net|", index)
		if index <= p.GlobalState().Tick {
			active.Add(active, tick.LiquidityNet)
		}
	}
	assert.Equal(t, active.String(), p.Liquidity().String(), "active liquidity")

	r0, r1 := p.Reserves()
	assert.Equal(t, h.balance(t, token0, poolAddr).String(), r0.Big().String(), "reserve0")
	assert.Equal(t, h.balance(t, token1, poolAddr).String(), r1.Big().String(), "reserve1")
}

func TestNew(t *testing.T) {
	valid := func() Config {
		l, _ := tokenregistry.NewLedger()
		return Config{
			Address:   poolAddr,
			Token0:    token0,
			Token1:    token1,
			Assets:    l.Account(poolAddr),
			Authority: StaticAuthority{Admin: admin, Params: testDefaults},
			Registry:  prometheus.NewRegistry(),
			Logger:    nopLogger{},
		}
	}

	t.Run("accepts a valid config", func(t *testing.T) {
		p, err := New(valid())
		require.NoError(t, err)
		state := p.GlobalState()
		assert.Zero(t, state.Price.Sign())
		assert.Equal(t, uint16(3000), state.Fee)
		assert.Equal(t, int32(60), state.TickSpacing)
		assert.True(t, state.Unlocked)
	})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero token", func(c *Config) { c.Token0 = common.Address{} }},
		{"unsorted tokens", func(c *Config) { c.Token0, c.Token1 = c.Token1, c.Token0 }},
		{"same token", func(c *Config) { c.Token1 = c.Token0 }},
		{"nil assets", func(c *Config) { c.Assets = nil }},
		{"nil authority", func(c *Config) { c.Authority = nil }},
		{"nil registry", func(c *Config) { c.Registry = nil }},
		{"nil logger", func(c *Config) { c.Logger = nil }},
		{"fee too high", func(c *Config) {
			c.Authority = StaticAuthority{Params: Defaults{Fee: MaxFee + 1, TickSpacing: 60}}
		}},
		{"zero spacing", func(c *Config) {
			c.Authority = StaticAuthority{Params: Defaults{Fee: 500}}
		}},
		{"community fee too high", func(c *Config) {
			c.Authority = StaticAuthority{Params: Defaults{TickSpacing: 1, CommunityFee: MaxCommunityFee + 1}}
		}},
	}
	for _, tt := range tests {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}

	t.Run("pools share a registry", func(t *testing.T) {
		cfg := valid()
		_, err := New(cfg)
		require.NoError(t, err)
		_, err = New(cfg)
		require.NoError(t, err)
	})
}

func TestInitialize(t *testing.T) {
	t.Run("sets price and tick once", func(t *testing.T) {
		h := newTestPool(t)
		price := priceAtTick(t, -120)
		require.NoError(t, h.pool.Initialize(admin, price))

		state := h.pool.GlobalState()
		assert.Equal(t, price.String(), state.Price.String())
		assert.Equal(t, int32(-120), state.Tick)

		err := h.pool.Initialize(admin, q96)
		assert.ErrorIs(t, err, ErrAlreadyInitialized)
		assert.Equal(t, int32(-120), h.pool.GlobalState().Tick)
		assert.Equal(t, []EventKind{KindInitialize}, h.sink.kinds())
	})

	t.Run("rejects out of range prices", func(t *testing.T) {
		h := newTestPool(t)
		for _, price := range []*big.Int{
			new(big.Int),
			new(big.Int).Sub(tickmath.MIN_SQRT_RATIO, big.NewInt(1)),
			new(big.Int).Set(tickmath.MAX_SQRT_RATIO),
		} {
			err := h.pool.Initialize(admin, price)
			assert.ErrorIs(t, err, tickmath.ErrSqrtPriceOutOfBounds, "price %s", price)
		}
		assert.Zero(t, h.pool.GlobalState().Price.Sign())
	})

	t.Run("operations require initialization", func(t *testing.T) {
		h := newTestPool(t)
		_, _, _, err := h.pool.Mint(lp, lp, -60, 60, big.NewInt(1), h.payer(lp))
		assert.ErrorIs(t, err, ErrNotInitialized)
		_, err = h.pool.Swap(trader, trader, true, big.NewInt(1), tickmath.MIN_SQRT_RATIO, h.payer(trader))
		assert.ErrorIs(t, err, ErrNotInitialized)
		_, _, err = h.pool.Flash(trader, trader, big.NewInt(1), big.NewInt(0), nil)
		assert.ErrorIs(t, err, ErrNotInitialized)
	})
}

func TestLock(t *testing.T) {
	t.Run("reentrant calls fail with ErrLocked", func(t *testing.T) {
		h := newTestPool(t)
		h.initialize(t, 0)

		var nested error
		var unlocked bool
		pay := h.payer(lp)
		_, _, _, err := h.pool.Mint(lp, lp, -60, 60, n("1000000000000000000"), func(a0, a1 *big.Int) error {
			unlocked = h.pool.GlobalState().Unlocked
			_, nested = h.pool.Swap(trader, trader, true, big.NewInt(1), minLimit, nil)
			return pay(a0, a1)
		})
		require.NoError(t, err)
		assert.ErrorIs(t, nested, ErrLocked)
		assert.False(t, unlocked)
		assert.True(t, h.pool.GlobalState().Unlocked)

		assert.Equal(t, 1.0, testutil.ToFloat64(h.pool.metrics.operations.WithLabelValues("swap", resultLocked)))
		assert.Equal(t, 1.0, testutil.ToFloat64(h.pool.metrics.operations.WithLabelValues("mint", resultOK)))
	})

	t.Run("observer cannot reenter", func(t *testing.T) {
		h := newTestPool(t)
		h.initialize(t, 0)
		h.mint(t, lp, -60, 60, n("1000000000000000000"))
		h.mint(t, lp, -120, -60, n("1000000000000000000"))

		var nested error
		h.pool.observer = observerFunc(func(int32, bool) error {
			_, _, nested = h.pool.Burn(lp, -60, 60, big.NewInt(1))
			return nil
		})
		h.swap(t, true, n("5000000000000000"))
		assert.ErrorIs(t, nested, ErrLocked)
	})

	t.Run("a panicking callback reverts and unlocks", func(t *testing.T) {
		h := newTestPool(t)
		h.initialize(t, 0)
		h.mint(t, lp, -60, 60, n("1000000000000000000"))
		before := h.pool.GlobalState()

		assert.Panics(t, func() {
			_, _ = h.pool.Swap(trader, trader, true, big.NewInt(1000), minLimit, func(_, _ *big.Int) error {
				panic("boom")
			})
		})

		after := h.pool.GlobalState()
		assert.True(t, after.Unlocked)
		assert.Equal(t, before.Price.String(), after.Price.String())
		h.swap(t, true, big.NewInt(1000))
	})
}

type observerFunc func(tick int32, zeroToOne bool) error

func (f observerFunc) CrossTo(tick int32, zeroToOne bool) error {
	return f(tick, zeroToOne)
}

func TestRevert(t *testing.T) {
	h := newTestPool(t)
	h.initialize(t, 0)
	h.mint(t, lp, -60, 60, n("1000000000000000000"))
	h.mint(t, lp, -120, -60, n("2000000000000000000"))
	h.sink.reset()

	state := h.pool.GlobalState()
	liquidity := h.pool.Liquidity()
	g0, g1 := h.pool.FeeGrowthGlobal()
	lower, _ := h.pool.Tick(-60)
	r0, r1 := h.pool.Reserves()

	// crosses -60 before the callback fails
	_, err := h.pool.Swap(trader, trader, true, n("5000000000000000"), minLimit, func(_, _ *big.Int) error {
		return errors.New("no funds")
	})
	require.Error(t, err)

	after := h.pool.GlobalState()
	assert.Equal(t, state.Price.String(), after.Price.String())
	assert.Equal(t, state.Tick, after.Tick)
	assert.Equal(t, liquidity.String(), h.pool.Liquidity().String())
	ag0, ag1 := h.pool.FeeGrowthGlobal()
	assert.Equal(t, g0, ag0)
	assert.Equal(t, g1, ag1)
	afterLower, _ := h.pool.Tick(-60)
	assert.Equal(t, lower.FeeGrowthOutside0, afterLower.FeeGrowthOutside0)
	ar0, ar1 := h.pool.Reserves()
	assert.Equal(t, r0, ar0)
	assert.Equal(t, r1, ar1)

	assert.Empty(t, h.sink.kinds(), "a reverted operation publishes nothing")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.pool.metrics.operations.WithLabelValues("swap", resultError)))
	h.checkInvariants(t)
}

func TestEvents(t *testing.T) {
	h := newTestPool(t)
	h.initialize(t, 0)
	h.mint(t, lp, -60, 60, n("1000000000000000000"))
	h.swap(t, true, n("1000000000000000"))
	_, _, err := h.pool.Burn(lp, -60, 60, n("1000000000000000000"))
	require.NoError(t, err)
	_, _, err = h.pool.Collect(lp, lp, -60, 60, maxUint128, maxUint128)
	require.NoError(t, err)

	assert.Equal(t, []EventKind{KindInitialize, KindMint, KindSwap, KindBurn, KindCollect}, h.sink.kinds())
	for i, e := range h.sink.envelopes {
		assert.Equal(t, uint64(i+1), e.Seq)
		assert.Equal(t, poolAddr, e.Pool)
		assert.Equal(t, startTime, e.Time)
		assert.Equal(t, e.Kind, e.Event.Kind())
	}

	swap, ok := h.sink.envelopes[2].Event.(SwapEvent)
	require.True(t, ok)
	assert.Equal(t, "1000000000000000", swap.Amount0.String())
	assert.Negative(t, swap.Amount1.Sign())
	assert.Equal(t, uint32(3000), swap.Fee)

	t.Run("sink errors do not undo the operation", func(t *testing.T) {
		h.sink.err = errors.New("disk full")
		defer func() { h.sink.err = nil }()

		require.NoError(t, h.pool.SetFee(admin, 500))
		assert.Equal(t, uint16(500), h.pool.GlobalState().Fee)
	})
}

func TestMetrics(t *testing.T) {
	h := newTestPool(t)
	h.initialize(t, 0)
	h.mint(t, lp, -60, 60, n("1000000000000000000"))
	h.mint(t, lp, -120, -60, n("1000000000000000000"))
	h.swap(t, true, n("5000000000000000"))

	assert.Equal(t, 2.0, testutil.ToFloat64(h.pool.metrics.operations.WithLabelValues("mint", resultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.pool.metrics.operations.WithLabelValues("swap", resultOK)))

	count, err := testutil.GatherAndCount(h.reg, "clamm_pool_swap_ticks_crossed")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, err = testutil.GatherAndCount(h.reg, "clamm_pool_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "initialize, mint and swap")
}
