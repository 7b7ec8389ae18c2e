package pool

import (
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/fullmath"
	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/tickmath"
	"github.com/defistate/defistate-clamm/protocols/clamm/journal"
	"github.com/defistate/defistate-clamm/protocols/clamm/plugin"
	"github.com/defistate/defistate-clamm/protocols/clamm/position"
	"github.com/defistate/defistate-clamm/protocols/clamm/reserves"
	"github.com/defistate/defistate-clamm/protocols/clamm/tickbitmap"
	"github.com/defistate/defistate-clamm/protocols/clamm/ticks"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"lukechampine.com/uint128"
)

// bitmapSpacing is the granularity of the tick bitmap. Ticks are indexed
// individually so that the pool tick spacing can change without rebuilding
// the bitmap.
const bitmapSpacing = 1

// core is the pool-level state. *big.Int fields are replaced, never mutated,
// so a shallow copy is a snapshot.
type core struct {
	price               *big.Int
	tick                int32
	fee                 uint16
	communityFee        uint16
	tickSpacing         int32
	liquidity           *big.Int
	feeGrowthGlobal0    uint256.Int
	feeGrowthGlobal1    uint256.Int
	maxLiquidityPerTick *big.Int
}

// GlobalState is a copy of the pool's slot0-style state.
type GlobalState struct {
	Price        *big.Int    `json:"price"`
	Tick         int32       `json:"tick"`
	Fee          uint16      `json:"fee"`
	CommunityFee uint16      `json:"communityFee"`
	TickSpacing  int32       `json:"tickSpacing"`
	PluginConfig plugin.Hook `json:"pluginConfig"`
	Unlocked     bool        `json:"unlocked"`
}

// Pool is a single concentrated-liquidity pool. Every mutating operation
// holds the pool lock for its whole duration, including callbacks, hooks and
// observer calls; a call that finds the pool locked fails with ErrLocked.
//
// Views do not take the lock. They are meant for callbacks and for the
// goroutine that drives the pool.
type Pool struct {
	address   common.Address
	token0    common.Address
	token1    common.Address
	authority Authority
	logger    Logger
	metrics   *Metrics
	sink      EventSink
	observer  Observer
	clock     func() time.Time

	locked  atomic.Bool
	journal *journal.Journal
	pending []Event
	seq     uint64

	core
	ticks     *ticks.Table
	bitmap    *tickbitmap.Bitmap
	positions *position.Book
	reserves  *reserves.Manager
	plugins   *plugin.Gateway
}

func New(cfg Config, opts ...Option) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	defaults := cfg.Authority.Defaults()
	maxLiquidity, err := tickmath.MaxLiquidityPerTick(defaults.TickSpacing)
	if err != nil {
		return nil, err
	}

	j := journal.New()
	p := &Pool{
		address:   cfg.Address,
		token0:    cfg.Token0,
		token1:    cfg.Token1,
		authority: cfg.Authority,
		logger:    cfg.Logger,
		metrics:   metrics,
		clock:     time.Now,
		journal:   j,
		core: core{
			price:               new(big.Int),
			fee:                 defaults.Fee,
			communityFee:        defaults.CommunityFee,
			tickSpacing:         defaults.TickSpacing,
			liquidity:           new(big.Int),
			maxLiquidityPerTick: maxLiquidity,
		},
		ticks:     ticks.NewTable(j),
		bitmap:    tickbitmap.New(j),
		positions: position.NewBook(j),
		reserves:  reserves.NewManager(cfg.Token0, cfg.Token1, cfg.Assets, j),
		plugins:   plugin.NewGateway(nil, 0),
	}

	for _, opt := range opts {
		opt.apply(p)
	}
	j.Commit()

	return p, nil
}

// execute runs fn under the pool lock. On error every change fn made is
// undone and its events are dropped; on success the events are published.
func (p *Pool) execute(op string, fn func() error) (err error) {
	if !p.locked.CompareAndSwap(false, true) {
		p.metrics.observe(op, ErrLocked)
		return ErrLocked
	}
	defer p.locked.Store(false)

	timer := p.metrics.timer(op)
	defer func() {
		timer.ObserveDuration()
		p.metrics.observe(op, err)
	}()

	defer func() {
		if r := recover(); r != nil {
			p.journal.Revert()
			p.pending = nil
			panic(r)
		}
	}()

	if err = fn(); err != nil {
		p.journal.Revert()
		p.pending = nil
		p.logger.Debug("pool operation reverted", "pool", p.address.Hex(), "op", op, "error", err)
		return err
	}

	p.journal.Commit()
	p.publish()
	return nil
}

func (p *Pool) emit(e Event) {
	p.pending = append(p.pending, e)
}

func (p *Pool) publish() {
	events := p.pending
	p.pending = nil
	if p.sink == nil || len(events) == 0 {
		return
	}

	now := p.clock()
	envelopes := make([]Envelope, len(events))
	for i, e := range events {
		p.seq++
		envelopes[i] = Envelope{Pool: p.address, Seq: p.seq, Time: now, Kind: e.Kind(), Event: e}
	}
	if err := p.sink.Publish(envelopes); err != nil {
		p.logger.Warn("failed to publish pool events", "pool", p.address.Hex(), "count", len(envelopes), "error", err)
	}
}

// recordCore registers the undo for the next change to the core state.
func (p *Pool) recordCore() {
	prev := p.core
	p.journal.Append(func() { p.core = prev })
}

func (p *Pool) now() uint32 {
	return uint32(p.clock().Unix())
}

func (p *Pool) requireInitialized() error {
	if p.price.Sign() == 0 {
		return ErrNotInitialized
	}
	return nil
}

// syncReserves reconciles the reserves with the pool balances and credits
// any donation to in-range liquidity.
func (p *Pool) syncReserves() (reserves.Sync, error) {
	sync, err := p.reserves.Update()
	if err != nil {
		return reserves.Sync{}, err
	}
	if p.liquidity.Sign() == 0 || (sync.Donated0.Sign() == 0 && sync.Donated1.Sign() == 0) {
		return sync, nil
	}

	g0, g1 := p.feeGrowthGlobal0, p.feeGrowthGlobal1
	if err := addFeeGrowth(&g0, sync.Donated0, p.liquidity); err != nil {
		return reserves.Sync{}, err
	}
	if err := addFeeGrowth(&g1, sync.Donated1, p.liquidity); err != nil {
		return reserves.Sync{}, err
	}
	p.recordCore()
	p.feeGrowthGlobal0, p.feeGrowthGlobal1 = g0, g1
	p.logger.Debug("credited donation", "pool", p.address.Hex(), "amount0", sync.Donated0, "amount1", sync.Donated1)
	return sync, nil
}

// addFeeGrowth adds floor(amount * 2^128 / liquidity) to growth modulo 2^256.
func addFeeGrowth(growth *uint256.Int, amount, liquidity *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	delta := new(big.Int)
	if err := fullmath.MulDiv(delta, amount, fullmath.Q128, liquidity); err != nil {
		return err
	}
	d, overflow := uint256.FromBig(delta)
	if overflow {
		return fullmath.ErrOverflow
	}
	growth.Add(growth, d)
	return nil
}

// changeReserves applies settled amounts and emits a payout event when
// community fees were sent to the vault.
func (p *Pool) changeReserves(delta0, delta1, communityFee0, communityFee1 *big.Int) error {
	payout, err := p.reserves.Change(delta0, delta1, communityFee0, communityFee1, p.now())
	if err != nil {
		return err
	}
	if payout != nil {
		p.emit(CommunityFeeTransferEvent{Vault: payout.Vault, Amount0: payout.Amount0, Amount1: payout.Amount1})
	}
	return nil
}

// received returns how much of token arrived since balanceBefore.
func (p *Pool) received(token common.Address, balanceBefore *big.Int) (*big.Int, error) {
	after, err := p.reserves.BalanceOf(token)
	if err != nil {
		return nil, err
	}
	return after.Sub(after, balanceBefore), nil
}

func (p *Pool) transfer(token, to common.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return nil
	}
	return p.reserves.Transfer(token, to, amount)
}

func (p *Pool) Address() common.Address {
	return p.address
}

func (p *Pool) Tokens() (common.Address, common.Address) {
	return p.token0, p.token1
}

func (p *Pool) GlobalState() GlobalState {
	return GlobalState{
		Price:        new(big.Int).Set(p.price),
		Tick:         p.tick,
		Fee:          p.fee,
		CommunityFee: p.communityFee,
		TickSpacing:  p.tickSpacing,
		PluginConfig: p.plugins.Config(),
		Unlocked:     !p.locked.Load(),
	}
}

// Liquidity returns the liquidity active at the current price.
func (p *Pool) Liquidity() *big.Int {
	return new(big.Int).Set(p.liquidity)
}

func (p *Pool) FeeGrowthGlobal() (uint256.Int, uint256.Int) {
	return p.feeGrowthGlobal0, p.feeGrowthGlobal1
}

func (p *Pool) MaxLiquidityPerTick() *big.Int {
	return new(big.Int).Set(p.maxLiquidityPerTick)
}

func (p *Pool) Tick(index int32) (ticks.Tick, bool) {
	return p.ticks.Get(index)
}

// TickIndices returns every initialized tick in ascending order.
func (p *Pool) TickIndices() []int32 {
	return p.ticks.Indices()
}

func (p *Pool) IsTickInitialized(index int32) bool {
	return p.bitmap.IsInitialized(index, bitmapSpacing)
}

func (p *Pool) Position(key position.Key) (position.Position, bool) {
	return p.positions.Get(key)
}

func (p *Pool) PositionKeys() []position.Key {
	return p.positions.Keys()
}

// SecondsInside returns the seconds the price has spent inside [lower, upper)
// modulo 2^32. Only differences between two readings are meaningful.
func (p *Pool) SecondsInside(lower, upper int32) uint32 {
	return p.ticks.SecondsInside(lower, upper, p.tick, p.now())
}

func (p *Pool) Reserves() (uint128.Uint128, uint128.Uint128) {
	return p.reserves.Reserves()
}

func (p *Pool) CommunityFeePending() (uint128.Uint128, uint128.Uint128) {
	return p.reserves.Pending()
}

func (p *Pool) CommunityVault() common.Address {
	return p.reserves.Vault()
}
