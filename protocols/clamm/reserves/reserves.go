package reserves

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/defistate/defistate-clamm/protocols/clamm/journal"
	"github.com/ethereum/go-ethereum/common"
	"lukechampine.com/uint128"
)

// CommunityFeeTransferFrequency is the minimum time between two automatic
// community fee payouts to the vault.
const CommunityFeeTransferFrequency = 8 * time.Hour

var (
	ErrReserveOverflow  = errors.New("reserve overflows uint128")
	ErrReserveUnderflow = errors.New("reserve underflow")
	ErrNegativeFee      = errors.New("community fee must not be negative")
	ErrPayoutUnfunded   = errors.New("pool balance does not cover community fee payout")
)

// Assets moves and measures the tokens held by the pool account.
type Assets interface {
	BalanceOf(asset common.Address) (*big.Int, error)
	Transfer(asset, to common.Address, amount *big.Int) error
}

// Sync is the result of reconciling cached reserves with observed balances.
type Sync struct {
	Balance0 *big.Int
	Balance1 *big.Int
	// Donated amounts arrived without going through a pool operation.
	Donated0 *big.Int
	Donated1 *big.Int
}

// Payout describes a community fee transfer made by Change.
type Payout struct {
	Vault   common.Address
	Amount0 *big.Int
	Amount1 *big.Int
}

type state struct {
	reserve0, reserve1 uint128.Uint128
	pending0, pending1 uint128.Uint128
	lastPayout         uint32
	vault              common.Address
}

// Manager keeps the cached reserves of a token pair and the community fees
// owed to the vault.
type Manager struct {
	token0, token1 common.Address
	assets         Assets
	journal        *journal.Journal
	state
}

func NewManager(token0, token1 common.Address, assets Assets, j *journal.Journal) *Manager {
	return &Manager{
		token0:  token0,
		token1:  token1,
		assets:  assets,
		journal: j,
	}
}

func (m *Manager) record() {
	prev := m.state
	m.journal.Append(func() { m.state = prev })
}

// Balances reads the current pool balances of both tokens.
func (m *Manager) Balances() (*big.Int, *big.Int, error) {
	b0, err := m.BalanceOf(m.token0)
	if err != nil {
		return nil, nil, err
	}
	b1, err := m.BalanceOf(m.token1)
	if err != nil {
		return nil, nil, err
	}
	return b0, b1, nil
}

// BalanceOf reads the pool balance of token.
func (m *Manager) BalanceOf(token common.Address) (*big.Int, error) {
	b, err := m.assets.BalanceOf(token)
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", token.Hex(), err)
	}
	return b, nil
}

// Transfer sends amount of token from the pool. Cached reserves are not
// touched; the caller settles them through Change.
func (m *Manager) Transfer(token, to common.Address, amount *big.Int) error {
	if err := m.assets.Transfer(token, to, amount); err != nil {
		return fmt.Errorf("transfer %s to %s: %w", token.Hex(), to.Hex(), err)
	}
	return nil
}

// Update sets the cached reserves to the observed balances and reports any
// surplus over the previous cache as a donation. It returns the balances the
// caller should difference against after moving tokens.
func (m *Manager) Update() (Sync, error) {
	b0, b1, err := m.Balances()
	if err != nil {
		return Sync{}, err
	}
	if b0.BitLen() > 128 || b1.BitLen() > 128 {
		return Sync{}, ErrReserveOverflow
	}
	if b0.Sign() < 0 || b1.Sign() < 0 {
		return Sync{}, ErrReserveUnderflow
	}

	sync := Sync{
		Balance0: b0,
		Balance1: b1,
		Donated0: surplus(b0, m.reserve0),
		Donated1: surplus(b1, m.reserve1),
	}

	// FromBig shifts its argument, so convert copies.
	r0 := uint128.FromBig(new(big.Int).Set(b0))
	r1 := uint128.FromBig(new(big.Int).Set(b1))
	if r0.Equals(m.reserve0) && r1.Equals(m.reserve1) {
		return sync, nil
	}
	m.record()
	m.reserve0, m.reserve1 = r0, r1
	return sync, nil
}

func surplus(balance *big.Int, reserve uint128.Uint128) *big.Int {
	d := new(big.Int).Sub(balance, reserve.Big())
	if d.Sign() < 0 {
		return d.SetInt64(0)
	}
	return d
}

// Change applies signed reserve deltas and accrues community fees, which are
// part of the deltas until paid out. Pending fees are sent to the vault once
// CommunityFeeTransferFrequency has elapsed since the previous payout, or
// earlier if a pending counter would overflow.
//
// Both payout balances are checked before either transfer is made. If the
// second transfer still fails, the first one stays with the vault while the
// cached state is left unchanged; the next Update resyncs the reserves.
func (m *Manager) Change(delta0, delta1, communityFee0, communityFee1 *big.Int, now uint32) (*Payout, error) {
	if communityFee0.Sign() < 0 || communityFee1.Sign() < 0 {
		return nil, ErrNegativeFee
	}

	next := m.state
	var payout *Payout

	if communityFee0.Sign() > 0 || communityFee1.Sign() > 0 {
		p0 := new(big.Int).Add(next.pending0.Big(), communityFee0)
		p1 := new(big.Int).Add(next.pending1.Big(), communityFee1)
		overflow := p0.BitLen() > 128 || p1.BitLen() > 128
		elapsed := time.Duration(now-next.lastPayout) * time.Second

		if next.vault != (common.Address{}) && (overflow || elapsed >= CommunityFeeTransferFrequency) {
			payout = &Payout{Vault: next.vault, Amount0: p0, Amount1: p1}
			p0, p1 = new(big.Int), new(big.Int)
			next.lastPayout = now
		} else if overflow {
			return nil, fmt.Errorf("%w: community fee pending", ErrReserveOverflow)
		}
		next.pending0, next.pending1 = uint128.FromBig(p0), uint128.FromBig(p1)
	}

	r0 := new(big.Int).Add(next.reserve0.Big(), delta0)
	r1 := new(big.Int).Add(next.reserve1.Big(), delta1)
	if payout != nil {
		r0.Sub(r0, payout.Amount0)
		r1.Sub(r1, payout.Amount1)
	}
	if r0.Sign() < 0 || r1.Sign() < 0 {
		return nil, ErrReserveUnderflow
	}
	if r0.BitLen() > 128 || r1.BitLen() > 128 {
		return nil, ErrReserveOverflow
	}
	next.reserve0, next.reserve1 = uint128.FromBig(r0), uint128.FromBig(r1)

	if payout != nil {
		if err := m.pay(payout); err != nil {
			return nil, err
		}
	}

	m.record()
	m.state = next
	return payout, nil
}

func (m *Manager) pay(p *Payout) error {
	b0, b1, err := m.Balances()
	if err != nil {
		return err
	}
	if b0.Cmp(p.Amount0) < 0 || b1.Cmp(p.Amount1) < 0 {
		return fmt.Errorf("%w: have %s/%s, need %s/%s", ErrPayoutUnfunded, b0, b1, p.Amount0, p.Amount1)
	}

	if p.Amount0.Sign() > 0 {
		if err := m.assets.Transfer(m.token0, p.Vault, p.Amount0); err != nil {
			return fmt.Errorf("community fee transfer: %w", err)
		}
	}
	if p.Amount1.Sign() > 0 {
		if err := m.assets.Transfer(m.token1, p.Vault, p.Amount1); err != nil {
			return fmt.Errorf("community fee transfer: %w", err)
		}
	}
	return nil
}

// SetVault changes the community fee recipient. The zero address disables
// payouts; fees keep accruing as pending.
func (m *Manager) SetVault(vault common.Address) {
	m.record()
	m.vault = vault
}

// SetLastPayout anchors the payout schedule, typically at initialization.
func (m *Manager) SetLastPayout(now uint32) {
	m.record()
	m.lastPayout = now
}

func (m *Manager) Vault() common.Address {
	return m.vault
}

// Reserves returns the cached reserves.
func (m *Manager) Reserves() (uint128.Uint128, uint128.Uint128) {
	return m.reserve0, m.reserve1
}

// Pending returns the community fees accrued but not yet paid out.
func (m *Manager) Pending() (uint128.Uint128, uint128.Uint128) {
	return m.pending0, m.pending1
}

func (m *Manager) LastPayout() uint32 {
	return m.lastPayout
}
