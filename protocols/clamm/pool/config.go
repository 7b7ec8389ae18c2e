package pool

import (
	"errors"
	"fmt"
	"time"

	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/tickmath"
	"github.com/defistate/defistate-clamm/protocols/clamm/plugin"
	"github.com/defistate/defistate-clamm/protocols/clamm/reserves"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// MaxFee bounds the static and dynamic swap fee, in parts per million.
	MaxFee = 50_000
	// MaxCommunityFee is 100% in thousandths of the swap fee.
	MaxCommunityFee = 1000
	MaxTickSpacing  = 500
)

// Assets is the token custody seen from the pool account.
type Assets = reserves.Assets

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Observer is notified synchronously of every initialized tick a swap
// crosses. An error aborts the swap.
type Observer interface {
	CrossTo(tick int32, zeroToOne bool) error
}

// Defaults are the parameters a pool starts with.
type Defaults struct {
	Fee          uint16
	TickSpacing  int32
	CommunityFee uint16
}

func (d Defaults) validate() error {
	if d.Fee > MaxFee {
		return fmt.Errorf("%w: %d", ErrInvalidFee, d.Fee)
	}
	if d.TickSpacing <= 0 || d.TickSpacing > MaxTickSpacing {
		return fmt.Errorf("%w: %d", tickmath.ErrInvalidTickSpacing, d.TickSpacing)
	}
	if d.CommunityFee > MaxCommunityFee {
		return fmt.Errorf("%w: %d", ErrInvalidCommunityFee, d.CommunityFee)
	}
	return nil
}

// Authority supplies the initial parameters of a pool and decides who may
// change them.
type Authority interface {
	Defaults() Defaults
	Authorize(caller common.Address, action string) error
}

// StaticAuthority grants every administrative action to a single admin.
type StaticAuthority struct {
	Admin  common.Address
	Params Defaults
}

func (a StaticAuthority) Defaults() Defaults {
	return a.Params
}

func (a StaticAuthority) Authorize(caller common.Address, action string) error {
	if caller != a.Admin {
		return fmt.Errorf("%w: %s may not %s", ErrUnauthorized, caller.Hex(), action)
	}
	return nil
}

// Config holds the identity and dependencies of a pool.
type Config struct {
	Address   common.Address
	Token0    common.Address
	Token1    common.Address
	Assets    Assets
	Authority Authority
	Registry  prometheus.Registerer
	Logger    Logger
}

func (c *Config) validate() error {
	if c.Token0 == (common.Address{}) || c.Token1 == (common.Address{}) {
		return errors.New("config: tokens cannot be zero")
	}
	if c.Token0.Cmp(c.Token1) >= 0 {
		return errors.New("config: Token0 must sort before Token1")
	}
	if c.Assets == nil {
		return errors.New("config: Assets cannot be nil")
	}
	if c.Authority == nil {
		return errors.New("config: Authority cannot be nil")
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return c.Authority.Defaults().validate()
}

// Option configures optional collaborators of a Pool.
type Option interface {
	apply(*Pool)
}

type funcOption func(*Pool)

func (f funcOption) apply(p *Pool) {
	f(p)
}

func newOption(f func(*Pool)) Option {
	return funcOption(f)
}

// WithPlugin installs a plugin and the hooks it is called for.
func WithPlugin(pl plugin.Plugin, config plugin.Hook) Option {
	return newOption(func(p *Pool) {
		p.plugins.SetPlugin(pl)
		p.plugins.SetConfig(config)
	})
}

func WithObserver(o Observer) Option {
	return newOption(func(p *Pool) {
		p.observer = o
	})
}

func WithEventSink(s EventSink) Option {
	return newOption(func(p *Pool) {
		p.sink = s
	})
}

// WithClock replaces time.Now as the source of block time.
func WithClock(now func() time.Time) Option {
	return newOption(func(p *Pool) {
		p.clock = now
	})
}

// WithCommunityVault sets the recipient of community fee payouts.
func WithCommunityVault(vault common.Address) Option {
	return newOption(func(p *Pool) {
		p.reserves.SetVault(vault)
	})
}
