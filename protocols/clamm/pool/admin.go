package pool

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/defistate/defistate-clamm/protocols/clamm/calculator/tickmath"
	"github.com/defistate/defistate-clamm/protocols/clamm/plugin"
	"github.com/ethereum/go-ethereum/common"
)

// Initialize sets the first price of the pool. It can succeed only once.
func (p *Pool) Initialize(sender common.Address, price *big.Int) error {
	return p.execute("initialize", func() error {
		if p.price.Sign() != 0 {
			return ErrAlreadyInitialized
		}
		if err := tickmath.CheckSqrtPrice(price); err != nil {
			return err
		}
		tick, err := tickmath.GetTickAtSqrtRatio(price)
		if err != nil {
			return err
		}

		params := plugin.InitializeParams{Sender: sender, Price: new(big.Int).Set(price), Tick: tick}
		if err := p.plugins.BeforeInitialize(params); err != nil {
			return err
		}

		p.recordCore()
		p.price = new(big.Int).Set(price)
		p.tick = tick
		p.reserves.SetLastPayout(p.now())

		if err := p.plugins.AfterInitialize(params); err != nil {
			return err
		}

		p.logger.Info("pool initialized", "pool", p.address.Hex(), "price", price, "tick", tick)
		p.emit(InitializeEvent{Price: new(big.Int).Set(price), Tick: tick})
		return nil
	})
}

func (p *Pool) authorize(caller common.Address, action string) error {
	if err := p.authority.Authorize(caller, action); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return nil
}

// SetFee changes the static swap fee. It is rejected while the plugin
// supplies the fee.
func (p *Pool) SetFee(caller common.Address, fee uint16) error {
	return p.execute("setFee", func() error {
		if err := p.authorize(caller, "set fee"); err != nil {
			return err
		}
		if p.plugins.Config().Has(plugin.BeforeSwap | plugin.DynamicFee) {
			return ErrDynamicFeeActive
		}
		if fee > MaxFee {
			return fmt.Errorf("%w: %d", ErrInvalidFee, fee)
		}
		if fee == p.fee {
			return nil
		}
		p.recordCore()
		p.fee = fee
		p.emit(FeeEvent{Fee: fee})
		return nil
	})
}

// SetTickSpacing changes the spacing new positions must respect. Existing
// positions are unaffected. The per-tick liquidity cap only ever tightens.
func (p *Pool) SetTickSpacing(caller common.Address, spacing int32) error {
	return p.execute("setTickSpacing", func() error {
		if err := p.authorize(caller, "set tick spacing"); err != nil {
			return err
		}
		if spacing <= 0 || spacing > MaxTickSpacing {
			return fmt.Errorf("%w: %d", tickmath.ErrInvalidTickSpacing, spacing)
		}
		if spacing == p.tickSpacing {
			return nil
		}
		maxLiquidity, err := tickmath.MaxLiquidityPerTick(spacing)
		if err != nil {
			return err
		}

		p.recordCore()
		p.tickSpacing = spacing
		if maxLiquidity.Cmp(p.maxLiquidityPerTick) < 0 {
			p.maxLiquidityPerTick = maxLiquidity
		}
		p.emit(TickSpacingEvent{TickSpacing: spacing})
		return nil
	})
}

// SetCommunityFee changes the share of swap and flash fees, in thousandths,
// that goes to the community vault.
func (p *Pool) SetCommunityFee(caller common.Address, communityFee uint16) error {
	return p.execute("setCommunityFee", func() error {
		if err := p.authorize(caller, "set community fee"); err != nil {
			return err
		}
		if communityFee > MaxCommunityFee {
			return fmt.Errorf("%w: %d", ErrInvalidCommunityFee, communityFee)
		}
		if communityFee == p.communityFee {
			return nil
		}
		p.recordCore()
		p.communityFee = communityFee
		p.emit(CommunityFeeEvent{CommunityFee: communityFee})
		return nil
	})
}

// SetPlugin replaces the plugin. The hook config is kept; enabled hooks
// without a plugin fail closed.
func (p *Pool) SetPlugin(caller common.Address, pl plugin.Plugin) error {
	return p.execute("setPlugin", func() error {
		if err := p.authorize(caller, "set plugin"); err != nil {
			return err
		}
		prev := p.plugins.Plugin()
		p.journal.Append(func() { p.plugins.SetPlugin(prev) })
		p.plugins.SetPlugin(pl)
		p.emit(PluginEvent{Installed: pl != nil})
		return nil
	})
}

// SetPluginConfig selects the hooks the plugin is called for.
func (p *Pool) SetPluginConfig(caller common.Address, config plugin.Hook) error {
	return p.execute("setPluginConfig", func() error {
		if err := p.authorize(caller, "set plugin config"); err != nil {
			return err
		}
		if rest := config &^ plugin.All; rest != 0 {
			return fmt.Errorf("%w: unknown hook bits 0x%x", ErrInvalidPluginConfig, uint16(rest))
		}
		prev := p.plugins.Config()
		p.journal.Append(func() { p.plugins.SetConfig(prev) })
		p.plugins.SetConfig(config)
		p.emit(PluginConfigEvent{Config: config, Hooks: config.String()})
		return nil
	})
}

// SetCommunityVault changes the recipient of community fee payouts.
func (p *Pool) SetCommunityVault(caller common.Address, vault common.Address) error {
	return p.execute("setCommunityVault", func() error {
		if err := p.authorize(caller, "set community vault"); err != nil {
			return err
		}
		if vault == p.reserves.Vault() {
			return nil
		}
		p.reserves.SetVault(vault)
		p.emit(CommunityVaultEvent{Vault: vault})
		return nil
	})
}
