package plugin

import (
	"errors"
	"fmt"
)

var (
	ErrHookNotAcknowledged = errors.New("plugin hook not acknowledged")
	ErrHookFailed          = errors.New("plugin hook failed")
)

// Gateway invokes the hooks selected by config on the installed plugin.
type Gateway struct {
	plugin Plugin
	config Hook
}

func NewGateway(p Plugin, config Hook) *Gateway {
	return &Gateway{plugin: p, config: config}
}

func (g *Gateway) Plugin() Plugin {
	return g.plugin
}

func (g *Gateway) Config() Hook {
	return g.config
}

func (g *Gateway) SetPlugin(p Plugin) {
	g.plugin = p
}

func (g *Gateway) SetConfig(config Hook) {
	g.config = config
}

// call runs fn when hook is enabled and checks its acknowledgement.
// A panic inside the plugin is returned as ErrHookFailed.
func (g *Gateway) call(hook Hook, fn func() (Ack, error)) (err error) {
	if !g.config.Has(hook) {
		return nil
	}
	if g.plugin == nil {
		return fmt.Errorf("%w: %s enabled without a plugin", ErrHookNotAcknowledged, hook)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", ErrHookFailed, hook, r)
		}
	}()

	ack, err := fn()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrHookFailed, hook, err)
	}
	if ack != Acknowledge(hook) {
		return fmt.Errorf("%w: %s returned %s", ErrHookNotAcknowledged, hook, ack)
	}
	return nil
}

func (g *Gateway) BeforeInitialize(p InitializeParams) error {
	return g.call(BeforeInitialize, func() (Ack, error) { return g.plugin.BeforeInitialize(p) })
}

func (g *Gateway) AfterInitialize(p InitializeParams) error {
	return g.call(AfterInitialize, func() (Ack, error) { return g.plugin.AfterInitialize(p) })
}

func (g *Gateway) BeforeModifyPosition(p ModifyPositionParams) error {
	return g.call(BeforeModifyPosition, func() (Ack, error) { return g.plugin.BeforeModifyPosition(p) })
}

func (g *Gateway) AfterModifyPosition(p ModifyPositionParams) error {
	return g.call(AfterModifyPosition, func() (Ack, error) { return g.plugin.AfterModifyPosition(p) })
}

// BeforeSwap returns the plugin's fee override and whether it applies.
func (g *Gateway) BeforeSwap(p SwapParams) (fee uint32, override bool, err error) {
	err = g.call(BeforeSwap, func() (Ack, error) {
		ack, f, err := g.plugin.BeforeSwap(p)
		fee = f
		return ack, err
	})
	if err != nil {
		return 0, false, err
	}
	return fee, g.config.Has(BeforeSwap | DynamicFee), nil
}

func (g *Gateway) AfterSwap(p SwapParams) error {
	return g.call(AfterSwap, func() (Ack, error) { return g.plugin.AfterSwap(p) })
}

func (g *Gateway) BeforeFlash(p FlashParams) error {
	return g.call(BeforeFlash, func() (Ack, error) { return g.plugin.BeforeFlash(p) })
}

func (g *Gateway) AfterFlash(p FlashParams) error {
	return g.call(AfterFlash, func() (Ack, error) { return g.plugin.AfterFlash(p) })
}
