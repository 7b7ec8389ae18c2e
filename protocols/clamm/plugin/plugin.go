package plugin

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Hook is a bitmask of the lifecycle points a plugin wants to be called at.
type Hook uint16

const (
	BeforeInitialize Hook = 1 << iota
	AfterInitialize
	BeforeModifyPosition
	AfterModifyPosition
	BeforeSwap
	AfterSwap
	BeforeFlash
	AfterFlash
	// DynamicFee lets the fee returned by BeforeSwap replace the pool fee for
	// the whole swap. It has no effect unless BeforeSwap is also set.
	DynamicFee

	All = BeforeInitialize | AfterInitialize | BeforeModifyPosition | AfterModifyPosition |
		BeforeSwap | AfterSwap | BeforeFlash | AfterFlash | DynamicFee
)

var hookNames = []struct {
	hook Hook
	name string
}{
	{BeforeInitialize, "beforeInitialize"},
	{AfterInitialize, "afterInitialize"},
	{BeforeModifyPosition, "beforeModifyPosition"},
	{AfterModifyPosition, "afterModifyPosition"},
	{BeforeSwap, "beforeSwap"},
	{AfterSwap, "afterSwap"},
	{BeforeFlash, "beforeFlash"},
	{AfterFlash, "afterFlash"},
	{DynamicFee, "dynamicFee"},
}

func (h Hook) Has(flag Hook) bool {
	return h&flag == flag
}

func (h Hook) String() string {
	if h == 0 {
		return "none"
	}
	var names []string
	for _, n := range hookNames {
		if h.Has(n.hook) {
			names = append(names, n.name)
		}
	}
	if rest := h &^ All; rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint16(rest)))
	}
	return strings.Join(names, "|")
}

// Ack is the receipt a plugin returns from a hook. Only Acknowledge can
// produce a non-zero Ack, and the pool accepts exactly Acknowledge(hook).
type Ack struct {
	hook Hook
}

func Acknowledge(hook Hook) Ack {
	return Ack{hook: hook}
}

func (a Ack) String() string {
	return "ack(" + a.hook.String() + ")"
}

type InitializeParams struct {
	Sender common.Address
	Price  *big.Int
	Tick   int32
}

// ModifyPositionParams describes a mint, burn or poke. Amount0 and Amount1
// are only set for AfterModifyPosition.
type ModifyPositionParams struct {
	Sender         common.Address
	Owner          common.Address
	Lower          int32
	Upper          int32
	LiquidityDelta *big.Int
	Amount0        *big.Int
	Amount1        *big.Int
}

// SwapParams describes a swap. Amount0 and Amount1 are only set for AfterSwap.
type SwapParams struct {
	Sender          common.Address
	Recipient       common.Address
	ZeroToOne       bool
	AmountSpecified *big.Int
	PriceLimit      *big.Int
	Amount0         *big.Int
	Amount1         *big.Int
}

// FlashParams describes a flash loan. Paid0 and Paid1 are only set for
// AfterFlash.
type FlashParams struct {
	Sender    common.Address
	Recipient common.Address
	Amount0   *big.Int
	Amount1   *big.Int
	Paid0     *big.Int
	Paid1     *big.Int
}

// Plugin receives the lifecycle callbacks enabled in the pool's hook config.
// Every method must return Acknowledge of its own hook; anything else aborts
// the pool operation.
type Plugin interface {
	BeforeInitialize(p InitializeParams) (Ack, error)
	AfterInitialize(p InitializeParams) (Ack, error)
	BeforeModifyPosition(p ModifyPositionParams) (Ack, error)
	AfterModifyPosition(p ModifyPositionParams) (Ack, error)
	// BeforeSwap may return a fee in parts per million that replaces the
	// pool fee when the DynamicFee flag is set.
	BeforeSwap(p SwapParams) (Ack, uint32, error)
	AfterSwap(p SwapParams) (Ack, error)
	BeforeFlash(p FlashParams) (Ack, error)
	AfterFlash(p FlashParams) (Ack, error)
}

// Base implements every Plugin method by returning the zero Ack. Embed it
// and override the hooks you enable; a hook that is enabled but not
// overridden fails the operation.
type Base struct{}

var _ Plugin = Base{}

func (Base) BeforeInitialize(InitializeParams) (Ack, error)         { return Ack{}, nil }
func (Base) AfterInitialize(InitializeParams) (Ack, error)          { return Ack{}, nil }
func (Base) BeforeModifyPosition(ModifyPositionParams) (Ack, error) { return Ack{}, nil }
func (Base) AfterModifyPosition(ModifyPositionParams) (Ack, error)  { return Ack{}, nil }
func (Base) BeforeSwap(SwapParams) (Ack, uint32, error)             { return Ack{}, 0, nil }
func (Base) AfterSwap(SwapParams) (Ack, error)                      { return Ack{}, nil }
func (Base) BeforeFlash(FlashParams) (Ack, error)                   { return Ack{}, nil }
func (Base) AfterFlash(FlashParams) (Ack, error)                    { return Ack{}, nil }
