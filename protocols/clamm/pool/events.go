package pool

import (
	"math/big"
	"time"

	"github.com/defistate/defistate-clamm/protocols/clamm/plugin"
	"github.com/ethereum/go-ethereum/common"
)

type EventKind string

const (
	KindInitialize           EventKind = "Initialize"
	KindMint                 EventKind = "Mint"
	KindBurn                 EventKind = "Burn"
	KindCollect              EventKind = "Collect"
	KindSwap                 EventKind = "Swap"
	KindFlash                EventKind = "Flash"
	KindCommunityFeeTransfer EventKind = "CommunityFeeTransfer"
	KindFee                  EventKind = "Fee"
	KindTickSpacing          EventKind = "TickSpacing"
	KindCommunityFee         EventKind = "CommunityFee"
	KindPlugin               EventKind = "Plugin"
	KindPluginConfig         EventKind = "PluginConfig"
	KindCommunityVault       EventKind = "CommunityVault"
)

// Event is the payload of a published pool event.
type Event interface {
	Kind() EventKind
}

// Envelope is an event as delivered to an EventSink. Seq increases by one
// for every event a pool publishes.
type Envelope struct {
	Pool  common.Address `json:"pool"`
	Seq   uint64         `json:"seq"`
	Time  time.Time      `json:"time"`
	Kind  EventKind      `json:"kind"`
	Event Event          `json:"event"`
}

// EventSink receives the events of an operation once it has committed.
// A sink error is logged; the operation stays committed.
type EventSink interface {
	Publish(events []Envelope) error
}

type InitializeEvent struct {
	Price *big.Int `json:"price"`
	Tick  int32    `json:"tick"`
}

type MintEvent struct {
	Sender    common.Address `json:"sender"`
	Owner     common.Address `json:"owner"`
	Lower     int32          `json:"lower"`
	Upper     int32          `json:"upper"`
	Liquidity *big.Int       `json:"liquidity"`
	Amount0   *big.Int       `json:"amount0"`
	Amount1   *big.Int       `json:"amount1"`
}

type BurnEvent struct {
	Owner     common.Address `json:"owner"`
	Lower     int32          `json:"lower"`
	Upper     int32          `json:"upper"`
	Liquidity *big.Int       `json:"liquidity"`
	Amount0   *big.Int       `json:"amount0"`
	Amount1   *big.Int       `json:"amount1"`
}

type CollectEvent struct {
	Owner     common.Address `json:"owner"`
	Recipient common.Address `json:"recipient"`
	Lower     int32          `json:"lower"`
	Upper     int32          `json:"upper"`
	Amount0   *big.Int       `json:"amount0"`
	Amount1   *big.Int       `json:"amount1"`
}

type SwapEvent struct {
	Sender    common.Address `json:"sender"`
	Recipient common.Address `json:"recipient"`
	Amount0   *big.Int       `json:"amount0"`
	Amount1   *big.Int       `json:"amount1"`
	Price     *big.Int       `json:"price"`
	Liquidity *big.Int       `json:"liquidity"`
	Tick      int32          `json:"tick"`
	Fee       uint32         `json:"fee"`
}

type FlashEvent struct {
	Sender    common.Address `json:"sender"`
	Recipient common.Address `json:"recipient"`
	Amount0   *big.Int       `json:"amount0"`
	Amount1   *big.Int       `json:"amount1"`
	Paid0     *big.Int       `json:"paid0"`
	Paid1     *big.Int       `json:"paid1"`
}

type CommunityFeeTransferEvent struct {
	Vault   common.Address `json:"vault"`
	Amount0 *big.Int       `json:"amount0"`
	Amount1 *big.Int       `json:"amount1"`
}

type FeeEvent struct {
	Fee uint16 `json:"fee"`
}

type TickSpacingEvent struct {
	TickSpacing int32 `json:"tickSpacing"`
}

type CommunityFeeEvent struct {
	CommunityFee uint16 `json:"communityFee"`
}

type PluginEvent struct {
	Installed bool `json:"installed"`
}

type PluginConfigEvent struct {
	Config plugin.Hook `json:"config"`
	Hooks  string      `json:"hooks"`
}

type CommunityVaultEvent struct {
	Vault common.Address `json:"vault"`
}

func (InitializeEvent) Kind() EventKind           { return KindInitialize }
func (MintEvent) Kind() EventKind                 { return KindMint }
func (BurnEvent) Kind() EventKind                 { return KindBurn }
func (CollectEvent) Kind() EventKind              { return KindCollect }
func (SwapEvent) Kind() EventKind                 { return KindSwap }
func (FlashEvent) Kind() EventKind                { return KindFlash }
func (CommunityFeeTransferEvent) Kind() EventKind { return KindCommunityFeeTransfer }
func (FeeEvent) Kind() EventKind                  { return KindFee }
func (TickSpacingEvent) Kind() EventKind          { return KindTickSpacing }
func (CommunityFeeEvent) Kind() EventKind         { return KindCommunityFee }
func (PluginEvent) Kind() EventKind               { return KindPlugin }
func (PluginConfigEvent) Kind() EventKind         { return KindPluginConfig }
func (CommunityVaultEvent) Kind() EventKind       { return KindCommunityVault }
