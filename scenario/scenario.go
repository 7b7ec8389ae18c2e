// Package scenario replays scripted pool interactions against an in-memory
// token ledger.
package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/defistate/defistate-clamm/protocols/clamm/pool"
	"github.com/defistate/defistate-clamm/protocols/tokenregistry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// Scenario is one pool and the steps applied to it in order.
type Scenario struct {
	Name     string                `json:"name"`
	Tokens   []tokenregistry.Token `json:"tokens"`
	Pool     PoolConfig            `json:"pool"`
	Balances []Balance             `json:"balances"`
	Steps    []Step                `json:"steps"`
}

type PoolConfig struct {
	Address      common.Address `json:"address"`
	Token0       common.Address `json:"token0"`
	Token1       common.Address `json:"token1"`
	Admin        common.Address `json:"admin"`
	Fee          uint16         `json:"fee"`
	TickSpacing  int32          `json:"tickSpacing"`
	CommunityFee uint16         `json:"communityFee"`
	Vault        common.Address `json:"vault"`
}

// ApplyDefaults fills in pool parameters when the scenario leaves the tick
// spacing unset. Fee and community fee are taken together with it, since
// zero is a valid value for both.
func (c *PoolConfig) ApplyDefaults(d pool.Defaults) {
	if c.TickSpacing != 0 {
		return
	}
	c.Fee, c.TickSpacing, c.CommunityFee = d.Fee, d.TickSpacing, d.CommunityFee
}

// Balance is minted to Owner before the first step.
type Balance struct {
	Owner  common.Address        `json:"owner"`
	Token  common.Address        `json:"token"`
	Amount *math.HexOrDecimal256 `json:"amount"`
}

type Op string

const (
	OpInitialize        Op = "initialize"
	OpMint              Op = "mint"
	OpBurn              Op = "burn"
	OpCollect           Op = "collect"
	OpSwap              Op = "swap"
	OpFlash             Op = "flash"
	OpDonate            Op = "donate"
	OpAdvance           Op = "advance"
	OpSetFee            Op = "setFee"
	OpSetTickSpacing    Op = "setTickSpacing"
	OpSetCommunityFee   Op = "setCommunityFee"
	OpSetCommunityVault Op = "setCommunityVault"
)

// Step is a single pool interaction. Fields not used by Op are ignored.
// Amounts are decimal or 0x-prefixed hex strings.
type Step struct {
	Op   Op             `json:"op"`
	From common.Address `json:"from"`
	// To receives outputs; it defaults to From.
	To common.Address `json:"to"`

	// initialize: Tick is used when SqrtPriceX96 is empty.
	Tick         int32                 `json:"tick"`
	SqrtPriceX96 *math.HexOrDecimal256 `json:"sqrtPriceX96"`

	Lower     int32                 `json:"lower"`
	Upper     int32                 `json:"upper"`
	Liquidity *math.HexOrDecimal256 `json:"liquidity"`

	ZeroToOne   bool                  `json:"zeroToOne"`
	ExactOutput bool                  `json:"exactOutput"`
	Amount      *math.HexOrDecimal256 `json:"amount"`
	PriceLimit  *math.HexOrDecimal256 `json:"priceLimit"`

	// collect requests, and flash loan amounts. An omitted collect request
	// takes everything owed.
	Amount0 *math.HexOrDecimal256 `json:"amount0"`
	Amount1 *math.HexOrDecimal256 `json:"amount1"`

	Token   common.Address `json:"token"`
	Seconds int64          `json:"seconds"`

	Fee          uint16 `json:"fee"`
	TickSpacing  int32  `json:"tickSpacing"`
	CommunityFee uint16 `json:"communityFee"`

	// ExpectError makes the step pass only if it fails with an error
	// containing this text.
	ExpectError string `json:"expectError"`
}

func (s Step) recipient() common.Address {
	if s.To == (common.Address{}) {
		return s.From
	}
	return s.To
}

// value returns a copy of x, or nil.
func value(x *math.HexOrDecimal256) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set((*big.Int)(x))
}

func (sc *Scenario) validate() error {
	if sc.Name == "" {
		return fmt.Errorf("scenario: name is required")
	}
	if len(sc.Steps) == 0 {
		return fmt.Errorf("scenario %q: no steps", sc.Name)
	}
	for _, b := range sc.Balances {
		if b.Amount == nil {
			return fmt.Errorf("scenario %q: balance of %s without amount", sc.Name, b.Owner.Hex())
		}
	}
	return nil
}

// Parse decodes a single scenario object or an array of scenarios.
func Parse(data []byte) ([]Scenario, error) {
	data = bytes.TrimSpace(data)
	var scenarios []Scenario
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &scenarios); err != nil {
			return nil, fmt.Errorf("decode scenarios: %w", err)
		}
	} else {
		var sc Scenario
		if err := json.Unmarshal(data, &sc); err != nil {
			return nil, fmt.Errorf("decode scenario: %w", err)
		}
		scenarios = append(scenarios, sc)
	}

	for i := range scenarios {
		if err := scenarios[i].validate(); err != nil {
			return nil, err
		}
	}
	return scenarios, nil
}

// Load reads the scenarios in each file.
func Load(paths ...string) ([]Scenario, error) {
	var all []Scenario
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		scenarios, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		all = append(all, scenarios...)
	}
	return all, nil
}
