package tokenregistry

import (
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// feeDenominator is the precision of FeeOnTransferPercent: hundredths of a
// percent.
const feeDenominator = 10_000

// Token describes an asset held in a Ledger.
type Token struct {
	Address  common.Address `json:"address"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
	// FeeOnTransferPercent is taken from every transfer and burned. The
	// recipient receives the rest.
	FeeOnTransferPercent float64 `json:"feeOnTransferPercent"`
}

func (t Token) validate() error {
	if t.Address == (common.Address{}) {
		return fmt.Errorf("token %q: address cannot be zero", t.Symbol)
	}
	if math.IsNaN(t.FeeOnTransferPercent) || t.FeeOnTransferPercent < 0 || t.FeeOnTransferPercent >= 100 {
		return fmt.Errorf("token %q: fee on transfer %v%% out of range [0, 100)", t.Symbol, t.FeeOnTransferPercent)
	}
	return nil
}

// transferFee returns the part of amount withheld by the token, rounded down
// to whole units.
func (t Token) transferFee(amount *big.Int) *big.Int {
	bps := t.feeBps()
	if bps == 0 {
		return new(big.Int)
	}
	fee := new(big.Int).Mul(amount, big.NewInt(bps))
	return fee.Quo(fee, big.NewInt(feeDenominator))
}

func (t Token) feeBps() int64 {
	return int64(math.Round(t.FeeOnTransferPercent * 100))
}

// GrossUp returns an amount whose transfer delivers at least net.
func (t Token) GrossUp(net *big.Int) *big.Int {
	bps := t.feeBps()
	if bps == 0 || net.Sign() <= 0 {
		return new(big.Int).Set(net)
	}
	gross := new(big.Int).Mul(net, big.NewInt(feeDenominator))
	keep := big.NewInt(feeDenominator - bps)
	gross.Add(gross, keep).Sub(gross, big.NewInt(1))
	return gross.Quo(gross, keep)
}
