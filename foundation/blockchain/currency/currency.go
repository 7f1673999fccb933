// Package currency defines the monetary unit and its checked arithmetic.
// All values move through the system as whole satoshis.
package currency

import (
	"errors"
	"fmt"
	"math"
)

// SatoshisPerCoin is the number of satoshis in one coin.
const SatoshisPerCoin Satoshi = 100_000_000

// BlockSubsidy is the reward minted by every coinbase transaction, 50 coins.
const BlockSubsidy Satoshi = 50 * SatoshisPerCoin

// ErrOverflow is returned when an arithmetic operation would wrap.
var ErrOverflow = errors.New("satoshi arithmetic overflow")

// Satoshi is a non-negative amount of the smallest indivisible unit.
type Satoshi uint64

// Add returns a+b, failing instead of wrapping.
func (a Satoshi) Add(b Satoshi) (Satoshi, error) {
	if a > math.MaxUint64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Sub returns a-b, failing when b exceeds a.
func (a Satoshi) Sub(b Satoshi) (Satoshi, error) {
	if b > a {
		return 0, fmt.Errorf("subtracting %d from %d: %w", b, a, ErrOverflow)
	}
	return a - b, nil
}

// Mul returns a*b, failing instead of wrapping.
func (a Satoshi) Mul(b Satoshi) (Satoshi, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a > math.MaxUint64/b {
		return 0, ErrOverflow
	}
	return a * b, nil
}

// Coins returns the value expressed in whole coins for display.
func (a Satoshi) Coins() float64 {
	return float64(a) / float64(SatoshisPerCoin)
}

// String formats the amount as a fixed point coin value.
func (a Satoshi) String() string {
	return fmt.Sprintf("%d.%08d", a/SatoshisPerCoin, a%SatoshisPerCoin)
}

// Sum adds a series of amounts with overflow checking on every step.
func Sum(values ...Satoshi) (Satoshi, error) {
	var total Satoshi
	for _, v := range values {
		var err error
		if total, err = total.Add(v); err != nil {
			return 0, err
		}
	}
	return total, nil
}
