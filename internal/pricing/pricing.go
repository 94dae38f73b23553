// Package pricing computes the token price of the next sale round.
package pricing

import (
	"cosmossdk.io/math"
)

// Func maps the previous sale price and the last trade round's volume to the next sale price.
// Implementations must be pure and must never return less than prevPrice for a zero volume.
type Func func(prevPrice, tradeVolume math.Int) math.Int

// DefaultGrowthBps and DefaultIncrement give next = prev * 1.03 + 0.000004 ether
const DefaultGrowthBps = 300

var DefaultIncrement = math.NewInt(4_000_000_000_000)

// Default is the pricing function used unless the engine is configured otherwise
var Default = Linear(DefaultGrowthBps, DefaultIncrement)

// Linear grows the previous price by growthBps basis points plus a fixed increment.
// Volume is ignored.
func Linear(growthBps int64, increment math.Int) Func {
	return func(prevPrice, _ math.Int) math.Int {
		return prevPrice.MulRaw(10_000 + growthBps).QuoRaw(10_000).Add(increment)
	}
}

// VolumeWeighted adds bpsPerUnit basis points of growth for every unit of volume on top of base,
// capped at maxBps.
func VolumeWeighted(base Func, unit math.Int, bpsPerUnit, maxBps int64) Func {
	return func(prevPrice, tradeVolume math.Int) math.Int {
		next := base(prevPrice, tradeVolume)
		if !unit.IsPositive() || !tradeVolume.IsPositive() {
			return next
		}
		bonus, err := tradeVolume.Quo(unit).SafeMul(math.NewInt(bpsPerUnit))
		if err != nil || bonus.GT(math.NewInt(maxBps)) {
			bonus = math.NewInt(maxBps)
		}
		extra, err := prevPrice.SafeMul(bonus)
		if err != nil {
			return next
		}
		return next.Add(extra.QuoRaw(10_000))
	}
}
