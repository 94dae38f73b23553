package models

import (
	"cosmossdk.io/math"
)

// Decimals is the number of fractional digits of the platform token
const Decimals = 18

// Scale is the number of base units in one whole token
var Scale = math.NewIntWithDecimal(1, Decimals)

// Tokens converts whole tokens into base units
func Tokens(n int64) math.Int {
	return math.NewInt(n).Mul(Scale)
}

// Cost returns the wei owed for amount base units at price wei per whole token, rounded down
func Cost(amount, price math.Int) (math.Int, error) {
	product, err := amount.SafeMul(price)
	if err != nil {
		return math.ZeroInt(), err
	}
	return product.Quo(Scale), nil
}

// TokensFor returns how many base units value wei buys at price wei per whole token
func TokensFor(value, price math.Int) (math.Int, error) {
	scaled, err := value.SafeMul(Scale)
	if err != nil {
		return math.ZeroInt(), err
	}
	return scaled.SafeQuo(price)
}
