package decimals

import (
	"math"

	"github.com/Cleverse/go-utilities/utils"
	"github.com/shopspring/decimal"
)

const (
	DefaultDivPrecision = 36

	// FloatPlaces is the number of places kept when a float64 result is brought back into decimal.
	FloatPlaces = 18
)

var (
	Hundred = decimal.NewFromInt(100)
	One     = decimal.NewFromInt(1)
)

func init() {
	decimal.DivisionPrecision = DefaultDivPrecision
}

// MustFromString convert string to decimal.Decimal. Panic if error
// string must be a valid number, not NaN, Inf or empty string.
func MustFromString(s string) decimal.Decimal {
	return utils.Must(decimal.NewFromString(s))
}

// Percent converts a percentage (e.g. 20 for 20%) into a fraction.
func Percent(p decimal.Decimal) decimal.Decimal {
	return p.Div(Hundred)
}

// AfterFee returns amount reduced by feePercent percent.
func AfterFee(amount, feePercent decimal.Decimal) decimal.Decimal {
	return amount.Mul(One.Sub(Percent(feePercent)))
}

// Log1p returns ln(1+x) rounded to FloatPlaces. Non finite results return zero.
func Log1p(x decimal.Decimal) decimal.Decimal {
	f := math.Log1p(x.InexactFloat64())
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f).Round(FloatPlaces)
}
