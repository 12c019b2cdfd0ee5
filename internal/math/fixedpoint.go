package math

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const (
	// PricePrecision is the number of fractional digits of every oracle price.
	PricePrecision uint8 = 8

	// UnitPrecision is the number of fractional digits of the unit of account (USD).
	UnitPrecision uint8 = 8

	// MaxDecimals is the largest asset precision whose scale fits in 256 bits.
	MaxDecimals uint8 = 77
)

var (
	// ErrOverflow is returned instead of wrapping on any 256-bit overflow.
	ErrOverflow = errors.New("fixed-point overflow")

	// ErrDecimalsOutOfRange is returned for precisions above MaxDecimals.
	ErrDecimalsOutOfRange = errors.New("decimals out of range")
)

var pow10Table [MaxDecimals + 1]*uint256.Int

func init() {
	ten := uint256.NewInt(10)
	pow10Table[0] = uint256.NewInt(1)
	for i := 1; i <= int(MaxDecimals); i++ {
		pow10Table[i] = new(uint256.Int).Mul(pow10Table[i-1], ten)
	}
}

// Pow10 returns a fresh copy of 10^n.
func Pow10(n uint8) (*uint256.Int, error) {
	if n > MaxDecimals {
		return nil, fmt.Errorf("10^%d: %w", n, ErrDecimalsOutOfRange)
	}
	return new(uint256.Int).Set(pow10Table[n]), nil
}

// NormalizeToUnit converts an amount in an asset's smallest native unit into
// the unit of account, given a price with PricePrecision fractional digits.
//
//	raw = amount * price
//	d > 8:  value = raw / 10^(d-8) / 10^8
//	d <= 8: value = raw * 10^(8-d) / 10^8
//
// All multiplications happen before the final division and are
// overflow-checked. Division truncates, so the result is biased downward.
func NormalizeToUnit(amount, price *uint256.Int, decimals uint8) (*uint256.Int, error) {
	if decimals > MaxDecimals {
		return nil, fmt.Errorf("asset decimals %d: %w", decimals, ErrDecimalsOutOfRange)
	}

	raw, overflow := new(uint256.Int).MulOverflow(amount, price)
	if overflow {
		return nil, fmt.Errorf("amount %s * price %s: %w", amount.Dec(), price.Dec(), ErrOverflow)
	}

	if decimals > PricePrecision {
		raw.Div(raw, pow10Table[decimals-PricePrecision])
	} else if decimals < PricePrecision {
		if _, overflow := raw.MulOverflow(raw, pow10Table[PricePrecision-decimals]); overflow {
			return nil, fmt.Errorf("scale amount %s to %d decimals: %w", amount.Dec(), PricePrecision, ErrOverflow)
		}
	}

	return raw.Div(raw, pow10Table[PricePrecision]), nil
}

// AddChecked returns a + b, or ErrOverflow.
func AddChecked(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("%s + %s: %w", a.Dec(), b.Dec(), ErrOverflow)
	}
	return sum, nil
}

// SubChecked returns a - b and false when b > a.
func SubChecked(a, b *uint256.Int) (*uint256.Int, bool) {
	diff, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, false
	}
	return diff, true
}

// ParseUnits parses a non-negative decimal string such as "10000" or
// "2000.5" into a fixed-point integer with the given precision. Inputs with
// more fractional digits than the precision are rejected, not rounded.
func ParseUnits(s string, decimals uint8) (*uint256.Int, error) {
	if decimals > MaxDecimals {
		return nil, fmt.Errorf("parse %q: %w", s, ErrDecimalsOutOfRange)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("parse %q: negative value", s)
	}

	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("parse %q: more than %d fractional digits", s, decimals)
	}

	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("parse %q: %w", s, ErrOverflow)
	}
	return v, nil
}

// MustParseUnits is ParseUnits for constants; it panics on error.
func MustParseUnits(s string, decimals uint8) *uint256.Int {
	v, err := ParseUnits(s, decimals)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatUnits renders a fixed-point integer with exactly `decimals`
// fractional digits, e.g. 1e12 at 8 decimals -> "10000.00000000".
func FormatUnits(v *uint256.Int, decimals uint8) string {
	if v == nil {
		v = new(uint256.Int)
	}
	return decimal.NewFromBigInt(v.ToBig(), -int32(decimals)).StringFixed(int32(decimals))
}
