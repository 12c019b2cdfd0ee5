package math_test

import (
	fpmath "CustodyVault/internal/math"
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func u(s string) *uint256.Int {
	return uint256.MustFromDecimal(s)
}

// ============================================================================
// Test: NormalizeToUnit
// ============================================================================

func TestNormalize_EighteenDecimals_CapBoundary(t *testing.T) {
	// 5 ETH at 2000.00000000 -> 10,000.00000000
	v, err := fpmath.NormalizeToUnit(u("5000000000000000000"), u("200000000000"), 18)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if want := u("1000000000000"); !v.Eq(want) {
		t.Errorf("got %s, want %s", v.Dec(), want.Dec())
	}
}

func TestNormalize_SixDecimals_Stablecoin(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		want   string
	}{
		{"dust", "100", "100"},                         // 0.0001 token -> 0.00010000
		{"hundred tokens", "100000000", "10000000000"}, // 100 tokens -> 100.00000000
		{"one unit more", "100000001", "10000000100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := fpmath.NormalizeToUnit(u(tt.amount), u("100000000"), 6)
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if v.Dec() != tt.want {
				t.Errorf("got %s, want %s", v.Dec(), tt.want)
			}
		})
	}
}

func TestNormalize_EightDecimals_Identity(t *testing.T) {
	// 1.5 units at 3.00000000 -> 4.50000000
	v, err := fpmath.NormalizeToUnit(u("150000000"), u("300000000"), 8)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if v.Dec() != "450000000" {
		t.Errorf("got %s, want 450000000", v.Dec())
	}
}

func TestNormalize_TruncatesTowardZero(t *testing.T) {
	// 1 wei at 2000.00000000 is worth 2e-15 USD -> truncates to 0
	v, err := fpmath.NormalizeToUnit(u("1"), u("200000000000"), 18)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !v.IsZero() {
		t.Errorf("expected 0, got %s", v.Dec())
	}
}

func TestNormalize_MultiplyOverflowRejected(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	_, err := fpmath.NormalizeToUnit(max, u("2"), 18)
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestNormalize_ScaleUpOverflowRejected(t *testing.T) {
	// amount*price fits, but scaling by 10^7 for a 1-decimal asset does not
	big := new(uint256.Int).Rsh(new(uint256.Int).SetAllOne(), 8)
	_, err := fpmath.NormalizeToUnit(big, u("1"), 1)
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestNormalize_DecimalsOutOfRange(t *testing.T) {
	_, err := fpmath.NormalizeToUnit(u("1"), u("1"), 78)
	if !errors.Is(err, fpmath.ErrDecimalsOutOfRange) {
		t.Fatalf("expected ErrDecimalsOutOfRange, got %v", err)
	}
}

func TestNormalize_MonotonicInAmountAndPrice(t *testing.T) {
	decimalsSet := []uint8{1, 6, 8, 9, 18, 24}
	amounts := []string{"0", "1", "999", "1000", "123456789", "5000000000000000000"}
	prices := []string{"1", "99999999", "100000000", "200000000000"}

	for _, d := range decimalsSet {
		for i := 1; i < len(amounts); i++ {
			for _, p := range prices {
				lo, err1 := fpmath.NormalizeToUnit(u(amounts[i-1]), u(p), d)
				hi, err2 := fpmath.NormalizeToUnit(u(amounts[i]), u(p), d)
				if err1 != nil || err2 != nil {
					t.Fatalf("normalize: %v %v", err1, err2)
				}
				if hi.Lt(lo) {
					t.Errorf("d=%d price=%s: value(%s)=%s < value(%s)=%s",
						d, p, amounts[i], hi.Dec(), amounts[i-1], lo.Dec())
				}
			}
		}
		for i := 1; i < len(prices); i++ {
			lo, _ := fpmath.NormalizeToUnit(u("123456789"), u(prices[i-1]), d)
			hi, _ := fpmath.NormalizeToUnit(u("123456789"), u(prices[i]), d)
			if hi.Lt(lo) {
				t.Errorf("d=%d: not monotonic in price between %s and %s", d, prices[i-1], prices[i])
			}
		}
	}
}

// ============================================================================
// Test: Checked arithmetic
// ============================================================================

func TestAddChecked_Overflow(t *testing.T) {
	if _, err := fpmath.AddChecked(new(uint256.Int).SetAllOne(), u("1")); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	sum, err := fpmath.AddChecked(u("2"), u("3"))
	if err != nil || sum.Uint64() != 5 {
		t.Errorf("2+3: got %v, %v", sum, err)
	}
}

func TestSubChecked_Underflow(t *testing.T) {
	if _, ok := fpmath.SubChecked(u("1"), u("2")); ok {
		t.Error("1-2 should underflow")
	}
	diff, ok := fpmath.SubChecked(u("5"), u("5"))
	if !ok || !diff.IsZero() {
		t.Errorf("5-5: got %v, %v", diff, ok)
	}
}

func TestPow10(t *testing.T) {
	p, err := fpmath.Pow10(8)
	if err != nil || p.Uint64() != 100_000_000 {
		t.Errorf("10^8: got %v, %v", p, err)
	}
	// Returned value is a copy
	p.SetUint64(1)
	again, _ := fpmath.Pow10(8)
	if again.Uint64() != 100_000_000 {
		t.Error("Pow10 leaked its table entry")
	}
}

// ============================================================================
// Test: ParseUnits / FormatUnits
// ============================================================================

func TestParseUnits(t *testing.T) {
	tests := []struct {
		in       string
		decimals uint8
		want     string
		wantErr  bool
	}{
		{"10000", 8, "1000000000000", false},
		{"100.5", 8, "10050000000", false},
		{"0.00000001", 8, "1", false},
		{"0.000000001", 8, "", true},
		{"-1", 8, "", true},
		{"abc", 8, "", true},
		{"5", 18, "5000000000000000000", false},
	}

	for _, tt := range tests {
		got, err := fpmath.ParseUnits(tt.in, tt.decimals)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseUnits(%q): expected error, got %s", tt.in, got.Dec())
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseUnits(%q): %v", tt.in, err)
			continue
		}
		if got.Dec() != tt.want {
			t.Errorf("ParseUnits(%q): got %s, want %s", tt.in, got.Dec(), tt.want)
		}
	}
}

func TestFormatUnits(t *testing.T) {
	if got := fpmath.FormatUnits(u("1000000000000"), 8); got != "10000.00000000" {
		t.Errorf("got %q", got)
	}
	if got := fpmath.FormatUnits(u("1"), 8); got != "0.00000001" {
		t.Errorf("got %q", got)
	}
	if got := fpmath.FormatUnits(nil, 2); got != "0.00" {
		t.Errorf("got %q", got)
	}
}
