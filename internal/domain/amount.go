package domain

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// MaxAmountBits is the width of every on-the-wire amount (prices, deposits,
// refunds). Values are unsigned 128-bit integers encoded as decimal strings.
const MaxAmountBits = 128

// Amount is an unsigned 128-bit quantity in the smallest denomination of a
// currency. The zero value is zero. Amounts are immutable: every arithmetic
// helper returns a new value.
type Amount struct {
	v uint256.Int
}

// NewAmount returns an Amount holding n.
func NewAmount(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// ParseAmount parses a base-10 string. It rejects signs, empty input and
// values wider than 128 bits.
func ParseAmount(s string) (Amount, error) {
	return parseDecimal(s, MaxAmountBits)
}

// ParseStoredAmount parses an accumulated total read back from storage.
// Sums of 128-bit deposits may exceed 128 bits, so only the 256-bit
// representation limits it.
func ParseStoredAmount(s string) (Amount, error) {
	return parseDecimal(s, 256)
}

func parseDecimal(s string, maxBits int) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("amount: empty string")
	}
	if s[0] == '+' || s[0] == '-' {
		return Amount{}, fmt.Errorf("amount: %q must be an unsigned integer", s)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("amount: parse %q: %w", s, err)
	}
	if v.BitLen() > maxBits {
		return Amount{}, fmt.Errorf("amount: %q exceeds %d bits", s, maxBits)
	}
	return Amount{v: *v}, nil
}

// MustParseAmount is ParseAmount for constants and tests.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the base-10 representation.
func (a Amount) String() string { return a.v.Dec() }

// IsZero reports whether a is zero.
func (a Amount) IsZero() bool { return a.v.IsZero() }

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

// Add returns a+b. Overflow beyond 256 bits cannot occur for two 128-bit
// operands.
func (a Amount) Add(b Amount) Amount {
	var out Amount
	out.v.Add(&a.v, &b.v)
	return out
}

// SaturatingSub returns a-b, or zero when b > a.
func (a Amount) SaturatingSub(b Amount) Amount {
	if a.v.Lt(&b.v) {
		return Amount{}
	}
	var out Amount
	out.v.Sub(&a.v, &b.v)
	return out
}

// Mul returns a*n.
func (a Amount) Mul(n uint64) Amount {
	var out Amount
	out.v.Mul(&a.v, uint256.NewInt(n))
	return out
}

// Units returns how many whole multiples of unit fit in a. A zero unit
// yields zero.
func (a Amount) Units(unit Amount) uint64 {
	if unit.IsZero() {
		return 0
	}
	var q uint256.Int
	q.Div(&a.v, &unit.v)
	if !q.IsUint64() {
		return ^uint64(0)
	}
	return q.Uint64()
}

// MarshalText encodes the amount as a decimal string, so JSON carries it as
// a quoted string.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a decimal string.
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
