package amount

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of wei digits in one ether.
const EtherDecimals = 18

var (
	ErrInvalid  = errors.New("amount: invalid")
	ErrOverflow = errors.New("amount: overflow")
)

// Amount is a non-negative integer count of wei. The zero value is 0.
// Arithmetic is exact; there is no floating point anywhere in this package.
type Amount struct{ v uint256.Int }

func Zero() Amount { return Amount{} }

func FromUint64(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// FromWei parses a base-10 integer string of wei.
func FromWei(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty", ErrInvalid)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q: %v", ErrInvalid, s, err)
	}
	return Amount{v: *v}, nil
}

// FromEther parses an ether-denominated decimal ("1.5") into wei. More than 18
// fractional digits cannot be represented and are rejected rather than rounded.
func FromEther(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	if d.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: negative %q", ErrInvalid, s)
	}
	if d.Exponent() < -EtherDecimals {
		// trailing zeros beyond 18 places are still exact
		if !d.Equal(d.Truncate(EtherDecimals)) {
			return Amount{}, fmt.Errorf("%w: more than %d decimals in %q", ErrInvalid, EtherDecimals, s)
		}
	}
	return FromBig(d.Shift(EtherDecimals).BigInt())
}

func FromBig(b *big.Int) (Amount, error) {
	if b == nil {
		return Amount{}, fmt.Errorf("%w: nil", ErrInvalid)
	}
	if b.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: negative", ErrInvalid)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return Amount{}, ErrOverflow
	}
	return Amount{v: *v}, nil
}

func MustEther(s string) Amount {
	a, err := FromEther(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) Big() *big.Int { return a.v.ToBig() }

func (a Amount) IsZero() bool { return a.v.IsZero() }

func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

func (a Amount) Equal(b Amount) bool { return a.v.Eq(&b.v) }

// Add returns a+b, failing instead of wrapping on overflow.
func (a Amount) Add(b Amount) (Amount, error) {
	var out Amount
	if _, overflow := out.v.AddOverflow(&a.v, &b.v); overflow {
		return Amount{}, ErrOverflow
	}
	return out, nil
}

// String is the wei value in base 10.
func (a Amount) String() string { return a.v.Dec() }

// Ether renders the exact ether value without trailing zeros.
func (a Amount) Ether() string {
	return decimal.NewFromBigInt(a.Big(), -EtherDecimals).String()
}

// JSON carries wei as a string so no client parses it into a float.
func (a Amount) MarshalJSON() ([]byte, error) { return json.Marshal(a.String()) }

func (a *Amount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: expected string of wei", ErrInvalid)
	}
	v, err := FromWei(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Value stores wei as text; DECIMAL(78,0) and TEXT columns both accept it.
func (a Amount) Value() (driver.Value, error) { return a.String(), nil }

func (a *Amount) Scan(src any) error {
	switch t := src.(type) {
	case nil:
		*a = Amount{}
		return nil
	case string:
		v, err := FromWei(t)
		if err != nil {
			return err
		}
		*a = v
		return nil
	case []byte:
		v, err := FromWei(string(t))
		if err != nil {
			return err
		}
		*a = v
		return nil
	case int64:
		if t < 0 {
			return fmt.Errorf("%w: negative", ErrInvalid)
		}
		*a = FromUint64(uint64(t))
		return nil
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrInvalid, src)
	}
}
