package units

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Decimals is the fixed-point scale of the token: 1 token = 10^18 minor units.
const Decimals = 18

var (
	ErrEmptyAmount    = errors.New("amount is required")
	ErrInvalidAmount  = errors.New("amount is not a decimal number")
	ErrTooManyDecimal = fmt.Errorf("amount has more than %d fractional digits", Decimals)
)

// Amount is an exact, integral quantity of minor units. It is stored as
// numeric(78,0) on postgres and as text elsewhere so no driver rounds it.
type Amount struct {
	decimal.Decimal
}

func Zero() Amount {
	return Amount{Decimal: decimal.Zero}
}

// ParseTokens converts a whole-token decimal string ("10", "0.5") into
// minor units. Scientific notation is rejected.
func ParseTokens(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, ErrEmptyAmount
	}
	if strings.ContainsAny(s, "eE") {
		return Amount{}, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	minor := d.Shift(Decimals)
	if !minor.IsInteger() {
		return Amount{}, ErrTooManyDecimal
	}

	return Amount{Decimal: minor.Truncate(0)}, nil
}

func FromBig(b *big.Int) Amount {
	if b == nil {
		return Zero()
	}
	return Amount{Decimal: decimal.NewFromBigInt(b, 0)}
}

func FromInt(n int64) Amount {
	return Amount{Decimal: decimal.NewFromInt(n)}
}

func (a Amount) Big() *big.Int {
	return a.Decimal.BigInt()
}

func (a Amount) Tokens() string {
	return a.Decimal.Shift(-Decimals).String()
}

func (a Amount) Positive() bool {
	return a.Decimal.IsPositive()
}

func (a Amount) Cmp(b Amount) int {
	return a.Decimal.Cmp(b.Decimal)
}

func (a Amount) Add(b Amount) Amount {
	return Amount{Decimal: a.Decimal.Add(b.Decimal)}
}

func (a Amount) Sub(b Amount) Amount {
	return Amount{Decimal: a.Decimal.Sub(b.Decimal)}
}

func (a Amount) Value() (driver.Value, error) {
	return a.Decimal.String(), nil
}

func (a *Amount) Scan(v interface{}) error {
	return a.Decimal.Scan(v)
}

func (Amount) GormDataType() string {
	return "amount"
}

func (Amount) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "numeric(78,0)"
	}
	return "text"
}
