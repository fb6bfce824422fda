// Package money содержит преобразование денежных сумм между копейками и строками.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount возвращается при некорректном формате денежной суммы.
var ErrInvalidAmount = errors.New("invalid amount")

// Format переводит сумму в копейках в строку с двумя знаками после запятой.
func Format(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// Parse переводит строку вида "80.00" в сумму в копейках.
// Допускается не более двух знаков после запятой.
func Parse(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	shifted := d.Shift(2)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %q has more than two decimal places", ErrInvalidAmount, s)
	}

	return shifted.IntPart(), nil
}
