package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Guide totals are printed Brazilian-style: thousands with dots, decimal
// comma, optional R$ prefix glued to the number.
var currencyPattern = regexp.MustCompile(`^(?:R\$\s?)?\d{1,3}(?:\.\d{3})*,\d{2}$`)

func LooksLikeCurrency(token string) bool {
	return currencyPattern.MatchString(strings.TrimSpace(token))
}

func ParseAmount(token string) (decimal.Decimal, error) {
	s := strings.TrimSpace(token)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", token, err)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("parse amount %q: negative value", token)
	}
	return amount, nil
}
