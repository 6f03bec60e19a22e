package util

import "strings"

const cpfDigits = 11

// NormalizeIdentifier reduces a CPF/CNPJ however it was printed to its
// digit-only canonical key. Up to 11 digits is treated as a CPF and
// left-padded with zeros; anything longer (CNPJ) is kept as-is. Idempotent.
func NormalizeIdentifier(input string) string {
	var b strings.Builder
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	if len(digits) <= cpfDigits {
		return strings.Repeat("0", cpfDigits-len(digits)) + digits
	}
	return digits
}
