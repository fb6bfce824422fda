// Package validation содержит функции валидации входных данных.
package validation

import "strings"

const (
	promoCodeMinLen = 3
	promoCodeMaxLen = 64
)

// NormalizePromoCode приводит промокод к каноническому виду:
// пробелы по краям отбрасываются, буквы переводятся в верхний регистр.
func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidPromoCode проверяет, что нормализованный промокод состоит
// из допустимых символов и имеет разумную длину.
func IsValidPromoCode(code string) bool {
	if len(code) < promoCodeMinLen || len(code) > promoCodeMaxLen {
		return false
	}

	for _, ch := range code {
		switch {
		case ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
		case ch == '-' || ch == '_':
		default:
			return false
		}
	}

	return true
}
