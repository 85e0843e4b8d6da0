// Package validation содержит функции валидации входных данных.
package validation

import "strings"

func isHex(s string) bool {
	for _, ch := range s {
		switch {
		case ch >= '0' && ch <= '9':
		case ch >= 'a' && ch <= 'f':
		case ch >= 'A' && ch <= 'F':
		default:
			return false
		}
	}
	return true
}

// IsValidTxHash проверяет формат хэша транзакции: префикс 0x и 64 шестнадцатеричных символа.
func IsValidTxHash(hash string) bool {
	if len(hash) != 66 {
		return false
	}
	if !strings.HasPrefix(hash, "0x") {
		return false
	}
	return isHex(hash[2:])
}

// IsValidAddress проверяет формат адреса кошелька: префикс 0x и 40 шестнадцатеричных символов.
func IsValidAddress(addr string) bool {
	if len(addr) != 42 {
		return false
	}
	if !strings.HasPrefix(addr, "0x") {
		return false
	}
	return isHex(addr[2:])
}

// NormalizeHex приводит хэш или адрес к нижнему регистру для использования в качестве ключа.
func NormalizeHex(s string) string {
	return strings.ToLower(s)
}
