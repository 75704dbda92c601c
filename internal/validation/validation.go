// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

// IsValidSerialNumber проверяет человекочитаемый номер заказа: непустая строка из цифр.
func IsValidSerialNumber(serial string) bool {
	if serial == "" {
		return false
	}
	for _, ch := range serial {
		if !unicode.IsDigit(ch) {
			return false
		}
	}
	return true
}

// IsValidIdempotencyKey проверяет клиентский ключ идемпотентности платежа:
// от 8 до 128 символов из букв, цифр, дефиса и подчёркивания.
func IsValidIdempotencyKey(key string) bool {
	if len(key) < 8 || len(key) > 128 {
		return false
	}
	for _, ch := range key {
		switch {
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
		case ch == '-' || ch == '_':
		default:
			return false
		}
	}
	return true
}
