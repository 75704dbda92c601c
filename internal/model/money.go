package model

import "github.com/shopspring/decimal"

// Cents — денежная сумма в минимальных единицах валюты. Вся арифметика ядра
// целочисленная; float появляется только на границе JSON API.
type Cents int64

// CentsFromFloat переводит сумму из JSON в центы без потери точности.
// Прямое int64(f*100) теряет центы на двоичных дробях (например, 19.99).
func CentsFromFloat(f float64) Cents {
	return Cents(decimal.NewFromFloat(f).Mul(decimal.NewFromInt(100)).Round(0).IntPart())
}

// Float возвращает сумму в основных единицах валюты для ответа API.
func (c Cents) Float() float64 {
	return decimal.NewFromInt(int64(c)).Div(decimal.NewFromInt(100)).InexactFloat64()
}

// SplitEven делит сумму на n равных частей; остаток от деления целиком
// достаётся последней части, чтобы сумма частей сходилась до цента.
func (c Cents) SplitEven(n int) []Cents {
	if n <= 0 {
		return nil
	}
	base := int64(c) / int64(n)
	parts := make([]Cents, n)
	for i := range parts {
		parts[i] = Cents(base)
	}
	parts[n-1] += Cents(int64(c) - base*int64(n))
	return parts
}
