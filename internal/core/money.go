// Package core provides the table data model and value formatting.
//
// This file formats numbers and monetary totals. Currency uses the Brazilian
// real convention: "R$ 1.234,56", with a leading minus for negatives.
package core

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const CurrencySymbol = "R$"

// FormatCurrency renders f with two decimals, "." thousands and "," decimals.
//
// Examples:
//
//	FormatCurrency(350)     -> "R$ 350,00"
//	FormatCurrency(1234.5)  -> "R$ 1.234,50"
//	FormatCurrency(-1)      -> "-R$ 1,00"
func FormatCurrency(f float64) string {
	d := safeDecimal(f).Round(2)
	neg := d.IsNegative()
	fixed := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(CurrencySymbol)
	b.WriteByte(' ')
	b.WriteString(groupThousands(intPart, '.'))
	b.WriteByte(',')
	b.WriteString(frac)
	return b.String()
}

// FormatNumber renders f rounded to two decimals without trailing zeros:
// 12.00 -> "12", 12.50 -> "12.5".
func FormatNumber(f float64) string {
	return safeDecimal(f).Round(2).String()
}

// Round2 rounds half away from zero to two decimal places.
func Round2(f float64) float64 {
	r, _ := safeDecimal(f).Round(2).Float64()
	return r
}

func safeDecimal(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

func groupThousands(digits string, sep byte) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(sep)
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
