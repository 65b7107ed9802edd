package models

import "testing"

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		amount   int64
		currency string
		want     string
	}{
		{50000, CurrencyVND, "50.000 ₫"},
		{1000000, CurrencyVND, "1.000.000 ₫"},
		{500, CurrencyVND, "500 ₫"},
		{0, CurrencyVND, "0 ₫"},
		{1999, CurrencyUSD, "$19.99"},
		{123456789, CurrencyUSD, "$1,234,567.89"},
		{205, CurrencyEUR, "€2.05"},
		{42, "XYZ", "42 XYZ"},
	}
	for _, tc := range cases {
		if got := FormatAmount(tc.amount, tc.currency); got != tc.want {
			t.Fatalf("FormatAmount(%d, %s) = %q, want %q", tc.amount, tc.currency, got, tc.want)
		}
	}
}

func TestValidCurrency(t *testing.T) {
	for _, code := range []string{CurrencyVND, CurrencyUSD, CurrencyEUR} {
		if !ValidCurrency(code) {
			t.Fatalf("%s should be valid", code)
		}
	}
	for _, code := range []string{"", "vnd", "GBP"} {
		if ValidCurrency(code) {
			t.Fatalf("%s should be invalid", code)
		}
	}
}
