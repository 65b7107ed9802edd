package models

import (
	"fmt"
	"strconv"
)

// FormatAmount renders a minor-unit amount as the display string the overlay
// shows. VND has no minor units and uses dot thousands separators; USD/EUR
// carry two decimals.
func FormatAmount(amount int64, currency string) string {
	switch currency {
	case CurrencyVND:
		return groupThousands(amount, ".") + " ₫"
	case CurrencyUSD:
		return "$" + formatDecimal(amount)
	case CurrencyEUR:
		return "€" + formatDecimal(amount)
	default:
		return fmt.Sprintf("%d %s", amount, currency)
	}
}

func formatDecimal(minor int64) string {
	return groupThousands(minor/100, ",") + fmt.Sprintf(".%02d", minor%100)
}

func groupThousands(n int64, sep string) string {
	s := strconv.FormatInt(n, 10)
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}

	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, sep...)
		}
		out = append(out, c)
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
