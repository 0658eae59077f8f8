package billing

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var amountPrinter = message.NewPrinter(language.AmericanEnglish)

// FormatAmount renders a minor-unit amount as a grouped two-decimal string, e.g. 123456 -> "1,234.56".
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return sign + amountPrinter.Sprintf("%d", minor/100) + fmt.Sprintf(".%02d", minor%100)
}

// MajorUnits renders a minor-unit amount as an ungrouped decimal, e.g. 2500 -> "25.00".
func MajorUnits(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// AddCurrencySymbol prefixes a formatted amount with the dollar sign.
func AddCurrencySymbol(amount string) string {
	if strings.HasPrefix(amount, "-") {
		return "-$" + amount[1:]
	}
	return "$" + amount
}
