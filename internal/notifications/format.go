package notifications

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// MoneyFormatter renders exact amounts for human-readable messages.
type MoneyFormatter struct {
	unit    currency.Unit
	printer *message.Printer
}

// NewMoneyFormatter builds a formatter for an ISO 4217 currency code.
func NewMoneyFormatter(code string, tag language.Tag) (MoneyFormatter, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return MoneyFormatter{}, fmt.Errorf("notifications: currency %q: %w", code, err)
	}
	return MoneyFormatter{unit: unit, printer: message.NewPrinter(tag)}, nil
}

// DefaultFormatter formats US dollars in English.
func DefaultFormatter() MoneyFormatter {
	return MoneyFormatter{unit: currency.USD, printer: message.NewPrinter(language.English)}
}

// Format renders amount as "USD 1,234.50" with locale digit grouping and
// the currency's standard scale. The amount is never converted to float.
func (f MoneyFormatter) Format(amount decimal.Decimal) string {
	if f.printer == nil {
		f = DefaultFormatter()
	}
	scale, _ := currency.Standard.Rounding(f.unit)
	fixed := amount.StringFixed(int32(scale))
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign = "-"
		fixed = fixed[1:]
	}
	whole, frac, _ := strings.Cut(fixed, ".")
	wholeInt := decimal.RequireFromString(whole).IntPart()
	out := f.printer.Sprintf("%d", wholeInt)
	if frac != "" {
		out += "." + frac
	}
	return fmt.Sprintf("%s %s%s", f.unit.String(), sign, out)
}
