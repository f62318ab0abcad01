package serving

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatPrice renders GBP with thousands separators and no decimals,
// e.g. 485000.4 -> "£485,000". Printers are not safe for concurrent use.
func FormatPrice(v float64) string {
	p := message.NewPrinter(language.BritishEnglish)
	if v < 0 {
		return "-£" + p.Sprintf("%.0f", math.Abs(v))
	}
	return "£" + p.Sprintf("%.0f", v)
}
