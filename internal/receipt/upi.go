package receipt

import (
	"net/url"
	"strings"
)

// PaymentURI builds the UPI deep link encoded in the receipt QR code
func PaymentURI(order *Order) string {
	params := []struct{ key, value string }{
		{"pa", order.Outlet.UPIID},
		{"pn", order.Outlet.Name},
		{"am", FormatMoney(order.Totals.GrandTotal)},
		{"cu", "INR"},
		{"tn", "Order " + order.Number},
	}

	var b strings.Builder
	b.WriteString("upi://pay?")
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.key)
		b.WriteByte('=')
		b.WriteString(escapeParam(p.value))
	}
	return b.String()
}

// escapeParam percent-encodes a query value, keeping '@' readable in VPAs
func escapeParam(value string) string {
	escaped := url.QueryEscape(value)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	return strings.ReplaceAll(escaped, "%40", "@")
}
