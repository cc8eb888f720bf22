package extractor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tenderflow/docpipe/constants"
)

// InvoiceExtractor is the generic invoice/receipt extractor: document-family
// agnostic, regex-driven over recognized text.
type InvoiceExtractor struct{}

func NewInvoiceExtractor() *InvoiceExtractor { return &InvoiceExtractor{} }

func (e *InvoiceExtractor) Type() string    { return "generic-invoice" }
func (e *InvoiceExtractor) Version() string { return "1.2.0" }

func (e *InvoiceExtractor) SupportedMimeTypes() []string {
	return []string{constants.MimePDF, constants.MimeJPEG, constants.MimePNG, constants.MimeTIFF, constants.MimeText}
}

var (
	reInvoiceNo = regexp.MustCompile(`(?i)\b(?:invoice|receipt)\s*(?:no\.?|number)?\s*#?\s*:?\s*([A-Za-z0-9][A-Za-z0-9\-/]*)`)
	reTotal     = regexp.MustCompile(`(?i)\b(?:total|amount due|grand total)\s*:?\s*([0-9][0-9 \x{00a0},.]*[0-9]|[0-9])`)
	reCurrency  = regexp.MustCompile(`\b(USD|EUR|GBP|KZT|RUB|CAD|AUD|INR|JPY)\b`)
	reISODate   = regexp.MustCompile(`\b(20\d{2}-\d{2}-\d{2})\b`)
	reEUDate    = regexp.MustCompile(`\b(\d{2}[./]\d{2}[./]20\d{2})\b`)
)

var currencySymbols = map[string]string{"$": "USD", "€": "EUR", "£": "GBP", "₸": "KZT", "₽": "RUB"}

func (e *InvoiceExtractor) CanHandle(doc Context) bool {
	t := strings.ToLower(doc.Text)
	if t == "" {
		return false
	}
	return strings.Contains(t, "invoice") || strings.Contains(t, "receipt") ||
		(strings.Contains(t, "total") && reTotal.MatchString(doc.Text))
}

func (e *InvoiceExtractor) Extract(doc Context) Result {
	data := make(map[string]any)
	// Naive additive scoring, same shape as the OCR confidence heuristic:
	// each recognizable invoice artifact raises certainty.
	conf := float32(0.3)

	if m := reInvoiceNo.FindStringSubmatch(doc.Text); m != nil {
		data["invoiceNumber"] = m[1]
		conf += 0.25
	}
	if m := reTotal.FindStringSubmatch(doc.Text); m != nil {
		if amount, ok := ParseAmount(m[1]); ok {
			data["amount"] = amount
			conf += 0.2
		}
	}
	if cur := detectCurrency(doc.Text); cur != "" {
		data["currency"] = cur
		conf += 0.1
	}
	if d := detectDate(doc.Text); d != "" {
		data["date"] = d
		conf += 0.1
	}

	if len(data) == 0 {
		return Result{Success: false, Confidence: 0}
	}
	return Result{Success: true, Confidence: ClampConfidence(conf), Data: data}
}

func detectCurrency(text string) string {
	if m := reCurrency.FindStringSubmatch(strings.ToUpper(text)); m != nil {
		return m[1]
	}
	for sym, code := range currencySymbols {
		if strings.Contains(text, sym) {
			return code
		}
	}
	return ""
}

func detectDate(text string) string {
	if m := reISODate.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := reEUDate.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// ParseAmount normalizes a localized money string ("1 234,56", "1,234.56",
// "450.00") into a float.
func ParseAmount(s string) (float64, bool) {
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == ' ' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))

	lastComma := strings.LastIndexByte(s, ',')
	lastDot := strings.LastIndexByte(s, '.')
	switch {
	case lastComma > lastDot:
		// comma is the decimal separator
		s = strings.ReplaceAll(s[:lastComma], ".", "") + "." + s[lastComma+1:]
		s = strings.ReplaceAll(s, ",", "")
	default:
		s = strings.ReplaceAll(s, ",", "")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
