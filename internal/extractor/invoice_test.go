package extractor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tenderflow/docpipe/constants"
)

func TestInvoiceExtractorRecognizedInvoiceText(t *testing.T) {
	e := NewInvoiceExtractor()
	doc := Context{Text: "INVOICE #12345, Total: 450.00 USD", MimeType: constants.MimePDF}

	require.True(t, e.CanHandle(doc))
	res := e.Extract(doc)
	require.True(t, res.Success)
	require.Equal(t, "12345", res.Data["invoiceNumber"])
	require.Equal(t, 450.00, res.Data["amount"])
	require.Equal(t, "USD", res.Data["currency"])
	require.InDelta(t, 0.85, float64(res.Confidence), 1e-6)
}

func TestInvoiceExtractorDeclinesUnrelatedText(t *testing.T) {
	e := NewInvoiceExtractor()
	require.False(t, e.CanHandle(Context{Text: "meeting notes for thursday"}))
	require.False(t, e.CanHandle(Context{Text: ""}))
}

func TestInvoiceExtractorCurrencySymbols(t *testing.T) {
	e := NewInvoiceExtractor()
	res := e.Extract(Context{Text: "Receipt #A-77 Total: 1 234,56 ₸"})
	require.True(t, res.Success)
	require.Equal(t, "A-77", res.Data["invoiceNumber"])
	require.Equal(t, 1234.56, res.Data["amount"])
	require.Equal(t, "KZT", res.Data["currency"])
}

func TestInvoiceExtractorDateDetection(t *testing.T) {
	e := NewInvoiceExtractor()
	res := e.Extract(Context{Text: "Invoice #9 dated 2026-03-14, total: 10 EUR"})
	require.True(t, res.Success)
	require.Equal(t, "2026-03-14", res.Data["date"])

	res = e.Extract(Context{Text: "Invoice #9 от 14.03.2026, total: 10 EUR"})
	require.Equal(t, "14.03.2026", res.Data["date"])
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"450.00", 450.00},
		{"1,234.56", 1234.56},
		{"1 234,56", 1234.56},
		{"1.234,56", 1234.56},
		{"7", 7},
	}
	for _, c := range cases {
		got, ok := ParseAmount(c.in)
		require.True(t, ok, "input %q", c.in)
		require.Equal(t, c.want, got, "input %q", c.in)
	}

	_, ok := ParseAmount("not a number")
	require.False(t, ok)
}
