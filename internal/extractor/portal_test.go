package extractor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tenderflow/docpipe/constants"
)

func TestZakupExtractorTenderReceipt(t *testing.T) {
	e := NewZakupExtractor()
	doc := Context{
		Text:     "zakup.sk.kz Объявление № 1234567 Лот № 3 Сумма: 2 500 000 ₸ Срок закрытия: 15.09.2026",
		MimeType: constants.MimePDF,
	}

	require.True(t, e.CanHandle(doc))
	res := e.Extract(doc)
	require.True(t, res.Success)
	require.Equal(t, "zakup.sk.kz", res.Data["portal"])
	require.Equal(t, "1234567", res.Data["announcementNumber"])
	require.Equal(t, "3", res.Data["lotNumber"])
	require.Equal(t, 2500000.0, res.Data["amount"])
	require.Equal(t, "KZT", res.Data["currency"])
	require.Equal(t, "15.09.2026", res.Data["deadline"])
}

func TestZakupExtractorPortalTagAloneIsAMiss(t *testing.T) {
	e := NewZakupExtractor()
	res := e.Extract(Context{Text: "visit samruk portal for details"})
	require.False(t, res.Success)
	require.Zero(t, res.Confidence)
}

func TestGoszakupExtractorAnnouncement(t *testing.T) {
	e := NewGoszakupExtractor()
	doc := Context{
		Text:     "goszakup.gov.kz Объявление № 12345678-1 БИН: 123456789012 Сумма 980 000 тенге",
		MimeType: constants.MimeText,
	}

	require.True(t, e.CanHandle(doc))
	res := e.Extract(doc)
	require.True(t, res.Success)
	require.Equal(t, "goszakup.gov.kz", res.Data["portal"])
	require.Equal(t, "12345678-1", res.Data["announcementNumber"])
	require.Equal(t, "123456789012", res.Data["supplierBIN"])
	require.Equal(t, 980000.0, res.Data["amount"])
	require.Equal(t, "KZT", res.Data["currency"])
}

func TestEmailExtractorConfirmation(t *testing.T) {
	e := NewEmailExtractor()
	doc := Context{
		Text:     "Thank you. Confirmation number: CNF-2026-042 Submission ref: SUB-9917",
		MimeType: constants.MimeEmail,
		Headers: map[string]string{
			"From":    "noreply@zakup.sk.kz",
			"Subject": "Submission received",
		},
	}

	require.True(t, e.CanHandle(doc))
	res := e.Extract(doc)
	require.True(t, res.Success)
	require.Equal(t, "CNF-2026-042", res.Data["confirmationNumber"])
	require.Equal(t, "SUB-9917", res.Data["submissionRef"])
	require.Equal(t, "zakup.sk.kz", res.Data["portal"])
	require.Equal(t, "Submission received", res.Data["subject"])
}

func TestRegistryPicksPortalExtractorOverGeneric(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(NewInvoiceExtractor())
	r.Register(NewZakupExtractor())

	// Portal-specific artifacts everywhere: the portal parser is more
	// certain than the generic invoice one.
	doc := Context{
		Text:     "zakup.sk.kz Объявление № 7654321 Сумма: 300 000 ₸ total receipt",
		MimeType: constants.MimePDF,
	}
	res := r.SelectAndExtract(doc)
	require.True(t, res.Success)
	require.Equal(t, "zakup-sk-kz", res.ExtractorType)
}
