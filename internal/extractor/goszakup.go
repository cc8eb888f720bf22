package extractor

import (
	"regexp"
	"strings"

	"github.com/tenderflow/docpipe/constants"
)

// GoszakupExtractor parses documents from goszakup.gov.kz, the state
// procurement portal. Announcement numbers there carry a -1 suffix segment
// and documents are bilingual (Kazakh/Russian).
type GoszakupExtractor struct{}

func NewGoszakupExtractor() *GoszakupExtractor { return &GoszakupExtractor{} }

func (e *GoszakupExtractor) Type() string    { return "goszakup-gov-kz" }
func (e *GoszakupExtractor) Version() string { return "1.4.0" }

func (e *GoszakupExtractor) SupportedMimeTypes() []string {
	return []string{constants.MimePDF, constants.MimeJPEG, constants.MimePNG, constants.MimeText, constants.MimeHTML}
}

var (
	reGoszakupAnno = regexp.MustCompile(`(?i)(?:объявлени[ея]|хабарландыру|announcement)\s*(?:no\.?|№)?\s*:?\s*(\d+-\d+)`)
	reBIN          = regexp.MustCompile(`(?i)(?:bin|бин|бсн)\s*:?\s*(\d{12})`)
)

func (e *GoszakupExtractor) CanHandle(doc Context) bool {
	t := strings.ToLower(doc.Text + " " + doc.Filename)
	return strings.Contains(t, "goszakup.gov.kz") || strings.Contains(t, "госзакуп") ||
		reGoszakupAnno.MatchString(doc.Text)
}

func (e *GoszakupExtractor) Extract(doc Context) Result {
	data := map[string]any{"portal": "goszakup.gov.kz"}
	conf := float32(0.35)

	if m := reGoszakupAnno.FindStringSubmatch(doc.Text); m != nil {
		data["announcementNumber"] = m[1]
		conf += 0.25
	}
	if m := reBIN.FindStringSubmatch(doc.Text); m != nil {
		data["supplierBIN"] = m[1]
		conf += 0.1
	}
	if m := reTengeAmount.FindStringSubmatch(doc.Text); m != nil {
		if amount, ok := ParseAmount(m[1]); ok {
			data["amount"] = amount
			data["currency"] = "KZT"
			conf += 0.15
		}
	}
	if m := reDeadline.FindStringSubmatch(doc.Text); m != nil {
		data["deadline"] = m[1]
		conf += 0.1
	}

	if len(data) == 1 {
		return Result{Success: false, Confidence: 0}
	}
	return Result{Success: true, Confidence: ClampConfidence(conf), Data: data}
}
