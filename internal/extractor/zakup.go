package extractor

import (
	"regexp"
	"strings"

	"github.com/tenderflow/docpipe/constants"
)

// ZakupExtractor parses tender receipts from zakup.sk.kz, the Samruk-Kazyna
// procurement portal. Announcement numbers, lot numbers and tenge amounts
// follow the portal's published layout.
type ZakupExtractor struct{}

func NewZakupExtractor() *ZakupExtractor { return &ZakupExtractor{} }

func (e *ZakupExtractor) Type() string    { return "zakup-sk-kz" }
func (e *ZakupExtractor) Version() string { return "2.1.0" }

func (e *ZakupExtractor) SupportedMimeTypes() []string {
	return []string{constants.MimePDF, constants.MimeJPEG, constants.MimePNG, constants.MimeText, constants.MimeHTML}
}

var (
	reZakupAnnouncement = regexp.MustCompile(`(?i)(?:announcement|объявлени[ея])\s*(?:no\.?|№)?\s*:?\s*(\d{5,})`)
	reZakupLot          = regexp.MustCompile(`(?i)(?:lot|лот)\s*(?:no\.?|№)?\s*:?\s*(\d+(?:-\d+)?)`)
	reTengeAmount       = regexp.MustCompile(`([0-9][0-9 \x{00a0},.]*[0-9]|[0-9])\s*(?:₸|KZT|тенге)`)
	reDeadline          = regexp.MustCompile(`(?i)(?:deadline|закрыти[ея]|срок)[^\d]{0,20}(\d{2}\.\d{2}\.20\d{2}|\d{4}-\d{2}-\d{2})`)
)

func (e *ZakupExtractor) CanHandle(doc Context) bool {
	t := strings.ToLower(doc.Text + " " + doc.Filename)
	return strings.Contains(t, "zakup.sk.kz") || strings.Contains(t, "samruk") ||
		strings.Contains(t, "самрук") || reZakupAnnouncement.MatchString(doc.Text)
}

func (e *ZakupExtractor) Extract(doc Context) Result {
	data := map[string]any{"portal": "zakup.sk.kz"}
	conf := float32(0.35)

	if m := reZakupAnnouncement.FindStringSubmatch(doc.Text); m != nil {
		data["announcementNumber"] = m[1]
		conf += 0.25
	}
	if m := reZakupLot.FindStringSubmatch(doc.Text); m != nil {
		data["lotNumber"] = m[1]
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
		// Nothing beyond the portal tag: treat as a miss for this family.
		return Result{Success: false, Confidence: 0}
	}
	return Result{Success: true, Confidence: ClampConfidence(conf), Data: data}
}
