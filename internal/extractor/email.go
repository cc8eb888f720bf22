package extractor

import (
	"regexp"
	"strings"

	"github.com/tenderflow/docpipe/constants"
)

// EmailExtractor handles portal confirmation emails: submission receipts,
// registration confirmations, award notices forwarded into the system.
type EmailExtractor struct{}

func NewEmailExtractor() *EmailExtractor { return &EmailExtractor{} }

func (e *EmailExtractor) Type() string    { return "portal-email" }
func (e *EmailExtractor) Version() string { return "1.0.1" }

func (e *EmailExtractor) SupportedMimeTypes() []string {
	return []string{constants.MimeEmail, constants.MimeHTML, constants.MimeText}
}

var (
	reConfirmationNo = regexp.MustCompile(`(?i)\bconfirmation\s*(?:no\.?|number|code)?\s*:?\s*#?\s*([A-Za-z0-9][A-Za-z0-9\-]*)`)
	reSubmissionRef  = regexp.MustCompile(`(?i)\bsubmission\s*(?:id|ref(?:erence)?)\s*:?\s*([A-Za-z0-9][A-Za-z0-9\-]*)`)
	rePortalDomain   = regexp.MustCompile(`(?i)\b([a-z0-9-]+(?:\.[a-z0-9-]+)+\.(?:kz|gov|com|org))\b`)
)

func (e *EmailExtractor) CanHandle(doc Context) bool {
	if len(doc.Headers) > 0 {
		if _, ok := doc.Headers["From"]; ok {
			return true
		}
	}
	t := strings.ToLower(doc.Text)
	return strings.Contains(t, "confirmation") || strings.Contains(t, "your submission")
}

func (e *EmailExtractor) Extract(doc Context) Result {
	data := make(map[string]any)
	conf := float32(0.25)

	if from, ok := doc.Headers["From"]; ok && from != "" {
		data["sender"] = from
		conf += 0.1
		if m := rePortalDomain.FindStringSubmatch(from); m != nil {
			data["portal"] = strings.ToLower(m[1])
			conf += 0.1
		}
	}
	if subj, ok := doc.Headers["Subject"]; ok && subj != "" {
		data["subject"] = subj
		conf += 0.05
	}
	if m := reConfirmationNo.FindStringSubmatch(doc.Text); m != nil {
		data["confirmationNumber"] = m[1]
		conf += 0.25
	}
	if m := reSubmissionRef.FindStringSubmatch(doc.Text); m != nil {
		data["submissionRef"] = m[1]
		conf += 0.15
	}
	if d := detectDate(doc.Text); d != "" {
		data["date"] = d
		conf += 0.05
	}

	if len(data) == 0 {
		return Result{Success: false, Confidence: 0}
	}
	return Result{Success: true, Confidence: ClampConfidence(conf), Data: data}
}
