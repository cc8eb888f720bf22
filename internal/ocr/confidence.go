package ocr

import (
	"regexp"
	"strings"
)

var (
	reDate   = regexp.MustCompile(`\b(20\d{2}[-.]\d{2}[-.]\d{2}|\d{2}\.\d{2}\.20\d{2})\b`)
	reCurr   = regexp.MustCompile(`\b(usd|eur|gbp|kzt|rub|тенге)\b|[$£€₸]`)
	reAmount = regexp.MustCompile(`\b\d{1,3}([ ,]\d{3})*(\.\d{2})\b|\b\d+[.,]\d{2}\b`)
	reRefNo  = regexp.MustCompile(`(?i)\b(invoice|receipt|№|announcement|объявление)\b`)
)

// naive heuristic confidence based on decoded text characteristics
func heuristicConfidence(txt string) float32 {
	if txt == "" {
		return 0
	}
	// boost if we see common procurement-document artifacts
	// (date-ish, currency-ish, amount-ish, reference-ish). Each adds ~0.15.
	txtL := strings.ToLower(txt)
	score := float32(0.2) // base
	if reDate.MatchString(txtL) {
		score += 0.2
	}
	if reCurr.MatchString(txtL) {
		score += 0.15
	}
	if reAmount.MatchString(txtL) {
		score += 0.15
	}
	if reRefNo.MatchString(txtL) {
		score += 0.15
	}
	// penalize garbage-heavy output
	if garbageRatio(txt) > 0.3 {
		score -= 0.2
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func garbageRatio(txt string) float32 {
	if txt == "" {
		return 0
	}
	var garbage int
	for _, r := range txt {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == ' ' || r == '\n' || r == '\t':
		case r >= 0x0400 && r <= 0x04FF: // Cyrillic
		case strings.ContainsRune(".,:;-#№$€£₸%()/", r):
		default:
			garbage++
		}
	}
	return float32(garbage) / float32(len([]rune(txt)))
}

// normalize collapses whitespace artifacts the engine leaves behind.
func normalize(txt string) string {
	txt = strings.ReplaceAll(txt, "\r\n", "\n")
	txt = strings.ReplaceAll(txt, " ", " ")
	lines := strings.Split(txt, "\n")
	out := lines[:0]
	for _, ln := range lines {
		out = append(out, strings.TrimRight(ln, " \t"))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
