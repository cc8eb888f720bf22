package constants

import "strings"

// Document formats for the format field on processed files.
const (
	PDF   = "PDF"
	IMAGE = "IMAGE"
	EMAIL = "EMAIL"
	TEXT  = "TEXT"
)

// Mime types the pipeline understands.
const (
	MimePDF   = "application/pdf"
	MimeJPEG  = "image/jpeg"
	MimePNG   = "image/png"
	MimeTIFF  = "image/tiff"
	MimeEmail = "message/rfc822"
	MimeText  = "text/plain"
	MimeHTML  = "text/html"
)

var mimeToFormat = map[string]string{
	MimePDF:   PDF,
	MimeJPEG:  IMAGE,
	MimePNG:   IMAGE,
	MimeTIFF:  IMAGE,
	MimeEmail: EMAIL,
	MimeText:  TEXT,
	MimeHTML:  TEXT,
}

// MapMimeToFormat returns the document format for a mime type, or "" if unsupported.
func MapMimeToFormat(mime string) string {
	return mimeToFormat[NormalizeMime(mime)]
}

// NormalizeMime lowercases a mime type and drops any parameters ("; charset=...").
func NormalizeMime(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return mime
}

// IsOCRable reports whether bytes of this mime type go through the OCR adapter.
func IsOCRable(mime string) bool {
	switch MapMimeToFormat(mime) {
	case PDF, IMAGE:
		return true
	}
	return false
}
