package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigOCRBinaryDefaults(t *testing.T) {
	cfg := LoadConfig()

	// The PDF rasterizer must default to pdftoppm; tesseract cannot read
	// PDFs and pdftotext does not produce images.
	require.Equal(t, "pdftoppm", cfg.OCR.Pdftoppm)
	require.Equal(t, "tesseract", cfg.OCR.Tesseract)
	require.Equal(t, "magick", cfg.OCR.ImageConverter)
}

func TestLoadConfigOCRBinaryOverrides(t *testing.T) {
	t.Setenv("OCR_PDFTOPPM", "/opt/poppler/bin/pdftoppm")
	t.Setenv("OCR_TESSERACT", "/usr/local/bin/tesseract")

	cfg := LoadConfig()
	require.Equal(t, "/opt/poppler/bin/pdftoppm", cfg.OCR.Pdftoppm)
	require.Equal(t, "/usr/local/bin/tesseract", cfg.OCR.Tesseract)
}

func TestLoadConfigAlertRouting(t *testing.T) {
	t.Setenv("ALERT_CHANNEL", "webhook")
	t.Setenv("ALERT_RECIPIENTS", "https://a.example/hook, https://b.example/hook")

	cfg := LoadConfig()
	require.Equal(t, "webhook", cfg.Alerts.DefaultChannel)
	require.Equal(t, []string{"https://a.example/hook", "https://b.example/hook"}, cfg.Alerts.DefaultRecipients)
}
