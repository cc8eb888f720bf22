package ocr

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tenderflow/docpipe/constants"
)

// fakeRunner records every command and answers from a handler; nothing is
// actually executed.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	run   func(name string, args []string) ([]byte, error)
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string{name}, args...))
	r.mu.Unlock()
	out, err := r.run(name, args)
	return out, nil, err
}

func (r *fakeRunner) call(i int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[i]
}

func newTestRecognizer(t *testing.T, cfg Config, runner Runner) *TesseractRecognizer {
	t.Helper()
	cfg.ArtifactCacheDir = t.TempDir()
	rec := NewTesseractRecognizer(cfg, nil)
	rec.runner = runner
	return rec
}

func TestRecognizeImageInvokesTesseract(t *testing.T) {
	runner := &fakeRunner{run: func(name string, args []string) ([]byte, error) {
		return []byte("INVOICE #12345\nTotal: 450.00 USD\n"), nil
	}}
	rec := newTestRecognizer(t, Config{}, runner)

	res, err := rec.Recognize(context.Background(), []byte("png bytes"), constants.MimePNG, Options{})
	require.NoError(t, err)
	require.Equal(t, "INVOICE #12345\nTotal: 450.00 USD", res.Text)
	require.Positive(t, res.Confidence)

	call := runner.call(0)
	require.Equal(t, "tesseract", call[0])
	require.Contains(t, call, "-l")
	require.Contains(t, call, "eng")
}

func TestRecognizePDFRasterizesThroughPdftoppm(t *testing.T) {
	runner := &fakeRunner{}
	runner.run = func(name string, args []string) ([]byte, error) {
		if name == "/opt/poppler/bin/pdftoppm" {
			// pdftoppm writes <out>-N.png page files.
			out := args[len(args)-1]
			require.NoError(t, os.WriteFile(out+"-1.png", []byte("page"), 0o644))
			return nil, nil
		}
		return []byte("Receipt #A-77\n"), nil
	}
	rec := newTestRecognizer(t, Config{Pdftoppm: "/opt/poppler/bin/pdftoppm", DPI: 200}, runner)

	res, err := rec.Recognize(context.Background(), []byte("%PDF-1.4"), constants.MimePDF, Options{})
	require.NoError(t, err)
	require.Equal(t, "Receipt #A-77", res.Text)

	raster := runner.call(0)
	require.Equal(t, "/opt/poppler/bin/pdftoppm", raster[0])
	require.Contains(t, raster, "-png")
	require.Contains(t, raster, "-r")
	require.Contains(t, raster, "200")

	require.Equal(t, "tesseract", runner.call(1)[0])
}

func TestRecognizePDFWithNoPagesSucceedsWithWarning(t *testing.T) {
	runner := &fakeRunner{run: func(name string, args []string) ([]byte, error) {
		return nil, nil // rasterizer "succeeds" but writes nothing
	}}
	rec := newTestRecognizer(t, Config{}, runner)

	res, err := rec.Recognize(context.Background(), []byte("%PDF-1.4"), constants.MimePDF, Options{})
	require.NoError(t, err)
	require.Empty(t, res.Text)
	require.Contains(t, res.Warnings, "pdf produced no pages")
}

func TestRecognizePreprocessFailureDegradesToOriginal(t *testing.T) {
	runner := &fakeRunner{}
	runner.run = func(name string, args []string) ([]byte, error) {
		if name == "magick" {
			return nil, errors.New("exit status 1")
		}
		return []byte("text\n"), nil
	}
	rec := newTestRecognizer(t, Config{}, runner)

	res, err := rec.Recognize(context.Background(), []byte("jpg"), constants.MimeJPEG, Options{Denoise: true})
	require.NoError(t, err)
	require.Equal(t, "text", res.Text)
	require.NotEmpty(t, res.Warnings)
}
