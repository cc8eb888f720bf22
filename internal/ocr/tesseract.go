package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/tenderflow/docpipe/constants"
)

// Config for the exec-based recognizer.
type Config struct {
	Tesseract      string // binary name or absolute path; if empty -> "tesseract"
	Pdftoppm       string // if empty -> "pdftoppm"
	ImageConverter string // preprocessing tool; if empty -> "magick"

	DefaultLanguages []string // if empty -> ["eng"]
	DPI              int      // rasterization DPI for PDFs, default 300
	ArtifactCacheDir string
}

// TesseractRecognizer shells out to tesseract, rasterizing PDFs through
// pdftoppm and applying preprocessing through an image converter first.
type TesseractRecognizer struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewTesseractRecognizer(cfg Config, logger *slog.Logger) *TesseractRecognizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.ImageConverter == "" {
		cfg.ImageConverter = "magick"
	}
	if len(cfg.DefaultLanguages) == 0 {
		cfg.DefaultLanguages = []string{"eng"}
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.ArtifactCacheDir == "" {
		cfg.ArtifactCacheDir = "./tmp"
	}
	return &TesseractRecognizer{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
}

func (r *TesseractRecognizer) Recognize(ctx context.Context, data []byte, mimeType string, opts Options) (Result, error) {
	if err := os.MkdirAll(r.cfg.ArtifactCacheDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create artifact dir: %w", err)
	}
	base := filepath.Join(r.cfg.ArtifactCacheDir, uuid.NewString())
	in := base + extFor(mimeType)
	if err := os.WriteFile(in, data, 0o644); err != nil {
		return Result{}, fmt.Errorf("write ocr input: %w", err)
	}
	defer os.Remove(in)

	var warnings []string
	path := in
	if constants.MapMimeToFormat(mimeType) == constants.PDF {
		// tesseract reads images; rasterize page 1..N through pdftoppm.
		dpi := opts.DPI
		if dpi <= 0 {
			dpi = r.cfg.DPI
		}
		out := base + "-page"
		if _, stderr, err := r.runner.Run(ctx, r.cfg.Pdftoppm, "-png", "-r", strconv.Itoa(dpi), in, out); err != nil {
			return Result{}, fmt.Errorf("rasterize pdf: %w: %s", err, truncate(string(stderr), 512))
		}
		pages, _ := filepath.Glob(out + "*.png")
		if len(pages) == 0 {
			return Result{Warnings: []string{"pdf produced no pages"}}, nil
		}
		defer func() {
			for _, pg := range pages {
				os.Remove(pg)
			}
		}()
		return r.recognizePages(ctx, pages, opts)
	}

	if needsPreprocess(opts) {
		pre, warn, err := r.preprocess(ctx, path, base, opts)
		warnings = append(warnings, warn...)
		if err == nil {
			defer os.Remove(pre)
			path = pre
		}
	}
	res, err := r.recognizePages(ctx, []string{path}, opts)
	res.Warnings = append(res.Warnings, warnings...)
	return res, err
}

func (r *TesseractRecognizer) recognizePages(ctx context.Context, pages []string, opts Options) (Result, error) {
	langs := opts.Languages
	if len(langs) == 0 {
		langs = r.cfg.DefaultLanguages
	}
	var sb strings.Builder
	var blocks []Block
	for _, page := range pages {
		args := []string{page, "stdout", "-l", strings.Join(langs, "+")}
		if opts.PSM > 0 {
			args = append(args, "--psm", strconv.Itoa(opts.PSM))
		}
		stdout, stderr, err := r.runner.Run(ctx, r.cfg.Tesseract, args...)
		if err != nil {
			return Result{}, fmt.Errorf("tesseract: %w: %s", err, truncate(string(stderr), 512))
		}
		text := normalize(string(stdout))
		sb.WriteString(text)
		if len(pages) > 1 {
			sb.WriteString("\n")
		}
		blocks = append(blocks, Block{Text: text, Confidence: heuristicConfidence(text)})
	}
	text := strings.TrimRight(sb.String(), "\n")
	// Empty text is a successful recognition of an empty document.
	return Result{
		Text:       text,
		Confidence: heuristicConfidence(text),
		Blocks:     blocks,
	}, nil
}

// preprocess applies denoise/contrast/resize through the image converter.
func (r *TesseractRecognizer) preprocess(ctx context.Context, in, base string, opts Options) (string, []string, error) {
	out := base + "-pre.png"
	args := []string{in}
	if opts.Denoise {
		args = append(args, "-despeckle")
	}
	if opts.Contrast {
		args = append(args, "-contrast-stretch", "2%x1%")
	}
	if opts.ResizeWidth > 0 {
		args = append(args, "-resize", strconv.Itoa(opts.ResizeWidth))
	}
	args = append(args, out)
	if _, stderr, err := r.runner.Run(ctx, r.cfg.ImageConverter, args...); err != nil {
		warn := fmt.Sprintf("preprocess skipped: %v: %s", err, truncate(string(stderr), 256))
		r.logger.Warn("image preprocess failed, using original", "err", err)
		return "", []string{warn}, err
	}
	return out, nil, nil
}

// Available probes the tesseract binary.
func (r *TesseractRecognizer) Available(ctx context.Context) error {
	_, _, err := r.runner.Run(ctx, r.cfg.Tesseract, "--version")
	return err
}

func needsPreprocess(opts Options) bool {
	return opts.Denoise || opts.Contrast || opts.ResizeWidth > 0
}

func extFor(mimeType string) string {
	switch constants.NormalizeMime(mimeType) {
	case constants.MimePDF:
		return ".pdf"
	case constants.MimePNG:
		return ".png"
	case constants.MimeTIFF:
		return ".tiff"
	default:
		return ".jpg"
	}
}
