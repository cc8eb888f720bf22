package ocr

import "context"

// Options carry language hints and preprocessing flags for one recognition
// call. Preprocessing is applied before the engine sees the image.
type Options struct {
	Languages   []string // hint set, e.g. ["eng","rus","kaz"]; empty means engine default
	Denoise     bool
	Contrast    bool
	ResizeWidth int // 0 = keep original size
	DPI         int // rasterization DPI for PDFs
	PSM         int // page segmentation mode; 0 = engine default
}

// Block is one recognized region with its own confidence.
type Block struct {
	Text       string
	Confidence float32
}

// Result is the output of one recognition. A zero-length Text with a nil
// error is a successful recognition of an empty document, not a failure;
// the extractor layer decides whether empty text is usable.
type Result struct {
	Text       string
	Confidence float32
	Blocks     []Block
	Warnings   []string
}

// Recognizer is the boundary to the OCR engine: bytes + hints in, text +
// confidence out. The engine's recognition internals are not modeled here.
type Recognizer interface {
	Recognize(ctx context.Context, data []byte, mimeType string, opts Options) (Result, error)
	// Available reports whether the engine is reachable; the health
	// monitor polls it.
	Available(ctx context.Context) error
}
