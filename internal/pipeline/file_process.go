package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"github.com/tenderflow/docpipe/constants"
	"github.com/tenderflow/docpipe/internal/common"
	"github.com/tenderflow/docpipe/internal/queue"
	"github.com/tenderflow/docpipe/internal/repository"
	"github.com/tenderflow/docpipe/internal/worker"
)

// FileProcess derives metadata and, for images, a PNG thumbnail artifact.
func (s *Stages) FileProcess(ctx context.Context, job *queue.Job) worker.Outcome {
	var payload FileProcessPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return worker.FatalFailure(common.Fatal(fmt.Errorf("decoding payload: %w", err)))
	}

	mimeType := constants.NormalizeMime(payload.MimeType)
	if constants.MapMimeToFormat(mimeType) == "" {
		return worker.FatalFailure(common.Fatal(fmt.Errorf("unsupported mime type: %s", payload.MimeType)))
	}

	bucket := s.bucketOr(payload.Bucket)
	data, err := s.store.Get(ctx, bucket, payload.FileKey)
	if err != nil {
		return worker.RetryableFailure(common.Transient(fmt.Errorf("fetching %s/%s: %w", bucket, payload.FileKey, err)))
	}

	meta := repository.FileMetadata{
		SubmissionID: payload.SubmissionID,
		Bucket:       bucket,
		Key:          payload.FileKey,
		Filename:     payload.Filename,
		MimeType:     mimeType,
		SizeBytes:    int64(len(data)),
	}

	var width, height int
	if constants.MapMimeToFormat(mimeType) == constants.IMAGE {
		img, err := decodeImage(data, mimeType)
		if err != nil {
			return worker.FatalFailure(common.Fatal(fmt.Errorf("decoding image: %w", err)))
		}
		bounds := img.Bounds()
		width, height = bounds.Dx(), bounds.Dy()

		thumbWidth := payload.ThumbWidth
		if thumbWidth <= 0 {
			thumbWidth = s.defaultThumbWidth
		}
		thumb, err := renderThumbnail(img, thumbWidth)
		if err != nil {
			return worker.FatalFailure(common.Fatal(fmt.Errorf("rendering thumbnail: %w", err)))
		}
		thumbKey := fmt.Sprintf("thumbnails/%s.png", payload.SubmissionID)
		if err := s.store.Put(ctx, bucket, thumbKey, thumb, constants.MimePNG); err != nil {
			return worker.RetryableFailure(common.Transient(fmt.Errorf("storing thumbnail: %w", err)))
		}
		meta.ThumbnailKey = thumbKey
	}

	if err := s.repo.SaveFileMetadata(ctx, meta); err != nil {
		return worker.RetryableFailure(common.Transient(fmt.Errorf("persisting file metadata: %w", err)))
	}

	return worker.Completed(map[string]any{
		"submissionId": payload.SubmissionID,
		"sizeBytes":    meta.SizeBytes,
		"width":        width,
		"height":       height,
		"thumbnailKey": meta.ThumbnailKey,
	})
}

func decodeImage(data []byte, mimeType string) (image.Image, error) {
	switch mimeType {
	case constants.MimeJPEG:
		return jpeg.Decode(bytes.NewReader(data))
	case constants.MimePNG:
		return png.Decode(bytes.NewReader(data))
	case constants.MimeTIFF:
		return tiff.Decode(bytes.NewReader(data))
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// renderThumbnail scales the image down to the target width, preserving
// aspect ratio. Images already narrower than the target pass through.
func renderThumbnail(img image.Image, targetWidth int) ([]byte, error) {
	bounds := img.Bounds()
	if bounds.Dx() > targetWidth {
		targetHeight := bounds.Dy() * targetWidth / bounds.Dx()
		if targetHeight < 1 {
			targetHeight = 1
		}
		scaled := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, bounds, draw.Over, nil)
		img = scaled
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
