// Package imageproc shrinks user-supplied images into JPEG data URLs small
// enough to embed in a chat completion request.
package imageproc

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"

	"github.com/IzzulGod/Sorachio-Chat-v2/internal/chaterr"
	"github.com/IzzulGod/Sorachio-Chat-v2/pkg/logger"
)

const (
	DefaultMaxDimension  = 900
	DefaultQuality       = 70
	DefaultMaxInputBytes = 20 << 20

	jpegDataURLPrefix = "data:image/jpeg;base64,"
)

// Options configures a Preprocessor. Zero values fall back to the defaults.
type Options struct {
	MaxDimension  int
	Quality       int
	MaxInputBytes int64
}

type Preprocessor struct {
	maxDimension  int
	quality       int
	maxInputBytes int64
}

func New(opts Options) *Preprocessor {
	p := &Preprocessor{
		maxDimension:  opts.MaxDimension,
		quality:       opts.Quality,
		maxInputBytes: opts.MaxInputBytes,
	}
	if p.maxDimension <= 0 {
		p.maxDimension = DefaultMaxDimension
	}
	if p.quality <= 0 || p.quality > 100 {
		p.quality = DefaultQuality
	}
	if p.maxInputBytes <= 0 {
		p.maxInputBytes = DefaultMaxInputBytes
	}
	return p
}

func (p *Preprocessor) MaxDimension() int { return p.maxDimension }

// Process decodes data, bounds its longer side to MaxDimension and returns a
// base64 JPEG data URL. Decoding is not cancellable; ctx is only checked
// before work starts.
func (p *Preprocessor) Process(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", chaterr.New(chaterr.KindImageProcessing, err)
	}
	if len(data) == 0 {
		return "", chaterr.Newf(chaterr.KindImageDecode, "empty image")
	}
	if int64(len(data)) > p.maxInputBytes {
		return "", chaterr.Newf(chaterr.KindImageProcessing, "image is %d bytes, limit is %d", len(data), p.maxInputBytes)
	}

	mime := mimetype.Detect(data)
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", chaterr.New(chaterr.KindImageDecode, fmt.Errorf("decode %s: %w", mime.String(), err))
	}

	bounds := src.Bounds()
	width, height := FitDimensions(bounds.Dx(), bounds.Dy(), p.maxDimension)

	resized := src
	if width != bounds.Dx() || height != bounds.Dy() {
		resized = imaging.Resize(src, width, height, imaging.Lanczos)
	}

	// JPEG has no alpha channel; flatten onto white so transparent areas do not turn black.
	canvas := imaging.New(width, height, color.White)
	canvas = imaging.Overlay(canvas, resized, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.JPEG, imaging.JPEGQuality(p.quality)); err != nil {
		return "", chaterr.New(chaterr.KindImageProcessing, fmt.Errorf("encode jpeg: %w", err))
	}

	logger.WithFields(logger.Fields{
		"source_mime":   mime.String(),
		"source_width":  bounds.Dx(),
		"source_height": bounds.Dy(),
		"width":         width,
		"height":        height,
		"source_bytes":  len(data),
		"jpeg_bytes":    buf.Len(),
	}).Debug("image processed")

	return jpegDataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// FitDimensions scales (width, height) so the longer side equals maxSide when
// either side exceeds it, preserving the aspect ratio. Smaller images are
// returned unchanged.
func FitDimensions(width, height, maxSide int) (int, int) {
	if maxSide <= 0 || (width <= maxSide && height <= maxSide) {
		return width, height
	}
	if width > height {
		h := int(math.Round(float64(height) * float64(maxSide) / float64(width)))
		return maxSide, clamp(h, maxSide)
	}
	w := int(math.Round(float64(width) * float64(maxSide) / float64(height)))
	return clamp(w, maxSide), maxSide
}

func clamp(v, maxSide int) int {
	if v < 1 {
		return 1
	}
	if v > maxSide {
		return maxSide
	}
	return v
}

// RawDataURL wraps unmodified bytes in a data URL using the sniffed MIME type.
func RawDataURL(data []byte) string {
	mime := mimetype.Detect(data)
	return "data:" + mime.String() + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL accepts either a data URL or bare base64 and returns the raw bytes.
func DecodeDataURL(s string) ([]byte, error) {
	payload := s
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, fmt.Errorf("malformed data URL")
		}
		payload = s[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return data, nil
}
