// Package imaging shrinks profile photos to a small JPEG data URL.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"math"
	"strings"

	"golang.org/x/image/draw"
)

const dataURLPrefix = "data:image/jpeg;base64,"

// ErrUnsupportedImage is returned when the input cannot be decoded as an image.
var ErrUnsupportedImage = errors.New("unsupported image")

// DefaultMaxPixels bounds the decoded size of an upload when Options.MaxPixels is unset.
const DefaultMaxPixels = 40_000_000

// Options controls thumbnail generation.
type Options struct {
	MaxDimension int // longest side in pixels
	Quality      int // JPEG quality 1..100
	MaxPixels    int // width*height budget checked before decoding
}

// DefaultOptions matches what the web client renders: 300px, quality 70.
var DefaultOptions = Options{MaxDimension: 300, Quality: 70, MaxPixels: DefaultMaxPixels}

// FitWithin returns the size of a w×h image scaled down so that its longest
// side is at most maxDim, preserving aspect ratio. Images already within the
// bound are returned unchanged.
func FitWithin(w, h, maxDim int) (int, int) {
	if w > h {
		if w > maxDim {
			h = int(math.Round(float64(h) * float64(maxDim) / float64(w)))
			w = maxDim
		}
	} else if h > maxDim {
		w = int(math.Round(float64(w) * float64(maxDim) / float64(h)))
		h = maxDim
	}
	return max(w, 1), max(h, 1)
}

// Thumbnail decodes src, downscales it and re-encodes it as JPEG.
// The header is checked against opts.MaxPixels first so that a small file
// declaring huge dimensions is rejected without allocating its pixels.
func Thumbnail(src []byte, opts Options) ([]byte, error) {
	budget := opts.MaxPixels
	if budget <= 0 {
		budget = DefaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUnsupportedImage)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(budget) {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrUnsupportedImage, cfg.Width, cfg.Height, budget)
	}

	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	b := img.Bounds()
	w, h := FitWithin(b.Dx(), b.Dy(), opts.MaxDimension)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// JPEG has no alpha; paint transparent areas white like a canvas export would.
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeDataURL wraps JPEG bytes in a data URL usable as an <img> source.
func EncodeDataURL(jpegData []byte) string {
	return dataURLPrefix + base64.StdEncoding.EncodeToString(jpegData)
}

// DecodeDataURL extracts the JPEG bytes from a data URL produced by EncodeDataURL.
func DecodeDataURL(dataURL string) ([]byte, error) {
	payload, ok := strings.CutPrefix(dataURL, dataURLPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: not a jpeg data url", ErrUnsupportedImage)
	}
	return base64.StdEncoding.DecodeString(payload)
}

// ThumbnailDataURL is Thumbnail followed by EncodeDataURL.
func ThumbnailDataURL(src []byte, opts Options) (string, error) {
	data, err := Thumbnail(src, opts)
	if err != nil {
		return "", err
	}
	return EncodeDataURL(data), nil
}
