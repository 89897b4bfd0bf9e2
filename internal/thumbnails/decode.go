package thumbnails

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"
)

// ErrEmpty is returned when there are no bytes to decode
var ErrEmpty = errors.New("empty thumbnail data")

// Decode turns encoded thumbnail bytes into an image, applying the EXIF
// orientation so the reported bounds match what is displayed
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode thumbnail: %w", err)
	}
	return img, nil
}

// Dimensions returns the displayed width and height of encoded image bytes
func Dimensions(data []byte) (int, int, error) {
	img, err := Decode(data)
	if err != nil {
		return 0, 0, err
	}
	bounds := img.Bounds()
	return bounds.Dx(), bounds.Dy(), nil
}

// FallbackWidth and FallbackHeight size the built-in fallback asset
const (
	FallbackWidth  = 320
	FallbackHeight = 240
)

var (
	fallbackOnce  sync.Once
	fallbackBytes []byte
)

// Fallback returns the fixed asset rendered for thumbnails that failed
// permanently. The PNG is encoded once and shared.
func Fallback() []byte {
	fallbackOnce.Do(func() {
		data, err := renderFallback(FallbackWidth, FallbackHeight)
		if err != nil {
			log.Errorf("Failed to render fallback thumbnail: %v", err)
			return
		}
		fallbackBytes = data
	})
	return fallbackBytes
}

// renderFallback draws a dark tile with a lighter diagonal band
func renderFallback(width, height int) ([]byte, error) {
	img := imaging.New(width, height, color.NRGBA{R: 0x1a, G: 0x1a, B: 0x1a, A: 0xff})
	band := color.NRGBA{R: 0x3a, G: 0x3a, B: 0x3a, A: 0xff}
	for y := 0; y < height; y++ {
		x := y * width / height
		for dx := -6; dx <= 6; dx++ {
			if px := x + dx; px >= 0 && px < width {
				img.SetNRGBA(px, y, band)
			}
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode fallback: %w", err)
	}
	return buf.Bytes(), nil
}

// Encode renders an image as JPEG at the given quality, used by the gallery
// importer to store previews and by tests to build fixtures
func Encode(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// Preview scales an image down to fit the bounds, keeping its aspect ratio
func Preview(img image.Image, maxWidth, maxHeight int) image.Image {
	return imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos)
}
