package thumbnails

import (
	"errors"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
)

func TestDecodeRoundTripDimensions(t *testing.T) {
	src := imaging.New(120, 80, color.NRGBA{R: 200, A: 255})
	data, err := Encode(src, 90)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	w, h, err := Dimensions(data)
	if err != nil {
		t.Fatalf("Dimensions() error = %v", err)
	}
	if w != 120 || h != 80 {
		t.Errorf("Dimensions() = %dx%d, want 120x80", w, h)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "not an image", data: []byte("definitely not a jpeg")},
		{name: "truncated png header", data: []byte("\x89PNG\r\n\x1a\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data); err == nil {
				t.Errorf("Decode(%q) expected error", tt.data)
			}
		})
	}

	if _, err := Decode(nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("Decode(nil) error = %v, want ErrEmpty", err)
	}
}

func TestFallbackIsDecodable(t *testing.T) {
	data := Fallback()
	if len(data) == 0 {
		t.Fatal("Fallback() returned no bytes")
	}
	w, h, err := Dimensions(data)
	if err != nil {
		t.Fatalf("Dimensions(Fallback()) error = %v", err)
	}
	if w != FallbackWidth || h != FallbackHeight {
		t.Errorf("fallback = %dx%d, want %dx%d", w, h, FallbackWidth, FallbackHeight)
	}
	if &Fallback()[0] != &data[0] {
		t.Errorf("Fallback() re-rendered instead of reusing the shared asset")
	}
}

func TestPreviewKeepsAspect(t *testing.T) {
	src := imaging.New(1000, 500, color.NRGBA{B: 255, A: 255})
	p := Preview(src, 200, 200)
	if p.Bounds().Dx() != 200 || p.Bounds().Dy() != 100 {
		t.Errorf("Preview() = %v, want 200x100", p.Bounds())
	}
}
