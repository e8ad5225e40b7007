package processing

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

// createCanvas mimics the drawing canvas: transparent everywhere except a white stroke
// rectangle
func createCanvas(width, height int, stroke image.Rectangle) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := stroke.Min.Y; y < stroke.Max.Y; y++ {
		for x := stroke.Min.X; x < stroke.Max.X; x++ {
			img.Set(x, y, color.NRGBA{255, 255, 255, 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeDataURL(t *testing.T) {
	p := NewProcessor()
	raw := encodePNG(t, createCanvas(40, 30, image.Rect(5, 5, 10, 10)))
	b64 := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"canvas data URL", "data:image/png;base64," + b64, false},
		{"bare base64", b64, false},
		{"unpadded", base64.RawStdEncoding.EncodeToString(raw), false},
		{"empty", "", true},
		{"no comma", "data:image/png;base64", true},
		{"not base64 encoded", "data:image/png," + b64, true},
		{"not an image", "data:text/plain;base64,aGVsbG8=", true},
		{"garbage", "data:image/png;base64,!!!!", true},
		{"valid base64, not an image", base64.StdEncoding.EncodeToString([]byte("hello")), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := p.DecodeDataURL(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if img.Bounds().Dx() != 40 || img.Bounds().Dy() != 30 {
				t.Errorf("Expected 40x30, got %v", img.Bounds())
			}
		})
	}
}

func TestInkBounds(t *testing.T) {
	p := NewProcessor()

	img := createCanvas(100, 80, image.Rect(20, 10, 50, 30))
	got, ok := p.InkBounds(img)
	if !ok {
		t.Fatal("Expected ink to be found")
	}
	if got != image.Rect(20, 10, 50, 30) {
		t.Errorf("Expected (20,10)-(50,30), got %v", got)
	}

	if _, ok := p.InkBounds(image.NewNRGBA(image.Rect(0, 0, 10, 10))); ok {
		t.Error("Blank canvas should have no ink")
	}

	// Opaque canvas: black background with a white stroke.
	opaque := image.NewNRGBA(image.Rect(0, 0, 60, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 60; x++ {
			c := color.NRGBA{0, 0, 0, 255}
			if x >= 30 && x < 40 && y >= 5 && y < 15 {
				c = color.NRGBA{255, 255, 255, 255}
			}
			opaque.Set(x, y, c)
		}
	}
	got, ok = p.InkBounds(opaque)
	if !ok || got != image.Rect(30, 5, 40, 15) {
		t.Errorf("Expected (30,5)-(40,15), got %v (ok=%v)", got, ok)
	}

	// Sub-image keeps the parent's coordinates.
	sub := img.SubImage(image.Rect(10, 5, 90, 70))
	got, ok = p.InkBounds(sub)
	if !ok || got != image.Rect(20, 10, 50, 30) {
		t.Errorf("Expected sub-image ink at (20,10)-(50,30), got %v", got)
	}
}

func TestFlatten(t *testing.T) {
	p := NewProcessor()
	img := createCanvas(10, 10, image.Rect(0, 0, 5, 5))

	flat := p.Flatten(img, color.Black)
	if c := flat.NRGBAAt(2, 2); c != (color.NRGBA{255, 255, 255, 255}) {
		t.Errorf("Stroke pixel should stay white, got %v", c)
	}
	if c := flat.NRGBAAt(8, 8); c != (color.NRGBA{0, 0, 0, 255}) {
		t.Errorf("Transparent pixel should become black, got %v", c)
	}
}

func TestPrepareImageForModel(t *testing.T) {
	p := NewProcessor()
	img := createCanvas(800, 600, image.Rect(100, 100, 200, 150))

	t.Run("crop to ink", func(t *testing.T) {
		opts := DefaultPrepareOptions()
		opts.Padding = 10
		b64, mime, err := p.PrepareImageForModel(img, opts)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if mime != "image/png" {
			t.Errorf("Expected image/png, got %s", mime)
		}
		decoded, err := p.DecodeDataURL(b64)
		if err != nil {
			t.Fatalf("Payload does not decode: %v", err)
		}
		if decoded.Bounds().Dx() != 120 || decoded.Bounds().Dy() != 70 {
			t.Errorf("Expected 120x70 after crop, got %v", decoded.Bounds())
		}
	})

	t.Run("resize and jpeg", func(t *testing.T) {
		opts := PrepareOptions{Format: "jpg", MaxDimension: 400, Quality: 80}
		b64, mime, err := p.PrepareImageForModel(img, opts)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if mime != "image/jpeg" {
			t.Errorf("Expected image/jpeg, got %s", mime)
		}
		decoded, err := p.DecodeDataURL(b64)
		if err != nil {
			t.Fatalf("Payload does not decode: %v", err)
		}
		if decoded.Bounds().Dx() != 400 || decoded.Bounds().Dy() != 300 {
			t.Errorf("Expected 400x300, got %v", decoded.Bounds())
		}
	})

	t.Run("blank canvas is sent whole", func(t *testing.T) {
		opts := DefaultPrepareOptions()
		opts.MaxDimension = 0
		b64, _, err := p.PrepareImageForModel(image.NewNRGBA(image.Rect(0, 0, 50, 40)), opts)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		decoded, _ := p.DecodeDataURL(b64)
		if decoded.Bounds().Dx() != 50 || decoded.Bounds().Dy() != 40 {
			t.Errorf("Expected 50x40, got %v", decoded.Bounds())
		}
	})

	t.Run("nil image", func(t *testing.T) {
		if _, _, err := p.PrepareImageForModel(nil, DefaultPrepareOptions()); err == nil {
			t.Error("Expected error for nil image")
		}
	})
}

func TestValidateImage(t *testing.T) {
	p := NewProcessor()

	if err := p.ValidateImage(createCanvas(200, 200, image.Rectangle{}), 100); err != nil {
		t.Errorf("Valid image failed validation: %v", err)
	}
	if err := p.ValidateImage(createCanvas(50, 200, image.Rectangle{}), 100); err == nil {
		t.Error("Small image should fail validation")
	}
	if err := p.ValidateImage(nil, 1); err == nil {
		t.Error("Nil image should fail validation")
	}
}

func TestGetImageInfo(t *testing.T) {
	info := NewProcessor().GetImageInfo(createCanvas(400, 300, image.Rectangle{}))
	if info.Width != 400 || info.Height != 300 || info.Area != 120000 {
		t.Errorf("Unexpected info: %+v", info)
	}
	if info.AspectRatio < 1.33 || info.AspectRatio > 1.34 {
		t.Errorf("Expected aspect ratio ~1.33, got %f", info.AspectRatio)
	}
}

func TestLoadImageSmart(t *testing.T) {
	p := NewProcessor()
	raw := encodePNG(t, createCanvas(32, 16, image.Rect(1, 1, 4, 4)))

	dir := t.TempDir()
	path := filepath.Join(dir, "canvas.png")
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/text" {
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("nope"))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(raw)
	}))
	defer srv.Close()

	sources := map[string]string{
		"file":     path,
		"url":      srv.URL + "/canvas.png",
		"data url": "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw),
	}
	for name, src := range sources {
		img, err := p.LoadImageSmart(src)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", name, err)
			continue
		}
		if img.Bounds().Dx() != 32 {
			t.Errorf("%s: expected width 32, got %d", name, img.Bounds().Dx())
		}
	}

	if _, err := p.LoadImageSmart(srv.URL + "/text"); err == nil {
		t.Error("Expected error for non-image content type")
	}
	if _, err := p.LoadImageSmart(filepath.Join(dir, "missing.png")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestSaveImageAndDebugOverlay(t *testing.T) {
	p := NewProcessor()
	img := createCanvas(120, 90, image.Rect(40, 30, 80, 60))

	overlay := p.CreateDebugOverlay(img, 8)
	if overlay.Bounds() != img.Bounds() {
		t.Errorf("Overlay bounds %v differ from %v", overlay.Bounds(), img.Bounds())
	}
	// Top-left corner of the ink box is drawn in green.
	if c := color.NRGBAModel.Convert(overlay.At(40, 30)).(color.NRGBA); c.G != 255 || c.R != 0 {
		t.Errorf("Expected green ink box corner, got %v", c)
	}

	dir := t.TempDir()
	for _, format := range []string{"png", "jpg", "webp"} {
		path := filepath.Join(dir, "overlay."+format)
		if err := p.SaveImage(overlay, path, format, 85, false); err != nil {
			t.Errorf("SaveImage(%s): %v", format, err)
			continue
		}
		if _, err := p.LoadImage(path); err != nil {
			t.Errorf("LoadImage(%s): %v", format, err)
		}
	}
}
