package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// maxDownloadSize caps remote images
const maxDownloadSize = 20 << 20

// Processor handles image processing operations
type Processor struct {
	httpClient *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// PrepareOptions controls how a canvas is turned into a model payload
type PrepareOptions struct {
	// Format is "png" (default) or "jpg".
	Format string
	// MaxDimension downsizes the longer side; 0 keeps the size.
	MaxDimension int
	Quality      int
	// CropToInk trims the canvas to the drawn strokes plus Padding pixels.
	CropToInk bool
	Padding   int
	// Background is painted under transparent pixels. Defaults to black, like the canvas.
	Background color.Color
}

// DefaultPrepareOptions returns the options used when none are configured
func DefaultPrepareOptions() PrepareOptions {
	return PrepareOptions{
		Format:       "png",
		MaxDimension: 1024,
		Quality:      90,
		CropToInk:    true,
		Padding:      24,
		Background:   color.Black,
	}
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int
	Height      int
	AspectRatio float64
	Area        int
}

// LoadImageFromURL downloads and loads an image from a URL
func (p *Processor) LoadImageFromURL(imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequest("GET", imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", "canvas-calc/1.0 (+https://github.com/menta2k/canvas-calc)")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	imageData, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %v", err)
	}

	return p.decodeImageFromBytes(imageData)
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if img, err := p.decodeImageFromBytes(data); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image: unknown format for %s", path)
}

// LoadImageSmart loads an image from a data URL, an http(s) URL or a file path
func (p *Processor) LoadImageSmart(source string) (image.Image, error) {
	switch {
	case strings.HasPrefix(source, "data:"):
		return p.DecodeDataURL(source)
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return p.LoadImageFromURL(source)
	default:
		return p.LoadImage(source)
	}
}

// DecodeDataURL decodes a base64 data URL such as the one produced by canvas.toDataURL.
// A bare base64 payload without the "data:" header is accepted too.
func (p *Processor) DecodeDataURL(dataURL string) (image.Image, error) {
	payload := strings.TrimSpace(dataURL)
	if payload == "" {
		return nil, fmt.Errorf("empty image data")
	}
	if strings.HasPrefix(payload, "data:") {
		header, body, ok := strings.Cut(payload, ",")
		if !ok {
			return nil, fmt.Errorf("malformed data URL: missing comma")
		}
		if !strings.HasSuffix(header, ";base64") {
			return nil, fmt.Errorf("unsupported data URL encoding: %s", header)
		}
		mediaType := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		if mediaType != "" && !strings.HasPrefix(mediaType, "image/") {
			return nil, fmt.Errorf("data URL is not an image (%s)", mediaType)
		}
		payload = body
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some encoders drop the padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, fmt.Errorf("invalid base64 image data: %v", err)
		}
	}
	return p.decodeImageFromBytes(data)
}

// decodeImageFromBytes decodes an image from byte data with WebP support
func (p *Processor) decodeImageFromBytes(data []byte) (image.Image, error) {
	reader := bytes.NewReader(data)
	if img, _, err := image.Decode(reader); err == nil {
		return img, nil
	}

	reader = bytes.NewReader(data)
	if img, err := webp.Decode(reader); err == nil {
		return img, nil
	}

	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// GetImageInfo returns basic information about an image
func (p *Processor) GetImageInfo(img image.Image) ImageInfo {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	info := ImageInfo{
		Width:  width,
		Height: height,
		Area:   width * height,
	}
	if height > 0 {
		info.AspectRatio = float64(width) / float64(height)
	}
	return info
}

// ValidateImage checks if an image meets minimum requirements
func (p *Processor) ValidateImage(img image.Image, minSize int) error {
	if img == nil {
		return fmt.Errorf("image is nil")
	}
	bounds := img.Bounds()
	if bounds.Dx() < minSize || bounds.Dy() < minSize {
		return fmt.Errorf("image too small: %dx%d (minimum: %dx%d)",
			bounds.Dx(), bounds.Dy(), minSize, minSize)
	}
	return nil
}

// InkBounds returns the bounding box of the non-transparent pixels, in img's coordinates.
// When the image is fully opaque, pixels that differ from the top-left corner count as ink.
// ok is false for a blank canvas.
func (p *Processor) InkBounds(img image.Image) (image.Rectangle, bool) {
	nrgba := imaging.Clone(img)
	b := nrgba.Bounds()
	if b.Empty() {
		return image.Rectangle{}, false
	}

	opaque := true
	for i := 3; i < len(nrgba.Pix); i += 4 {
		if nrgba.Pix[i] != 255 {
			opaque = false
			break
		}
	}
	bg := nrgba.NRGBAAt(b.Min.X, b.Min.Y)

	minX, minY, maxX, maxY := b.Max.X, b.Max.Y, b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := nrgba.NRGBAAt(x, y)
			ink := c.A > 0
			if opaque {
				ink = c != bg
			}
			if !ink {
				continue
			}
			if x < minX {
				minX = x
			}
			if y < minY {
				minY = y
			}
			if x > maxX {
				maxX = x
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if maxX < minX || maxY < minY {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1).Add(img.Bounds().Min), true
}

// Flatten paints img over an opaque background so transparent strokes survive JPEG
// encoding and models that ignore alpha
func (p *Processor) Flatten(img image.Image, background color.Color) *image.NRGBA {
	if background == nil {
		background = color.Black
	}
	b := img.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), background)
	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
}

// PrepareImageForModel converts a canvas to base64 for sending to vision models. It returns
// the encoded payload and its MIME type.
func (p *Processor) PrepareImageForModel(img image.Image, opts PrepareOptions) (string, string, error) {
	if img == nil {
		return "", "", fmt.Errorf("image is nil")
	}

	if opts.CropToInk {
		if ink, ok := p.InkBounds(img); ok {
			rect := ink.Inset(-opts.Padding).Intersect(img.Bounds())
			img = imaging.Crop(img, rect)
		}
	}

	flat := p.Flatten(img, opts.Background)

	var out image.Image = flat
	if opts.MaxDimension > 0 {
		w, h := flat.Bounds().Dx(), flat.Bounds().Dy()
		if w > opts.MaxDimension || h > opts.MaxDimension {
			if w >= h {
				out = imaging.Resize(flat, opts.MaxDimension, 0, imaging.Lanczos)
			} else {
				out = imaging.Resize(flat, 0, opts.MaxDimension, imaging.Lanczos)
			}
		}
	}

	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = 90
	}

	var buf bytes.Buffer
	mimeType := "image/png"
	switch strings.ToLower(opts.Format) {
	case "jpg", "jpeg":
		mimeType = "image/jpeg"
		if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
			return "", "", err
		}
	default:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, out); err != nil {
			return "", "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), mimeType, nil
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// CreateDebugOverlay flattens the canvas and outlines the detected ink area along with the
// padded region that is sent to the model
func (p *Processor) CreateDebugOverlay(img image.Image, padding int) image.Image {
	nrgba := p.Flatten(img, color.Black)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	green := color.NRGBA{0, 255, 0, 255}  // ink box
	gold := color.NRGBA{255, 204, 0, 255} // padded crop
	blue := color.NRGBA{0, 170, 255, 255} // image center
	stroke := int(math.Max(2, 0.004*float64(minInt(w, h))))

	// Flatten re-bases the canvas at the origin.
	ink, ok := p.InkBounds(img)
	if ok {
		ink = ink.Sub(img.Bounds().Min)
		drawRect(nrgba, ink.Inset(-padding).Intersect(nrgba.Bounds()), gold, stroke)
		drawRect(nrgba, ink, green, stroke)
	}

	ix, iy := w/2, h/2
	drawHLine(nrgba, iy, ix-6, ix+6, blue)
	drawVLine(nrgba, ix, iy-6, iy+6, blue)

	return nrgba
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func drawRect(img *image.NRGBA, r image.Rectangle, c color.NRGBA, stroke int) {
	if r.Empty() {
		return
	}
	x0, y0, x1, y1 := r.Min.X, r.Min.Y, r.Max.X, r.Max.Y
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
