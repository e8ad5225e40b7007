package canvascalc

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"

	"github.com/menta2k/canvas-calc/internal/config"
	"github.com/menta2k/canvas-calc/pkg/types"
)

type stubClient struct {
	reply    string
	err      error
	calls    int
	prompt   string
	mimeType string
	image    []byte
}

func (s *stubClient) SimpleQuery(ctx context.Context, model, prompt, imgB64, mimeType string) (string, error) {
	s.calls++
	s.prompt = prompt
	s.mimeType = mimeType
	s.image, _ = base64.StdEncoding.DecodeString(imgB64)
	return s.reply, s.err
}

func (s *stubClient) Name() string { return "stub" }

// createCanvas creates a transparent canvas with a white stroke in the middle
func createCanvas(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := height / 3; y < 2*height/3; y++ {
		for x := width / 3; x < 2*width/3; x++ {
			img.Set(x, y, color.NRGBA{255, 255, 255, 255})
		}
	}
	return img
}

func newTestCalculator(c *stubClient) (*Calculator, *memory.Handler) {
	h := memory.New()
	opts := DefaultOptions()
	opts.Logger = &log.Logger{Handler: h, Level: log.DebugLevel}
	return NewWithClient(c, opts), h
}

func TestAnalyze(t *testing.T) {
	c := &stubClient{reply: `[{"expr": "2 + 3 * 4", "result": 14}]`}
	calc, h := newTestCalculator(c)

	records, err := calc.Analyze(context.Background(), createCanvas(300, 300), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].Expr != "2 + 3 * 4" || records[0].Assign {
		t.Errorf("Unexpected records: %v", records)
	}
	if c.mimeType != "image/png" {
		t.Errorf("Expected PNG payload, got %s", c.mimeType)
	}
	if !strings.Contains(c.prompt, "{}") {
		t.Error("Prompt should embed {} for empty variables")
	}
	if len(h.Entries) != 2 {
		t.Errorf("Expected 2 log lines, got %d", len(h.Entries))
	}

	// The payload is cropped to the stroke (100x100) plus the default padding.
	sent, err := png.Decode(bytes.NewReader(c.image))
	if err != nil {
		t.Fatalf("Payload is not a PNG: %v", err)
	}
	if w := sent.Bounds().Dx(); w != 148 {
		t.Errorf("Expected cropped width 148, got %d", w)
	}
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	c := &stubClient{reply: `[]`}
	calc, h := newTestCalculator(c)

	records, err := calc.AnalyzeDataURL(context.Background(), "data:image/png;base64,####", nil)
	if records == nil || len(records) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", records)
	}
	if !types.IsKind(err, types.KindInput) {
		t.Errorf("Expected input error, got %v", err)
	}

	if _, err := calc.Analyze(context.Background(), createCanvas(4, 4), nil); !types.IsKind(err, types.KindInput) {
		t.Errorf("Expected input error for tiny image, got %v", err)
	}
	if _, err := calc.AnalyzeFile(context.Background(), filepath.Join(t.TempDir(), "missing.png"), nil); !types.IsKind(err, types.KindInput) {
		t.Errorf("Expected input error for missing file, got %v", err)
	}

	if c.calls != 0 {
		t.Errorf("Model must not be called for bad input, got %d calls", c.calls)
	}
	if len(h.Entries) != 3 {
		t.Errorf("Expected one log line per failure, got %d", len(h.Entries))
	}
}

func TestAnalyzeDataURLAndFile(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, createCanvas(120, 90)); err != nil {
		t.Fatal(err)
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
	path := filepath.Join(t.TempDir(), "canvas.png")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	c := &stubClient{reply: `[{"expr": "x", "result": 5, "assign": true}]`}
	calc, _ := newTestCalculator(c)
	vars := types.Variables{"y": types.Number(2)}

	for name, run := range map[string]func() ([]types.Record, error){
		"data url": func() ([]types.Record, error) { return calc.AnalyzeDataURL(context.Background(), dataURL, vars) },
		"file":     func() ([]types.Record, error) { return calc.AnalyzeFile(context.Background(), path, vars) },
	} {
		records, err := run()
		if err != nil {
			t.Errorf("%s: unexpected error: %v", name, err)
			continue
		}
		if len(records) != 1 || !records[0].Assign {
			t.Errorf("%s: unexpected records %v", name, records)
		}
		if !strings.Contains(c.prompt, `{"y":2}`) {
			t.Errorf("%s: prompt missing variables", name)
		}
	}
}

func TestAnalyzeBackendErrors(t *testing.T) {
	c := &stubClient{err: types.Errorf(types.KindAuth, "gemini", "API key not valid")}
	calc, _ := newTestCalculator(c)

	records, err := calc.Analyze(context.Background(), createCanvas(64, 64), nil)
	if len(records) != 0 || !types.IsKind(err, types.KindAuth) {
		t.Errorf("Expected auth error and no records, got %v / %v", records, err)
	}

	c.err = nil
	c.reply = "```json\n[]\n```"
	if _, err := calc.Analyze(context.Background(), createCanvas(64, 64), nil); !types.IsKind(err, types.KindParse) {
		t.Errorf("Expected parse error for fenced reply, got %v", err)
	}
}

func TestProbe(t *testing.T) {
	c := &stubClient{reply: "a square"}
	calc, _ := newTestCalculator(c)

	text, err := calc.Probe(context.Background(), createCanvas(64, 64))
	if err != nil || text != "a square" {
		t.Errorf("Unexpected probe result %q, %v", text, err)
	}
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		backend string
		url     string
		want    string
		wantErr bool
	}{
		{"", "", "gemini", false},
		{"gemini", "http://localhost:9999", "gemini", false},
		{"ollama", "", "ollama", false},
		{"ollama", "::bad", "", true},
		{"openai", "http://localhost:8080/v1", "openai", false},
		{"bard", "", "", true},
	}

	for _, tt := range tests {
		c, err := NewClient(tt.backend, tt.url, "key")
		if tt.wantErr {
			if err == nil {
				t.Errorf("NewClient(%q, %q): expected error", tt.backend, tt.url)
			}
			continue
		}
		if err != nil {
			t.Errorf("NewClient(%q, %q): %v", tt.backend, tt.url, err)
			continue
		}
		if c.Name() != tt.want {
			t.Errorf("NewClient(%q): expected %s, got %s", tt.backend, tt.want, c.Name())
		}
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.Name = config.BackendOllama
	cfg.Backend.Model = "llava:13b"
	cfg.Image.SendFormat = "jpg"
	cfg.Image.MaxDim = 512
	cfg.Solver.VerifyArithmetic = true

	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if opts.Backend != "ollama" || opts.Model != "llava:13b" || !opts.VerifyArithmetic {
		t.Errorf("Unexpected options: %+v", opts)
	}
	if opts.Image.Format != "jpg" || opts.Image.MaxDimension != 512 {
		t.Errorf("Unexpected image options: %+v", opts.Image)
	}

	calc, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if calc.Backend() != "ollama" || calc.Model() != "llava:13b" {
		t.Errorf("Unexpected calculator %s/%s", calc.Backend(), calc.Model())
	}

	cfg.Solver.PromptFile = filepath.Join(t.TempDir(), "missing.txt")
	if _, err := OptionsFromConfig(cfg); err == nil {
		t.Error("Expected error for missing prompt file")
	}
}

func TestVersion(t *testing.T) {
	if Version() == "" {
		t.Error("Version should not be empty")
	}
}
