// Package canvascalc reads hand-drawn canvases with a multimodal model and returns what
// was drawn as a list of records.
//
// A record has an expression (or a short description of a recognized drawing), its
// result (a number or a short text) and an assign flag that marks variable assignments.
// Callers feed assignments back in as variables for later canvases.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//		"os"
//
//		canvascalc "github.com/menta2k/canvas-calc"
//		"github.com/menta2k/canvas-calc/pkg/types"
//	)
//
//	func main() {
//		calc, err := canvascalc.New(canvascalc.Options{
//			Backend: "gemini",
//			APIKey:  os.Getenv("GEMINI_API_KEY"),
//		})
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		vars := types.Variables{"x": types.Number(5)}
//		records, err := calc.AnalyzeFile(context.Background(), "canvas.png", vars)
//		if err != nil {
//			log.Printf("analysis failed: %v", err)
//		}
//		for _, r := range records {
//			fmt.Println(r)
//		}
//	}
//
// The package consists of these components:
//
// 1. Processing (pkg/processing): loads canvases from files, URLs and data URLs, crops
// them to the drawn strokes and encodes the model payload
// 2. Solver (pkg/solver): builds the prompt, calls the model once and decodes the reply
// 3. Backends (pkg/gemini, pkg/ollama, pkg/openaicompat): vision model clients
// 4. Parser (pkg/parser): strict, schema-validated decoding of the model reply
//
// Failures never panic. Every Analyze variant returns an empty, non-nil slice together
// with a *types.Error whose Kind tells transport, auth, parse and input failures apart.
package canvascalc

import (
	"context"
	"fmt"
	"image"

	"github.com/apex/log"

	"github.com/menta2k/canvas-calc/internal/config"
	"github.com/menta2k/canvas-calc/internal/version"
	"github.com/menta2k/canvas-calc/pkg/client"
	"github.com/menta2k/canvas-calc/pkg/gemini"
	"github.com/menta2k/canvas-calc/pkg/ollama"
	"github.com/menta2k/canvas-calc/pkg/openaicompat"
	"github.com/menta2k/canvas-calc/pkg/processing"
	"github.com/menta2k/canvas-calc/pkg/solver"
	"github.com/menta2k/canvas-calc/pkg/types"
)

// Options configures a Calculator
type Options struct {
	// Backend is "gemini" (default), "ollama" or "openai".
	Backend string
	Model   string
	URL     string
	APIKey  string

	// Prompt replaces the built-in instruction template.
	Prompt           string
	VerifyArithmetic bool

	Image        processing.PrepareOptions
	MinImageSize int

	Logger log.Interface
}

// DefaultOptions returns options for the Gemini backend with default image handling
func DefaultOptions() Options {
	return Options{
		Backend:      config.BackendGemini,
		Image:        processing.DefaultPrepareOptions(),
		MinImageSize: 8,
	}
}

// OptionsFromConfig maps the application configuration onto Options
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	prompt, err := cfg.LoadPrompt()
	if err != nil {
		return Options{}, err
	}

	img := processing.DefaultPrepareOptions()
	img.Format = cfg.Image.SendFormat
	img.MaxDimension = cfg.Image.MaxDim
	img.Quality = cfg.Image.Quality
	img.CropToInk = cfg.Image.CropToInk
	img.Padding = cfg.Image.InkPadding

	return Options{
		Backend:          cfg.Backend.Name,
		Model:            cfg.Backend.Model,
		URL:              cfg.Backend.URL,
		APIKey:           cfg.Backend.APIKey,
		Prompt:           prompt,
		VerifyArithmetic: cfg.Solver.VerifyArithmetic,
		Image:            img,
		MinImageSize:     cfg.Image.MinSize,
	}, nil
}

// Calculator provides a high-level interface for solving canvas images
type Calculator struct {
	solver    *solver.Solver
	processor *processing.Processor
	prepare   processing.PrepareOptions
	minSize   int
}

// New creates a Calculator, building the backend client from opts
func New(opts Options) (*Calculator, error) {
	c, err := NewClient(opts.Backend, opts.URL, opts.APIKey)
	if err != nil {
		return nil, err
	}
	return NewWithClient(c, opts), nil
}

// NewWithClient creates a Calculator on top of an existing vision client
func NewWithClient(c client.VisionClient, opts Options) *Calculator {
	if opts.Image.Format == "" {
		opts.Image = processing.DefaultPrepareOptions()
	}
	if opts.MinImageSize < 1 {
		opts.MinImageSize = 1
	}

	return &Calculator{
		solver: solver.New(c, opts.Model,
			solver.WithPrompt(opts.Prompt),
			solver.WithLogger(opts.Logger),
			solver.WithArithmeticCheck(opts.VerifyArithmetic),
		),
		processor: processing.NewProcessor(),
		prepare:   opts.Image,
		minSize:   opts.MinImageSize,
	}
}

// NewClient creates the vision client for a backend name. url overrides the backend's
// default endpoint.
func NewClient(backend, url, apiKey string) (client.VisionClient, error) {
	switch backend {
	case "", config.BackendGemini:
		var opts []gemini.Option
		if url != "" {
			opts = append(opts, gemini.WithBaseURL(url))
		}
		return gemini.NewClient(apiKey, opts...), nil
	case config.BackendOllama:
		c, err := ollama.NewClient(url)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return c, nil
	case config.BackendOpenAI:
		return openaicompat.NewClient(apiKey, url), nil
	default:
		return nil, fmt.Errorf("unknown backend: %s (use gemini, ollama or openai)", backend)
	}
}

// Analyze solves a decoded canvas image
func (c *Calculator) Analyze(ctx context.Context, img image.Image, vars types.Variables) ([]types.Record, error) {
	if err := c.processor.ValidateImage(img, c.minSize); err != nil {
		return c.solver.Reject(err)
	}

	imgB64, mimeType, err := c.processor.PrepareImageForModel(img, c.prepare)
	if err != nil {
		return c.solver.Reject(err)
	}

	return c.solver.Solve(ctx, imgB64, mimeType, vars)
}

// AnalyzeDataURL solves a canvas sent as a base64 data URL
func (c *Calculator) AnalyzeDataURL(ctx context.Context, dataURL string, vars types.Variables) ([]types.Record, error) {
	img, err := c.processor.DecodeDataURL(dataURL)
	if err != nil {
		return c.solver.Reject(err)
	}
	return c.Analyze(ctx, img, vars)
}

// AnalyzeFile solves a canvas loaded from a file path, an http(s) URL or a data URL
func (c *Calculator) AnalyzeFile(ctx context.Context, source string, vars types.Variables) ([]types.Record, error) {
	img, err := c.processor.LoadImageSmart(source)
	if err != nil {
		return c.solver.Reject(err)
	}
	return c.Analyze(ctx, img, vars)
}

// Probe asks the model to describe the canvas, to check the backend can see images
func (c *Calculator) Probe(ctx context.Context, img image.Image) (string, error) {
	imgB64, mimeType, err := c.processor.PrepareImageForModel(img, c.prepare)
	if err != nil {
		return "", types.NewError(types.KindInput, "prepare", err)
	}
	return c.solver.Probe(ctx, imgB64, mimeType)
}

// Backend returns the name of the vision backend in use
func (c *Calculator) Backend() string {
	return c.solver.Backend()
}

// Model returns the configured model id
func (c *Calculator) Model() string {
	return c.solver.Model()
}

// Version returns the library version
func Version() string {
	return version.BuildVersion
}
