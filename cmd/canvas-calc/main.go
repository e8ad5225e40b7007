package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"

	canvascalc "github.com/menta2k/canvas-calc"
	"github.com/menta2k/canvas-calc/internal/config"
	"github.com/menta2k/canvas-calc/internal/logging"
	"github.com/menta2k/canvas-calc/internal/utils"
	"github.com/menta2k/canvas-calc/internal/version"
	"github.com/menta2k/canvas-calc/pkg/processing"
	"github.com/menta2k/canvas-calc/pkg/types"
)

// fileResult is one entry of results.json
type fileResult struct {
	File    string         `json:"file"`
	Records []types.Record `json:"records"`
	Error   string         `json:"error,omitempty"`
	Kind    string         `json:"kind,omitempty"`
}

func main() {
	var in, outDir, configPath, saveConfig string
	var varsJSON, varsFile string
	var backend, model, url string
	var dbgext string
	var debug, probe, verify, showVersion bool

	flag.StringVar(&in, "in", "", "canvas image: file path, directory, http(s) URL or data URL")
	flag.StringVar(&outDir, "out", "", "output directory for results.json and debug images")
	flag.StringVar(&configPath, "config", "", "config file (default: "+config.GetConfigPath()+" if present)")
	flag.StringVar(&saveConfig, "save-config", "", "write the effective config to this file and exit")

	flag.StringVar(&varsJSON, "vars", "", `variables as a JSON object, e.g. '{"x": 5}'`)
	flag.StringVar(&varsFile, "vars-file", "", "file holding the variables JSON object")

	flag.StringVar(&backend, "backend", "", "backend to use: gemini, ollama or openai")
	flag.StringVar(&model, "model", "", "model name (default depends on the backend)")
	flag.StringVar(&url, "url", "", "backend base URL override")

	flag.BoolVar(&debug, "debug", false, "write the model payload and an ink overlay for each input (needs -out)")
	flag.StringVar(&dbgext, "dbgext", "png", "debug overlay format: png|jpg|webp")
	flag.BoolVar(&probe, "probe", false, "ask the model to describe the image instead of solving it")
	flag.BoolVar(&verify, "verify", false, "recompute plain arithmetic locally and correct the model")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")

	flag.Parse()

	if showVersion {
		fmt.Println(version.Get("canvas-calc"))
		return
	}

	if configPath == "" && utils.FileExists(config.GetConfigPath()) {
		configPath = config.GetConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg.SelectBackend(backend)
	if model != "" {
		cfg.Backend.Model = model
	}
	if url != "" {
		cfg.Backend.URL = url
	}
	if verify {
		cfg.Solver.VerifyArithmetic = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	logging.Install(logger)

	if saveConfig != "" {
		if err := cfg.SaveToFile(saveConfig); err != nil {
			log.Fatalf("save config: %v", err)
		}
		log.Infof("wrote %s", saveConfig)
		return
	}

	if in == "" {
		log.Fatalf("usage: %s -in canvas.png|dir|URL [-vars '{\"x\":5}'] [-backend gemini|ollama|openai] [-model name] [-out outdir] [-debug]", filepath.Base(os.Args[0]))
	}

	vars, err := loadVariables(varsJSON, varsFile)
	if err != nil {
		log.Fatalf("variables: %v", err)
	}

	opts, err := canvascalc.OptionsFromConfig(cfg)
	if err != nil {
		log.Fatalf("options: %v", err)
	}
	opts.Logger = logger

	calc, err := canvascalc.New(opts)
	if err != nil {
		log.Fatalf("Failed to create calculator: %v", err)
	}

	if outDir != "" {
		if err := utils.EnsureDir(outDir); err != nil {
			log.Fatal(err.Error())
		}
	} else if debug {
		log.Fatalf("-debug needs -out")
	}

	inputs := []string{in}
	if utils.DirExists(in) {
		if inputs, err = utils.ListImageFiles(in); err != nil {
			log.Fatal(err.Error())
		}
		if len(inputs) == 0 {
			log.Fatalf("no images found in %s", in)
		}
	}

	processor := processing.NewProcessor()
	var results []fileResult
	failed := 0

	for _, input := range inputs {
		img, err := processor.LoadImageSmart(input)
		if err != nil {
			results = append(results, failure(input, []types.Record{}, types.NewError(types.KindInput, "load", err)))
			failed++
			continue
		}

		if debug {
			writeDebugImages(processor, img, input, outDir, dbgext, opts)
		}

		ctx, cancel := withTimeout(cfg)
		if probe {
			text, err := calc.Probe(ctx, img)
			cancel()
			if err != nil {
				log.WithError(err).Errorf("probe %s failed", input)
				failed++
				continue
			}
			fmt.Printf("%s: %s\n", input, strings.TrimSpace(text))
			continue
		}

		records, err := calc.Analyze(ctx, img, vars)
		cancel()
		if err != nil {
			results = append(results, failure(input, records, err))
			failed++
			continue
		}

		fmt.Printf("%s:\n", input)
		for _, r := range records {
			fmt.Printf("  %s\n", r)
		}
		results = append(results, fileResult{File: input, Records: records})

		// Later canvases see the assignments made by earlier ones.
		vars = applyAssignments(vars, records)
	}

	if outDir != "" && !probe {
		out := struct {
			Results   []fileResult    `json:"results"`
			Variables types.Variables `json:"variables"`
		}{results, vars}
		js, _ := json.MarshalIndent(out, "", "  ")
		path := filepath.Join(outDir, "results.json")
		if err := os.WriteFile(path, js, 0o644); err != nil {
			log.Errorf("write %s: %v", path, err)
		} else {
			log.Infof("wrote %s", path)
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func loadVariables(inline, file string) (types.Variables, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		return types.ParseVariables(data)
	}
	return types.ParseVariables([]byte(inline))
}

// applyAssignments returns vars extended with every assign record
func applyAssignments(vars types.Variables, records []types.Record) types.Variables {
	out := vars.Clone()
	for _, r := range records {
		if r.Assign && r.Expr != "" {
			out[r.Expr] = r.Result
		}
	}
	return out
}

func failure(input string, records []types.Record, err error) fileResult {
	fmt.Fprintf(os.Stderr, "%s: %v\n", input, err)
	return fileResult{
		File:    input,
		Records: records,
		Error:   err.Error(),
		Kind:    types.KindOf(err).String(),
	}
}

func withTimeout(cfg *config.Config) (context.Context, context.CancelFunc) {
	if d := cfg.SolveTimeout(); d > 0 {
		return context.WithTimeout(context.Background(), d)
	}
	return context.WithCancel(context.Background())
}

// writeDebugImages saves the exact payload sent to the model and the canvas with its ink
// box drawn on top
func writeDebugImages(p *processing.Processor, img image.Image, input, outDir, dbgext string, opts canvascalc.Options) {
	imgB64, mimeType, err := p.PrepareImageForModel(img, opts.Image)
	if err != nil {
		log.Errorf("prepare %s failed: %v", input, err)
		return
	}
	payload, _ := base64.StdEncoding.DecodeString(imgB64)
	ext := "png"
	if mimeType == "image/jpeg" {
		ext = "jpg"
	}
	payloadPath := utils.GenerateOutputFilename(input, outDir, "", "_payload", ext)
	if err := os.WriteFile(payloadPath, payload, 0o644); err != nil {
		log.Errorf("payload save failed: %v", err)
	} else {
		log.Infof("wrote %s (%s)", payloadPath, utils.FormatFileSize(int64(len(payload))))
	}

	overlay := p.CreateDebugOverlay(img, opts.Image.Padding)
	dbgPath := utils.GenerateOutputFilename(input, outDir, "", "_debug", strings.ToLower(dbgext))
	if err := p.SaveImage(overlay, dbgPath, dbgext, 92, false); err != nil {
		log.Errorf("debug overlay save failed: %v", err)
	} else {
		log.Infof("wrote %s", dbgPath)
	}
}
