package solver

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"

	"github.com/menta2k/canvas-calc/pkg/client"
	"github.com/menta2k/canvas-calc/pkg/metrics"
	"github.com/menta2k/canvas-calc/pkg/parser"
	"github.com/menta2k/canvas-calc/pkg/types"
)

// Solver turns a canvas image plus the user's variables into records using a vision model
type Solver struct {
	client     client.VisionClient
	model      string
	prompt     string
	arithmetic bool
	log        log.Interface
}

// Option customizes a Solver
type Option func(*Solver)

// WithPrompt replaces DefaultPrompt. See BuildPrompt for placeholder handling.
func WithPrompt(template string) Option {
	return func(s *Solver) {
		if template != "" {
			s.prompt = template
		}
	}
}

// WithLogger sets the logger for diagnostic lines
func WithLogger(l log.Interface) Option {
	return func(s *Solver) {
		if l != nil {
			s.log = l
		}
	}
}

// WithArithmeticCheck recomputes pure arithmetic results locally and overrides the model
// when they disagree
func WithArithmeticCheck(enabled bool) Option {
	return func(s *Solver) {
		s.arithmetic = enabled
	}
}

// New creates a Solver for the given backend and model
func New(c client.VisionClient, model string, opts ...Option) *Solver {
	s := &Solver{
		client: c,
		model:  model,
		prompt: DefaultPrompt,
		log:    log.Log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the name of the underlying vision client
func (s *Solver) Backend() string {
	return s.client.Name()
}

// Model returns the configured model id, which may be empty for the backend default
func (s *Solver) Model() string {
	return s.model
}

// Solve sends the image and the prompt in a single call and decodes the reply.
//
// On failure it returns an empty, non-nil slice together with a *types.Error, and logs
// one line. On success it logs the raw reply and the parsed records.
func (s *Solver) Solve(ctx context.Context, imgB64, mimeType string, vars types.Variables) ([]types.Record, error) {
	started := time.Now()
	backend := s.client.Name()
	logger := s.log.WithFields(log.Fields{
		"backend": backend,
		"model":   s.model,
	})

	if imgB64 == "" {
		return s.fail(logger, backend, started, types.Errorf(types.KindInput, "solve", "no image"))
	}

	prompt := BuildPrompt(s.prompt, vars)

	raw, err := s.client.SimpleQuery(ctx, s.model, prompt, imgB64, mimeType)
	if err != nil {
		return s.fail(logger, backend, started, classify(err))
	}
	compacted := parser.Compact(raw)

	records, err := parser.ParseRecords(raw)
	if err != nil {
		return s.fail(logger.WithField("raw", compacted), backend, started, types.NewError(types.KindParse, "parse", err))
	}
	logger.WithField("raw", compacted).Info("model reply")

	corrected := 0
	if s.arithmetic {
		corrected = checkArithmetic(records, vars)
	}

	logger.WithFields(log.Fields{
		"count":     len(records),
		"records":   fmt.Sprint(records),
		"corrected": corrected,
	}).Info("parsed records")

	metrics.ObserveSolve(backend, "success", started, len(records))
	return records, nil
}

// Probe asks the model for a plain description, to check it can actually see the image
func (s *Solver) Probe(ctx context.Context, imgB64, mimeType string) (string, error) {
	text, err := s.client.SimpleQuery(ctx, s.model, SimpleTestPrompt, imgB64, mimeType)
	if err != nil {
		return "", classify(err)
	}
	return text, nil
}

// Reject reports a failure that happened before the model could be called, such as an
// undecodable upload, with the same log line and metrics as Solve. Unclassified errors are
// treated as input errors.
func (s *Solver) Reject(err error) ([]types.Record, error) {
	e, ok := err.(*types.Error)
	if !ok {
		kind := types.KindOf(err)
		if kind == 0 {
			kind = types.KindInput
		}
		e = types.NewError(kind, "prepare", err)
	}
	logger := s.log.WithFields(log.Fields{
		"backend": s.client.Name(),
		"model":   s.model,
	})
	return s.fail(logger, s.client.Name(), time.Now(), e)
}

func (s *Solver) fail(logger log.Interface, backend string, started time.Time, err *types.Error) ([]types.Record, error) {
	logger.WithError(err).WithField("kind", err.Kind.String()).Error("analysis failed")
	metrics.ObserveSolve(backend, err.Kind.String(), started, 0)
	return []types.Record{}, err
}

// classify keeps backend classifications and files anything unclassified under transport
func classify(err error) *types.Error {
	if e, ok := err.(*types.Error); ok {
		return e
	}
	if kind := types.KindOf(err); kind != 0 {
		return types.NewError(kind, "solve", err)
	}
	return types.NewError(types.KindTransport, "solve", err)
}
