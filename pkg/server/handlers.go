package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/menta2k/canvas-calc/internal/version"
	"github.com/menta2k/canvas-calc/pkg/types"
)

// CalculateRequest is the body of POST /calculate. Image is a data URL as produced by
// canvas.toDataURL; DictOfVars holds the assignments collected so far.
type CalculateRequest struct {
	Image      string          `json:"image" binding:"required"`
	DictOfVars types.Variables `json:"dict_of_vars"`
}

// CalculateResponse is returned by POST /calculate, both on success and failure
type CalculateResponse struct {
	Message string         `json:"message"`
	Data    []types.Record `json:"data"`
	Status  string         `json:"status"`
	Kind    string         `json:"kind,omitempty"`
}

// Handlers serves the API endpoints
type Handlers struct {
	service  string
	analyzer Analyzer
}

// NewHandlers creates the endpoint handlers
func NewHandlers(service string, analyzer Analyzer) *Handlers {
	return &Handlers{service: service, analyzer: analyzer}
}

// Health reports liveness plus backend and build information
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"backend": h.analyzer.Backend(),
		"model":   h.analyzer.Model(),
		"build":   version.Get(h.service),
	})
}

// Calculate solves one canvas
func (h *Handlers) Calculate(c *gin.Context) {
	var req CalculateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, CalculateResponse{
			Message: "invalid request: " + err.Error(),
			Data:    []types.Record{},
			Status:  "error",
			Kind:    types.KindInput.String(),
		})
		return
	}

	records, err := h.analyzer.AnalyzeDataURL(c.Request.Context(), req.Image, req.DictOfVars)
	if err != nil {
		c.JSON(statusFor(c.Request.Context(), err), CalculateResponse{
			Message: err.Error(),
			Data:    []types.Record{},
			Status:  "error",
			Kind:    kindName(err),
		})
		return
	}
	if records == nil {
		records = []types.Record{}
	}

	c.JSON(http.StatusOK, CalculateResponse{
		Message: "Image processed",
		Data:    records,
		Status:  "success",
	})
}

func statusFor(ctx context.Context, err error) int {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch types.KindOf(err) {
	case types.KindInput:
		return http.StatusBadRequest
	case types.KindParse:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func kindName(err error) string {
	if kind := types.KindOf(err); kind != 0 {
		return kind.String()
	}
	return types.KindTransport.String()
}
