package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"github.com/garyjia/taxcredit-docflow/internal/application/port"
)

const (
	MimeTypePDF = "application/pdf"

	maxRenderedSize = 50 << 20
)

// ErrInvalidPDF is returned when the render service answers with bytes that
// are not a readable PDF
var ErrInvalidPDF = errors.New("render service returned an invalid pdf")

type renderRequest struct {
	TemplateID string                 `json:"template_id"`
	Data       map[string]interface{} `json:"data"`
}

// HTTPRenderer calls a remote PDF render service and validates its output
type HTTPRenderer struct {
	serviceURL string
	client     *http.Client
	logger     *zap.Logger
}

// NewHTTPRenderer creates an HTTPRenderer posting to {serviceURL}/render
func NewHTTPRenderer(serviceURL string, timeout time.Duration, logger *zap.Logger) *HTTPRenderer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPRenderer{
		serviceURL: strings.TrimRight(serviceURL, "/"),
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (r *HTTPRenderer) Render(ctx context.Context, templateID string, data map[string]interface{}) (*port.RenderedDocument, error) {
	body, err := json.Marshal(renderRequest{TemplateID: strings.TrimPrefix(templateID, PrefixPDF), Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serviceURL+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", MimeTypePDF)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render request failed: %w", err)
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxRenderedSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read render response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("render service returned %d: %s", resp.StatusCode, truncate(string(content), 200))
	}
	if len(content) > maxRenderedSize {
		return nil, fmt.Errorf("rendered document exceeds %d bytes", maxRenderedSize)
	}

	pages, err := validatePDF(content)
	if err != nil {
		r.logger.Error("Render service returned unreadable PDF",
			zap.String("template_id", templateID),
			zap.Int("size", len(content)),
			zap.Error(err))
		return nil, err
	}

	r.logger.Debug("Document rendered",
		zap.String("template_id", templateID),
		zap.Int("pages", pages),
		zap.Int("size", len(content)))
	return &port.RenderedDocument{Content: content, MimeType: MimeTypePDF}, nil
}

// validatePDF parses the document in relaxed mode and returns its page count
func validatePDF(content []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.Validate(bytes.NewReader(content), conf); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	pages, err := api.PageCount(bytes.NewReader(content), conf)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	if pages == 0 {
		return 0, fmt.Errorf("%w: no pages", ErrInvalidPDF)
	}
	return pages, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ port.Renderer = (*HTTPRenderer)(nil)
