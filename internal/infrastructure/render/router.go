// Package render turns structured generation input into document bytes.
package render

import (
	"context"
	"strings"

	"github.com/garyjia/taxcredit-docflow/internal/application/port"
)

const (
	PrefixXLSX = "xlsx:"
	PrefixPDF  = "pdf:"
)

// Router picks a renderer by template id prefix. Ids without a known prefix go
// to the PDF renderer.
type Router struct {
	pdf  port.Renderer
	xlsx port.Renderer
}

// NewRouter creates a Router. xlsx may be nil when spreadsheets are not used.
func NewRouter(pdf, xlsx port.Renderer) *Router {
	return &Router{pdf: pdf, xlsx: xlsx}
}

func (r *Router) Render(ctx context.Context, templateID string, data map[string]interface{}) (*port.RenderedDocument, error) {
	if strings.HasPrefix(templateID, PrefixXLSX) && r.xlsx != nil {
		return r.xlsx.Render(ctx, templateID, data)
	}
	return r.pdf.Render(ctx, templateID, data)
}

var _ port.Renderer = (*Router)(nil)
