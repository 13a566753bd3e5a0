// Package render produces one artifact per output format from a validated
// export payload. Renderers write into a per-job scratch directory and
// return the path of the file they produced.
package render

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/mstrycker/docexport/internal/core"
	"github.com/mstrycker/docexport/internal/domain/model"
	apperrors "github.com/mstrycker/docexport/internal/errors"
)

// Registry maps each supported format to its renderer. The format set is
// closed; admission rejects anything outside it, so a miss here is a bug.
type Registry struct {
	renderers map[model.Format]core.Renderer
}

// RegistryConfig holds configuration options for the renderer registry.
type RegistryConfig struct {
	// ConverterBin is the LibreOffice binary used for PDF conversion.
	ConverterBin string
}

// NewRegistry builds the full renderer set.
func NewRegistry(cfg RegistryConfig) *Registry {
	docx := &DocxRenderer{}
	return &Registry{
		renderers: map[model.Format]core.Renderer{
			model.FormatDOCX: docx,
			model.FormatXLSX: &XlsxRenderer{},
			model.FormatTXT:  &TextRenderer{},
			model.FormatPDF:  &PDFRenderer{Docx: docx, ConverterBin: cfg.ConverterBin},
			model.FormatPPTX: &PptxRenderer{},
		},
	}
}

// ForFormat returns the renderer for a format.
func (r *Registry) ForFormat(f model.Format) (core.Renderer, error) {
	renderer, ok := r.renderers[f]
	if !ok {
		return nil, apperrors.Internal(fmt.Sprintf("no renderer registered for format %q", f))
	}
	return renderer, nil
}

// Render produces the artifact for one format.
func (r *Registry) Render(ctx context.Context, f model.Format, req *model.ExportRequest, dir string) (string, error) {
	renderer, err := r.ForFormat(f)
	if err != nil {
		return "", err
	}
	return renderer.Render(ctx, req, dir)
}

func escapeXML(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return ""
	}
	return b.String()
}

// stringifyCell renders a table cell value the way it appears in every
// output format. Nil renders as empty, not "<nil>".
func stringifyCell(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; keep integral values undecorated.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
