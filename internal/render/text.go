package render

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/mstrycker/docexport/internal/domain/model"
	apperrors "github.com/mstrycker/docexport/internal/errors"
)

// TextRenderer writes a human-readable plain-text report.
type TextRenderer struct{}

// Render writes report.txt into dir.
func (r *TextRenderer) Render(ctx context.Context, req *model.ExportRequest, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(dir, "report.txt")
	content := strings.Join(buildTextLines(req), "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeStorage, "write text report")
	}
	return path, nil
}

func buildTextLines(req *model.ExportRequest) []string {
	var lines []string

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Export"
	}
	lines = append(lines, title, strings.Repeat("=", len(title)), "")

	if req.Summary != "" {
		lines = append(lines, "Summary:", strings.TrimSpace(req.Summary), "")
	}

	if len(req.Sections) > 0 {
		lines = append(lines, "Sections:")
		for _, s := range req.Sections {
			lines = append(lines, "- "+strings.TrimSpace(s.Heading), strings.TrimSpace(s.Body), "")
		}
	}

	if len(req.Tables) > 0 {
		lines = append(lines, "Tables:")
		for _, t := range req.Tables {
			lines = append(lines, "- "+t.Name)
			if len(t.Columns) > 0 {
				lines = append(lines, "  | "+strings.Join(t.Columns, " | ")+" |")
			}
			for _, row := range t.Rows {
				values := make([]string, len(t.Columns))
				for i, col := range t.Columns {
					values[i] = stringifyCell(row[col])
				}
				lines = append(lines, "  | "+strings.Join(values, " | ")+" |")
			}
			lines = append(lines, "")
		}
	}

	return lines
}
