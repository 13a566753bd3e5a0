package render

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/mstrycker/docexport/internal/domain/model"
	apperrors "github.com/mstrycker/docexport/internal/errors"
)

// PDFRenderer converts a rendered document to PDF with a headless LibreOffice
// subprocess, then validates the result. The subprocess inherits the render
// context, so a job timeout kills the conversion.
type PDFRenderer struct {
	Docx         *DocxRenderer
	ConverterBin string
}

// Render writes report.pdf into dir.
func (r *PDFRenderer) Render(ctx context.Context, req *model.ExportRequest, dir string) (string, error) {
	docxPath, err := r.docxSource(ctx, req, dir)
	if err != nil {
		return "", err
	}

	bin := r.ConverterBin
	if bin == "" {
		bin = "soffice"
	}
	executable, err := exec.LookPath(bin)
	if err != nil {
		return "", apperrors.RenderTransientf("pdf converter %q is not installed", bin)
	}

	// A throwaway profile dir keeps concurrent conversions from fighting
	// over the default user profile lock.
	profileDir := filepath.Join(dir, ".soffice-profile")
	cmd := exec.CommandContext(ctx, executable,
		"--headless",
		"-env:UserInstallation=file://"+profileDir,
		"--convert-to", "pdf",
		"--outdir", dir,
		docxPath,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if runErr := cmd.Run(); runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", apperrors.Wrapf(runErr, apperrors.ErrCodeRenderTransient,
			"pdf conversion failed: %s", strings.TrimSpace(stderr.String()))
	}

	pdfPath := filepath.Join(dir, strings.TrimSuffix(filepath.Base(docxPath), ".docx")+".pdf")
	if _, statErr := os.Stat(pdfPath); statErr != nil {
		return "", apperrors.RenderTransientf("pdf conversion produced no output for %s", filepath.Base(docxPath))
	}

	if validateErr := pdfapi.ValidateFile(pdfPath, nil); validateErr != nil {
		return "", apperrors.Wrap(validateErr, apperrors.ErrCodeRenderPermanent, "converted pdf failed validation")
	}
	return pdfPath, nil
}

// docxSource reuses an already rendered report.docx when the job requested
// both formats, otherwise renders one for conversion only.
func (r *PDFRenderer) docxSource(ctx context.Context, req *model.ExportRequest, dir string) (string, error) {
	existing := filepath.Join(dir, "report.docx")
	if _, err := os.Stat(existing); err == nil {
		return existing, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", apperrors.Wrap(err, apperrors.ErrCodeStorage, "stat docx source")
	}

	srcDir := filepath.Join(dir, ".pdf-src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeStorage, "create pdf source dir")
	}
	return r.Docx.Render(ctx, req, srcDir)
}
