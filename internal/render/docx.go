package render

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mstrycker/docexport/internal/domain/model"
	apperrors "github.com/mstrycker/docexport/internal/errors"
)

const docxContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

const docxRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

// DocxRenderer writes a WordprocessingML document. The "summary" template
// renders the narrative parts only; "full_report" (the default) includes
// tables as well.
type DocxRenderer struct{}

// Render writes report.docx into dir.
func (r *DocxRenderer) Render(ctx context.Context, req *model.ExportRequest, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(dir, "report.docx")
	f, err := os.Create(path)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeStorage, "create docx file")
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	parts := map[string]string{
		"[Content_Types].xml": docxContentTypes,
		"_rels/.rels":         docxRels,
		"word/document.xml":   buildDocumentXML(req),
	}
	for _, name := range []string{"[Content_Types].xml", "_rels/.rels", "word/document.xml"} {
		w, createErr := zw.Create(name)
		if createErr != nil {
			return "", apperrors.Wrapf(createErr, apperrors.ErrCodeStorage, "create docx part %s", name)
		}
		if _, writeErr := w.Write([]byte(parts[name])); writeErr != nil {
			return "", apperrors.Wrapf(writeErr, apperrors.ErrCodeStorage, "write docx part %s", name)
		}
	}
	if closeErr := zw.Close(); closeErr != nil {
		return "", apperrors.Wrap(closeErr, apperrors.ErrCodeStorage, "finalize docx file")
	}
	if syncErr := f.Close(); syncErr != nil {
		return "", apperrors.Wrap(syncErr, apperrors.ErrCodeStorage, "close docx file")
	}
	return path, nil
}

func buildDocumentXML(req *model.ExportRequest) string {
	lang := runLang(req.Options.Locale)

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	b.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)

	writeHeading(&b, req.Title, 32, lang)
	if req.Summary != "" {
		writeParagraph(&b, strings.TrimSpace(req.Summary), lang)
	}
	for _, s := range req.Sections {
		writeHeading(&b, s.Heading, 26, lang)
		writeParagraph(&b, strings.TrimSpace(s.Body), lang)
	}
	if req.Options.Template != "summary" {
		for _, t := range req.Tables {
			writeHeading(&b, t.Name, 24, lang)
			writeDocxTable(&b, t, lang)
		}
	}

	b.WriteString(sectionProperties(req.Options.PageOrientation))
	b.WriteString(`</w:body></w:document>`)
	return b.String()
}

func writeHeading(b *strings.Builder, text string, halfPoints int, lang string) {
	fmt.Fprintf(b,
		`<w:p><w:r><w:rPr><w:b/><w:sz w:val="%d"/><w:lang w:val="%s"/></w:rPr><w:t xml:space="preserve">%s</w:t></w:r></w:p>`,
		halfPoints, lang, escapeXML(strings.TrimSpace(text)))
}

func writeParagraph(b *strings.Builder, text, lang string) {
	fmt.Fprintf(b,
		`<w:p><w:r><w:rPr><w:lang w:val="%s"/></w:rPr><w:t xml:space="preserve">%s</w:t></w:r></w:p>`,
		lang, escapeXML(text))
}

func writeDocxTable(b *strings.Builder, t model.Table, lang string) {
	b.WriteString(`<w:tbl><w:tblPr><w:tblBorders>` +
		`<w:top w:val="single"/><w:bottom w:val="single"/>` +
		`<w:left w:val="single"/><w:right w:val="single"/>` +
		`<w:insideH w:val="single"/><w:insideV w:val="single"/>` +
		`</w:tblBorders></w:tblPr>`)

	b.WriteString(`<w:tr>`)
	for _, col := range t.Columns {
		fmt.Fprintf(b,
			`<w:tc><w:p><w:r><w:rPr><w:b/><w:lang w:val="%s"/></w:rPr><w:t xml:space="preserve">%s</w:t></w:r></w:p></w:tc>`,
			lang, escapeXML(col))
	}
	b.WriteString(`</w:tr>`)

	for _, row := range t.Rows {
		b.WriteString(`<w:tr>`)
		for _, col := range t.Columns {
			fmt.Fprintf(b,
				`<w:tc><w:p><w:r><w:rPr><w:lang w:val="%s"/></w:rPr><w:t xml:space="preserve">%s</w:t></w:r></w:p></w:tc>`,
				lang, escapeXML(stringifyCell(row[col])))
		}
		b.WriteString(`</w:tr>`)
	}
	b.WriteString(`</w:tbl><w:p/>`)
}

// sectionProperties emits page size in twentieths of a point. A4 portrait is
// 11906x16838; landscape swaps the dimensions.
func sectionProperties(orientation string) string {
	if orientation == "landscape" {
		return `<w:sectPr><w:pgSz w:w="16838" w:h="11906" w:orient="landscape"/></w:sectPr>`
	}
	return `<w:sectPr><w:pgSz w:w="11906" w:h="16838"/></w:sectPr>`
}
