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

const xlsxRootRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="xl/workbook.xml"/>
</Relationships>`

// XlsxRenderer writes a SpreadsheetML workbook with one sheet per table.
// Cells use inline strings so no shared-strings part is needed.
type XlsxRenderer struct{}

// Render writes tables.xlsx into dir. A payload without tables still yields
// a workbook with a single empty sheet; every requested format produces an
// artifact.
func (r *XlsxRenderer) Render(ctx context.Context, req *model.ExportRequest, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tables := req.Tables
	if len(tables) == 0 {
		tables = []model.Table{{Name: "Sheet1"}}
	}
	names := sheetNames(tables)

	path := filepath.Join(dir, "tables.xlsx")
	f, err := os.Create(path)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeStorage, "create xlsx file")
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	parts := []struct {
		name    string
		content string
	}{
		{"[Content_Types].xml", xlsxContentTypes(len(tables))},
		{"_rels/.rels", xlsxRootRels},
		{"xl/workbook.xml", xlsxWorkbook(names)},
		{"xl/_rels/workbook.xml.rels", xlsxWorkbookRels(len(tables))},
	}
	for i, t := range tables {
		parts = append(parts, struct {
			name    string
			content string
		}{fmt.Sprintf("xl/worksheets/sheet%d.xml", i+1), xlsxSheet(t)})
	}

	for _, p := range parts {
		w, createErr := zw.Create(p.name)
		if createErr != nil {
			return "", apperrors.Wrapf(createErr, apperrors.ErrCodeStorage, "create xlsx part %s", p.name)
		}
		if _, writeErr := w.Write([]byte(p.content)); writeErr != nil {
			return "", apperrors.Wrapf(writeErr, apperrors.ErrCodeStorage, "write xlsx part %s", p.name)
		}
	}
	if closeErr := zw.Close(); closeErr != nil {
		return "", apperrors.Wrap(closeErr, apperrors.ErrCodeStorage, "finalize xlsx file")
	}
	if syncErr := f.Close(); syncErr != nil {
		return "", apperrors.Wrap(syncErr, apperrors.ErrCodeStorage, "close xlsx file")
	}
	return path, nil
}

func xlsxContentTypes(sheets int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	b.WriteString(`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">`)
	b.WriteString(`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>`)
	b.WriteString(`<Default Extension="xml" ContentType="application/xml"/>`)
	b.WriteString(`<Override PartName="/xl/workbook.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.sheet.main+xml"/>`)
	for i := 1; i <= sheets; i++ {
		fmt.Fprintf(&b,
			`<Override PartName="/xl/worksheets/sheet%d.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.worksheet+xml"/>`, i)
	}
	b.WriteString(`</Types>`)
	return b.String()
}

func xlsxWorkbook(names []string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	b.WriteString(`<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"` +
		` xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"><sheets>`)
	for i, name := range names {
		fmt.Fprintf(&b, `<sheet name="%s" sheetId="%d" r:id="rId%d"/>`, escapeXML(name), i+1, i+1)
	}
	b.WriteString(`</sheets></workbook>`)
	return b.String()
}

func xlsxWorkbookRels(sheets int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	b.WriteString(`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)
	for i := 1; i <= sheets; i++ {
		fmt.Fprintf(&b,
			`<Relationship Id="rId%d" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet%d.xml"/>`,
			i, i)
	}
	b.WriteString(`</Relationships>`)
	return b.String()
}

func xlsxSheet(t model.Table) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	b.WriteString(`<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><sheetData>`)

	rowNum := 1
	if len(t.Columns) > 0 {
		writeXlsxRow(&b, rowNum, t.Columns)
		rowNum++
	}
	for _, row := range t.Rows {
		values := make([]string, len(t.Columns))
		for i, col := range t.Columns {
			values[i] = stringifyCell(row[col])
		}
		writeXlsxRow(&b, rowNum, values)
		rowNum++
	}

	b.WriteString(`</sheetData></worksheet>`)
	return b.String()
}

func writeXlsxRow(b *strings.Builder, rowNum int, values []string) {
	fmt.Fprintf(b, `<row r="%d">`, rowNum)
	for i, v := range values {
		fmt.Fprintf(b, `<c r="%s%d" t="inlineStr"><is><t xml:space="preserve">%s</t></is></c>`,
			columnLetter(i), rowNum, escapeXML(v))
	}
	b.WriteString(`</row>`)
}

func columnLetter(idx int) string {
	name := ""
	idx++
	for idx > 0 {
		idx--
		name = string(rune('A'+idx%26)) + name
		idx /= 26
	}
	return name
}

// sheetNames derives valid, unique worksheet names. Excel caps names at 31
// characters and forbids a handful of characters.
func sheetNames(tables []model.Table) []string {
	forbidden := strings.NewReplacer(`[`, "_", `]`, "_", `:`, "_", `*`, "_", `?`, "_", `/`, "_", `\`, "_")
	seen := make(map[string]int, len(tables))
	names := make([]string, len(tables))
	for i, t := range tables {
		name := forbidden.Replace(strings.TrimSpace(t.Name))
		if len(name) > 31 {
			name = name[:31]
		}
		if name == "" {
			name = fmt.Sprintf("Sheet%d", i+1)
		}
		base := name
		for n := seen[base]; seen[name] > 0; n++ {
			suffix := fmt.Sprintf(" (%d)", n+1)
			name = base
			if len(name)+len(suffix) > 31 {
				name = name[:31-len(suffix)]
			}
			name += suffix
		}
		seen[base]++
		if name != base {
			seen[name]++
		}
		names[i] = name
	}
	return names
}
