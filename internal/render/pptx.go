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

const (
	drawingNS      = "http://schemas.openxmlformats.org/drawingml/2006/main"
	presentationNS = "http://schemas.openxmlformats.org/presentationml/2006/main"
	relationNS     = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
)

const pptxRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="ppt/presentation.xml"/>
</Relationships>`

const pptxSlideMaster = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:sldMaster xmlns:a="` + drawingNS + `" xmlns:p="` + presentationNS + `" xmlns:r="` + relationNS + `">
<p:cSld><p:spTree><p:nvGrpSpPr><p:cNvPr id="1" name=""/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr><p:grpSpPr/></p:spTree></p:cSld>
<p:clrMap bg1="lt1" tx1="dk1" bg2="lt2" tx2="dk2" accent1="accent1" accent2="accent2" accent3="accent3" accent4="accent4" accent5="accent5" accent6="accent6" hlink="hlink" folHlink="folHlink"/>
<p:sldLayoutIdLst><p:sldLayoutId id="2147483649" r:id="rId1"/></p:sldLayoutIdLst>
</p:sldMaster>`

const pptxSlideMasterRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideLayout" Target="../slideLayouts/slideLayout1.xml"/>
<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/theme" Target="../theme/theme1.xml"/>
</Relationships>`

const pptxSlideLayout = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:sldLayout xmlns:a="` + drawingNS + `" xmlns:p="` + presentationNS + `" xmlns:r="` + relationNS + `">
<p:cSld><p:spTree><p:nvGrpSpPr><p:cNvPr id="1" name=""/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr><p:grpSpPr/></p:spTree></p:cSld>
<p:clrMapOvr><a:masterClrMapping/></p:clrMapOvr>
</p:sldLayout>`

const pptxSlideLayoutRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideMaster" Target="../slideMasters/slideMaster1.xml"/>
</Relationships>`

const pptxSlideRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideLayout" Target="../slideLayouts/slideLayout1.xml"/>
</Relationships>`

const pptxTheme = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<a:theme xmlns:a="` + drawingNS + `" name="Office"><a:themeElements>
<a:clrScheme name="Office"><a:dk1><a:sysClr val="windowText" lastClr="000000"/></a:dk1><a:lt1><a:sysClr val="window" lastClr="FFFFFF"/></a:lt1><a:dk2><a:srgbClr val="44546A"/></a:dk2><a:lt2><a:srgbClr val="E7E6E6"/></a:lt2><a:accent1><a:srgbClr val="4472C4"/></a:accent1><a:accent2><a:srgbClr val="ED7D31"/></a:accent2><a:accent3><a:srgbClr val="A5A5A5"/></a:accent3><a:accent4><a:srgbClr val="FFC000"/></a:accent4><a:accent5><a:srgbClr val="5B9BD5"/></a:accent5><a:accent6><a:srgbClr val="70AD47"/></a:accent6><a:hlink><a:srgbClr val="0563C1"/></a:hlink><a:folHlink><a:srgbClr val="954F72"/></a:folHlink></a:clrScheme>
<a:fontScheme name="Office"><a:majorFont><a:latin typeface="Calibri Light"/><a:ea typeface=""/><a:cs typeface=""/></a:majorFont><a:minorFont><a:latin typeface="Calibri"/><a:ea typeface=""/><a:cs typeface=""/></a:minorFont></a:fontScheme>
<a:fmtScheme name="Office"><a:fillStyleLst><a:solidFill><a:schemeClr val="phClr"/></a:solidFill><a:solidFill><a:schemeClr val="phClr"/></a:solidFill><a:solidFill><a:schemeClr val="phClr"/></a:solidFill></a:fillStyleLst><a:lnStyleLst><a:ln><a:solidFill><a:schemeClr val="phClr"/></a:solidFill></a:ln><a:ln><a:solidFill><a:schemeClr val="phClr"/></a:solidFill></a:ln><a:ln><a:solidFill><a:schemeClr val="phClr"/></a:solidFill></a:ln></a:lnStyleLst><a:effectStyleLst><a:effectStyle><a:effectLst/></a:effectStyle><a:effectStyle><a:effectLst/></a:effectStyle><a:effectStyle><a:effectLst/></a:effectStyle></a:effectStyleLst><a:bgFillStyleLst><a:solidFill><a:schemeClr val="phClr"/></a:solidFill><a:solidFill><a:schemeClr val="phClr"/></a:solidFill><a:solidFill><a:schemeClr val="phClr"/></a:solidFill></a:bgFillStyleLst></a:fmtScheme>
</a:themeElements></a:theme>`

// PptxRenderer writes a PresentationML deck: a title slide, one slide per
// section, and one slide per table.
type PptxRenderer struct{}

// Render writes report.pptx into dir.
func (r *PptxRenderer) Render(ctx context.Context, req *model.ExportRequest, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(dir, "report.pptx")
	f, err := os.Create(path)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeStorage, "create pptx file")
	}
	defer f.Close()

	slides := buildSlides(req)

	type part struct{ name, body string }
	parts := []part{
		{"[Content_Types].xml", pptxContentTypes(len(slides))},
		{"_rels/.rels", pptxRels},
		{"ppt/presentation.xml", pptxPresentation(len(slides))},
		{"ppt/_rels/presentation.xml.rels", pptxPresentationRels(len(slides))},
		{"ppt/slideMasters/slideMaster1.xml", pptxSlideMaster},
		{"ppt/slideMasters/_rels/slideMaster1.xml.rels", pptxSlideMasterRels},
		{"ppt/slideLayouts/slideLayout1.xml", pptxSlideLayout},
		{"ppt/slideLayouts/_rels/slideLayout1.xml.rels", pptxSlideLayoutRels},
		{"ppt/theme/theme1.xml", pptxTheme},
	}
	for i, slide := range slides {
		parts = append(parts,
			part{fmt.Sprintf("ppt/slides/slide%d.xml", i+1), slide},
			part{fmt.Sprintf("ppt/slides/_rels/slide%d.xml.rels", i+1), pptxSlideRels},
		)
	}

	zw := zip.NewWriter(f)
	for _, part := range parts {
		w, createErr := zw.Create(part.name)
		if createErr != nil {
			return "", apperrors.Wrapf(createErr, apperrors.ErrCodeStorage, "create pptx part %s", part.name)
		}
		if _, writeErr := w.Write([]byte(part.body)); writeErr != nil {
			return "", apperrors.Wrapf(writeErr, apperrors.ErrCodeStorage, "write pptx part %s", part.name)
		}
	}
	if closeErr := zw.Close(); closeErr != nil {
		return "", apperrors.Wrap(closeErr, apperrors.ErrCodeStorage, "finalize pptx file")
	}
	if syncErr := f.Close(); syncErr != nil {
		return "", apperrors.Wrap(syncErr, apperrors.ErrCodeStorage, "close pptx file")
	}
	return path, nil
}

func pptxContentTypes(slideCount int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	b.WriteString(`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">`)
	b.WriteString(`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>`)
	b.WriteString(`<Default Extension="xml" ContentType="application/xml"/>`)
	b.WriteString(`<Override PartName="/ppt/presentation.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.presentation.main+xml"/>`)
	b.WriteString(`<Override PartName="/ppt/slideMasters/slideMaster1.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.slideMaster+xml"/>`)
	b.WriteString(`<Override PartName="/ppt/slideLayouts/slideLayout1.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.slideLayout+xml"/>`)
	b.WriteString(`<Override PartName="/ppt/theme/theme1.xml" ContentType="application/vnd.openxmlformats-officedocument.theme+xml"/>`)
	for i := 1; i <= slideCount; i++ {
		fmt.Fprintf(&b,
			`<Override PartName="/ppt/slides/slide%d.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.slide+xml"/>`, i)
	}
	b.WriteString(`</Types>`)
	return b.String()
}

// pptxPresentation emits the presentation part: 10x7.5in slide size, master
// rId1, slides rId2 onward.
func pptxPresentation(slideCount int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	fmt.Fprintf(&b, `<p:presentation xmlns:a="%s" xmlns:p="%s" xmlns:r="%s">`, drawingNS, presentationNS, relationNS)
	b.WriteString(`<p:sldMasterIdLst><p:sldMasterId id="2147483648" r:id="rId1"/></p:sldMasterIdLst>`)
	b.WriteString(`<p:sldIdLst>`)
	for i := 1; i <= slideCount; i++ {
		fmt.Fprintf(&b, `<p:sldId id="%d" r:id="rId%d"/>`, 255+i, i+1)
	}
	b.WriteString(`</p:sldIdLst>`)
	b.WriteString(`<p:sldSz cx="9144000" cy="6858000"/><p:notesSz cx="6858000" cy="9144000"/>`)
	b.WriteString(`</p:presentation>`)
	return b.String()
}

func pptxPresentationRels(slideCount int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	b.WriteString(`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)
	b.WriteString(`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideMaster" Target="slideMasters/slideMaster1.xml"/>`)
	for i := 1; i <= slideCount; i++ {
		fmt.Fprintf(&b,
			`<Relationship Id="rId%d" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide" Target="slides/slide%d.xml"/>`,
			i+1, i)
	}
	b.WriteString(`</Relationships>`)
	return b.String()
}

func buildSlides(req *model.ExportRequest) []string {
	lang := runLang(req.Options.Locale)

	slides := []string{titleSlide(req, lang)}
	for _, s := range req.Sections {
		slides = append(slides, textSlide(s.Heading, strings.TrimSpace(s.Body), lang))
	}
	for _, t := range req.Tables {
		slides = append(slides, tableSlide(t, lang))
	}
	return slides
}

func titleSlide(req *model.ExportRequest, lang string) string {
	var b strings.Builder
	openSlide(&b)
	writeSlideText(&b, 2, req.Title, 274638, 3600, true, lang)
	if req.Summary != "" {
		writeSlideText(&b, 3, strings.TrimSpace(req.Summary), 1600200, 1600, false, lang)
	}
	closeSlide(&b)
	return b.String()
}

func textSlide(heading, body, lang string) string {
	var b strings.Builder
	openSlide(&b)
	writeSlideText(&b, 2, heading, 274638, 2800, true, lang)
	if body != "" {
		writeSlideText(&b, 3, body, 1600200, 1600, false, lang)
	}
	closeSlide(&b)
	return b.String()
}

func tableSlide(t model.Table, lang string) string {
	var b strings.Builder
	openSlide(&b)
	writeSlideText(&b, 2, t.Name, 274638, 2800, true, lang)

	cols := len(t.Columns)
	if cols == 0 {
		cols = 1
	}
	b.WriteString(`<p:graphicFrame><p:nvGraphicFramePr><p:cNvPr id="4" name="Table"/><p:cNvGraphicFramePr/><p:nvPr/></p:nvGraphicFramePr>`)
	b.WriteString(`<p:xfrm><a:off x="457200" y="1600200"/><a:ext cx="8229600" cy="4525963"/></p:xfrm>`)
	b.WriteString(`<a:graphic><a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/table">`)
	b.WriteString(`<a:tbl><a:tblPr firstRow="1"/><a:tblGrid>`)
	colWidth := 8229600 / cols
	for range cols {
		fmt.Fprintf(&b, `<a:gridCol w="%d"/>`, colWidth)
	}
	b.WriteString(`</a:tblGrid>`)

	b.WriteString(`<a:tr h="370840">`)
	for _, col := range t.Columns {
		writeTableCell(&b, col, true, lang)
	}
	b.WriteString(`</a:tr>`)
	for _, row := range t.Rows {
		b.WriteString(`<a:tr h="370840">`)
		for _, col := range t.Columns {
			writeTableCell(&b, stringifyCell(row[col]), false, lang)
		}
		b.WriteString(`</a:tr>`)
	}
	b.WriteString(`</a:tbl></a:graphicData></a:graphic></p:graphicFrame>`)

	closeSlide(&b)
	return b.String()
}

func openSlide(b *strings.Builder) {
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	fmt.Fprintf(b, `<p:sld xmlns:a="%s" xmlns:p="%s" xmlns:r="%s">`, drawingNS, presentationNS, relationNS)
	b.WriteString(`<p:cSld><p:spTree>`)
	b.WriteString(`<p:nvGrpSpPr><p:cNvPr id="1" name=""/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr><p:grpSpPr/>`)
}

func closeSlide(b *strings.Builder) {
	b.WriteString(`</p:spTree></p:cSld><p:clrMapOvr><a:masterClrMapping/></p:clrMapOvr></p:sld>`)
}

// writeSlideText emits one text box. Sizes are hundredths of a point.
func writeSlideText(b *strings.Builder, id int, text string, offsetY, size int, bold bool, lang string) {
	boldAttr := ""
	if bold {
		boldAttr = ` b="1"`
	}
	fmt.Fprintf(b,
		`<p:sp><p:nvSpPr><p:cNvPr id="%d" name="TextBox %d"/><p:cNvSpPr txBox="1"/><p:nvPr/></p:nvSpPr>`+
			`<p:spPr><a:xfrm><a:off x="457200" y="%d"/><a:ext cx="8229600" cy="1143000"/></a:xfrm>`+
			`<a:prstGeom prst="rect"><a:avLst/></a:prstGeom></p:spPr>`+
			`<p:txBody><a:bodyPr wrap="square"/><a:p><a:r><a:rPr lang="%s" sz="%d"%s/><a:t>%s</a:t></a:r></a:p></p:txBody></p:sp>`,
		id, id, offsetY, lang, size, boldAttr, escapeXML(strings.TrimSpace(text)))
}

func writeTableCell(b *strings.Builder, text string, bold bool, lang string) {
	boldAttr := ""
	if bold {
		boldAttr = ` b="1"`
	}
	fmt.Fprintf(b,
		`<a:tc><a:txBody><a:bodyPr/><a:p><a:r><a:rPr lang="%s" sz="1400"%s/><a:t>%s</a:t></a:r></a:p></a:txBody><a:tcPr/></a:tc>`,
		lang, boldAttr, escapeXML(text))
}

// runLang normalizes the requested locale for run properties.
func runLang(locale string) string {
	if locale == "" {
		return "en-US"
	}
	return locale
}
