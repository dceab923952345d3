package report

import (
	"fmt"
	"os"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/signintech/gopdf"
)

// FindFont returns the first readable font in paths, or "" when none is.
func FindFont(paths []string) string {
	for _, p := range paths {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}

// document is the small set of layout primitives the reports need. Both
// PDF backends implement it.
type document interface {
	Title(text string)
	Subtitle(text string)
	Heading(text string)
	Row(label, value string)
	Paragraph(text string)
	Alert(label, text string)
	Save(path string) error
}

// newDocument returns a TTF-backed document when fontPath is set and the
// font loads, otherwise one using the built-in Helvetica.
func newDocument(fontPath string) (document, error) {
	if fontPath != "" {
		return newTTFDocument(fontPath)
	}
	return newCoreDocument(), nil
}

const (
	pageWidth  = 595.28
	pageHeight = 841.89
	margin     = 40.0
	labelWidth = 130.0
	lineHeight = 15.0
)

type ttfDocument struct {
	pdf  *gopdf.GoPdf
	page int
	err  error
}

func newTTFDocument(fontPath string) (*ttfDocument, error) {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	if err := pdf.AddTTFFont("main", fontPath); err != nil {
		return nil, fmt.Errorf("load font %s: %w", fontPath, err)
	}
	d := &ttfDocument{pdf: pdf}
	d.newPage()
	return d, nil
}

func (d *ttfDocument) setFont(size float64) {
	if err := d.pdf.SetFont("main", "", size); err != nil && d.err == nil {
		d.err = err
	}
}

func (d *ttfDocument) cell(w float64, text string, align int) {
	rect := &gopdf.Rect{W: w, H: lineHeight}
	if err := d.pdf.CellWithOption(rect, text, gopdf.CellOption{Align: align}); err != nil && d.err == nil {
		d.err = err
	}
}

func (d *ttfDocument) newPage() {
	d.pdf.AddPage()
	d.page++
	d.pdf.SetXY(margin, margin)
}

func (d *ttfDocument) footer() {
	d.setFont(9)
	d.pdf.SetTextColor(120, 120, 120)
	d.pdf.SetXY(margin, pageHeight-30)
	d.cell(pageWidth-2*margin, fmt.Sprintf("Page %d", d.page), gopdf.Center)
	d.pdf.SetTextColor(0, 0, 0)
}

func (d *ttfDocument) ensure(h float64) {
	if d.pdf.GetY()+h > pageHeight-50 {
		d.footer()
		d.newPage()
	}
}

func (d *ttfDocument) br(h float64) {
	d.pdf.SetXY(margin, d.pdf.GetY()+h)
}

func (d *ttfDocument) wrap(text string, width float64) []string {
	if strings.TrimSpace(text) == "" {
		return []string{""}
	}
	var out []string
	for _, para := range strings.Split(text, "\n") {
		if para == "" {
			out = append(out, "")
			continue
		}
		lines, err := d.pdf.SplitText(para, width)
		if err != nil {
			out = append(out, para)
			continue
		}
		out = append(out, lines...)
	}
	return out
}

func (d *ttfDocument) Title(text string) {
	d.setFont(18)
	d.ensure(30)
	d.cell(pageWidth-2*margin, text, gopdf.Center)
	d.br(30)
}

func (d *ttfDocument) Subtitle(text string) {
	d.setFont(10)
	d.ensure(lineHeight)
	d.cell(pageWidth-2*margin, text, gopdf.Center)
	d.br(lineHeight + 10)
}

func (d *ttfDocument) Heading(text string) {
	d.setFont(13)
	d.ensure(2 * lineHeight)
	d.br(6)
	d.cell(pageWidth-2*margin, text, gopdf.Left)
	d.br(lineHeight + 4)
}

func (d *ttfDocument) Row(label, value string) {
	d.setFont(11)
	lines := d.wrap(value, pageWidth-2*margin-labelWidth)
	d.ensure(float64(len(lines)) * lineHeight)
	y := d.pdf.GetY()
	d.pdf.SetXY(margin, y)
	d.cell(labelWidth, label+":", gopdf.Left)
	for i, l := range lines {
		d.pdf.SetXY(margin+labelWidth, y+float64(i)*lineHeight)
		d.cell(pageWidth-2*margin-labelWidth, l, gopdf.Left)
	}
	d.pdf.SetXY(margin, y+float64(len(lines))*lineHeight+2)
}

func (d *ttfDocument) Paragraph(text string) {
	d.setFont(11)
	for _, l := range d.wrap(text, pageWidth-2*margin) {
		d.ensure(lineHeight)
		d.cell(pageWidth-2*margin, l, gopdf.Left)
		d.br(lineHeight)
	}
}

func (d *ttfDocument) Alert(label, text string) {
	d.setFont(11)
	lines := d.wrap(text, pageWidth-2*margin-20)
	h := float64(len(lines)+1)*lineHeight + 12
	d.ensure(h + 10)
	d.br(6)
	y := d.pdf.GetY()
	d.pdf.SetFillColor(253, 236, 234)
	d.pdf.SetStrokeColor(200, 60, 50)
	d.pdf.RectFromUpperLeftWithStyle(margin, y, pageWidth-2*margin, h, "FD")
	d.pdf.SetTextColor(160, 30, 20)
	d.pdf.SetXY(margin+10, y+6)
	d.cell(pageWidth-2*margin-20, label, gopdf.Left)
	d.pdf.SetTextColor(0, 0, 0)
	for i, l := range lines {
		d.pdf.SetXY(margin+10, y+6+float64(i+1)*lineHeight)
		d.cell(pageWidth-2*margin-20, l, gopdf.Left)
	}
	d.pdf.SetXY(margin, y+h+6)
}

func (d *ttfDocument) Save(path string) error {
	d.footer()
	if d.err != nil {
		return d.err
	}
	return d.pdf.WritePdf(path)
}

// coreDocument uses gofpdf's built-in fonts. Text is mapped to cp1252, so
// characters outside it are lost.
type coreDocument struct {
	pdf *gofpdf.Fpdf
	tr  func(string) string
}

func newCoreDocument() *coreDocument {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	})
	pdf.AddPage()
	return &coreDocument{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
}

func (d *coreDocument) Title(text string) {
	d.pdf.SetFont("Helvetica", "B", 18)
	d.pdf.CellFormat(0, 12, d.tr(text), "", 1, "C", false, 0, "")
	d.pdf.Ln(2)
}

func (d *coreDocument) Subtitle(text string) {
	d.pdf.SetFont("Helvetica", "", 10)
	d.pdf.CellFormat(0, 6, d.tr(text), "", 1, "C", false, 0, "")
	d.pdf.Ln(4)
}

func (d *coreDocument) Heading(text string) {
	d.pdf.Ln(2)
	d.pdf.SetFont("Helvetica", "B", 13)
	d.pdf.SetFillColor(230, 236, 245)
	d.pdf.CellFormat(0, 8, d.tr(text), "", 1, "L", true, 0, "")
	d.pdf.Ln(1)
}

func (d *coreDocument) Row(label, value string) {
	d.pdf.SetFont("Helvetica", "B", 11)
	d.pdf.CellFormat(45, 7, d.tr(label+":"), "", 0, "L", false, 0, "")
	d.pdf.SetFont("Helvetica", "", 11)
	d.pdf.MultiCell(0, 7, d.tr(value), "", "L", false)
}

func (d *coreDocument) Paragraph(text string) {
	d.pdf.SetFont("Helvetica", "", 11)
	d.pdf.MultiCell(0, 6, d.tr(text), "", "L", false)
}

func (d *coreDocument) Alert(label, text string) {
	d.pdf.Ln(3)
	d.pdf.SetFillColor(253, 236, 234)
	d.pdf.SetDrawColor(200, 60, 50)
	d.pdf.SetTextColor(160, 30, 20)
	d.pdf.SetFont("Helvetica", "B", 11)
	d.pdf.CellFormat(0, 7, d.tr(label), "LTR", 1, "L", true, 0, "")
	d.pdf.SetTextColor(0, 0, 0)
	d.pdf.SetFont("Helvetica", "", 11)
	d.pdf.MultiCell(0, 7, d.tr(text), "LBR", "L", true)
	d.pdf.SetDrawColor(0, 0, 0)
}

func (d *coreDocument) Save(path string) error {
	return d.pdf.OutputFileAndClose(path)
}
