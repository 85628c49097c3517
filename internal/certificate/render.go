// Package certificate renders certificate documents as PDF.
package certificate

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
)

// Signature is printed at the bottom of a certificate for each organization
// delivering one of the certified courses
type Signature struct {
	Organization string
	Signatory    string
}

// Document holds everything printed on a certificate
type Document struct {
	ID          string
	Title       string
	Description string
	Learner     string
	Product     string
	Courses     []string
	Signatures  []Signature
	IssuedAt    time.Time
}

type layout struct {
	orientation string
	width       float64
}

var templates = map[string]layout{
	"certificate": {orientation: "L", width: 297},
	"attestation": {orientation: "P", width: 210},
}

// Renderer turns documents into PDF bytes. The output only depends on the
// document so rendering twice yields identical bytes.
type Renderer struct{}

// NewRenderer creates a renderer
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render renders doc with the named template. An empty template name selects
// the default landscape layout.
func (r *Renderer) Render(template string, doc Document) ([]byte, error) {
	if template == "" {
		template = "certificate"
	}
	lay, ok := templates[template]
	if !ok {
		return nil, fmt.Errorf("unknown certificate template %q", template)
	}

	pdf := fpdf.New(lay.orientation, "mm", "A4", "")
	pdf.SetCompression(false)
	pdf.SetCreationDate(doc.IssuedAt.UTC())
	pdf.SetModificationDate(doc.IssuedAt.UTC())
	pdf.SetCatalogSort(true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetTitle(tr(doc.Title), false)
	pdf.SetSubject(tr(doc.Product), false)
	pdf.SetCreator("enrollment-service", false)

	margin := 20.0
	inner := lay.width - 2*margin
	pdf.SetMargins(margin, margin, margin)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 30)
	pdf.CellFormat(inner, 18, "CERTIFICATE", "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 16)
	pdf.CellFormat(inner, 10, tr(doc.Title), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(inner, 8, "This certifies that", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "B", 22)
	pdf.CellFormat(inner, 14, tr(doc.Learner), "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(inner, 8, "has successfully completed", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(inner, 10, tr(doc.Product), "", 1, "C", false, 0, "")

	if len(doc.Courses) > 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(inner, 6, tr(strings.Join(doc.Courses, ", ")), "", "C", false)
	}
	if doc.Description != "" {
		pdf.Ln(2)
		pdf.SetFont("Helvetica", "I", 10)
		pdf.MultiCell(inner, 5, tr(doc.Description), "", "C", false)
	}

	pdf.Ln(10)
	if n := len(doc.Signatures); n > 0 {
		col := inner / float64(n)
		pdf.SetFont("Helvetica", "B", 11)
		for _, s := range doc.Signatures {
			pdf.CellFormat(col, 6, tr(s.Signatory), "T", 0, "C", false, 0, "")
		}
		pdf.Ln(6)
		pdf.SetFont("Helvetica", "", 10)
		for _, s := range doc.Signatures {
			pdf.CellFormat(col, 6, tr(s.Organization), "", 0, "C", false, 0, "")
		}
		pdf.Ln(10)
	}

	pdf.SetFont("Helvetica", "", 8)
	footer := fmt.Sprintf("Issued on %s - certificate %s", doc.IssuedAt.UTC().Format("2006-01-02"), doc.ID)
	pdf.CellFormat(inner, 5, footer, "", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render certificate: %w", err)
	}
	return buf.Bytes(), nil
}
