package pdf

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/jung-kurt/gofpdf"

	"github.com/talentmesh/milestones-api/internal/negotiation"
)

// ErrNotApproved indicates a schedule export was requested for a negotiation
// that has not been locked in yet.
var ErrNotApproved = errors.New("pdf: negotiation is not approved")

// ScheduleGenerator renders the approved milestone schedule as a one-page
// A4 document both parties can archive.
type ScheduleGenerator struct {
	fontName string
}

// NewScheduleGenerator constructs a generator using the built-in Helvetica
// core font.
func NewScheduleGenerator() *ScheduleGenerator {
	return &ScheduleGenerator{fontName: "Helvetica"}
}

// Generate produces the PDF bytes for an approved negotiation.
func (g *ScheduleGenerator) Generate(header *negotiation.Header, items []negotiation.Milestone) ([]byte, error) {
	if header == nil {
		return nil, fmt.Errorf("pdf: header is required")
	}
	if header.State != negotiation.StateApproved {
		return nil, fmt.Errorf("%w: contract %s is in %s", ErrNotApproved, header.ContractID, header.State)
	}

	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetMargins(15, 15, 15)
	doc.AddPage()

	doc.SetFont(g.fontName, "B", 14)
	doc.CellFormat(0, 10, "Approved Milestone Schedule", "", 1, "C", false, 0, "")

	doc.SetFont(g.fontName, "", 11)
	doc.CellFormat(0, 6, fmt.Sprintf("Contract %s", header.ContractID), "", 1, "C", false, 0, "")
	doc.Ln(4)

	headers := []string{"#", "Milestone", "Acceptance criteria", "Amount"}
	widths := []float64{10, 55, 80, 35}
	g.drawRow(doc, headers, widths, true)

	for index, item := range items {
		row := []string{
			fmt.Sprintf("%d", index+1),
			item.Title,
			item.Criteria,
			negotiation.FormatMinor(item.AmountMinor),
		}
		g.drawRow(doc, row, widths, false)
	}

	doc.Ln(2)
	doc.SetFont(g.fontName, "B", 11)
	doc.CellFormat(0, 8, fmt.Sprintf("Total: %s", negotiation.FormatMinor(header.AgreedTotalMinor)), "", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *ScheduleGenerator) drawRow(doc *gofpdf.Fpdf, cells []string, widths []float64, bold bool) {
	style := ""
	if bold {
		style = "B"
	}
	doc.SetFont(g.fontName, style, 10)
	for i, cell := range cells {
		align := "L"
		if i == len(cells)-1 {
			align = "R"
		}
		doc.CellFormat(widths[i], 8, cell, "1", 0, align, false, 0, "")
	}
	doc.Ln(-1)
}
