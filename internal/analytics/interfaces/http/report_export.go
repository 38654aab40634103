package http

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"terrarium-cloud/internal/analytics/application"
	telemetry "terrarium-cloud/internal/telemetry/domain"
)

// BuildReportPDF renders the range report as a one page table.
func BuildReportPDF(report *application.RangeReport) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Terrarium Conditions Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Source: %s", report.SourceID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Range: %s to %s", report.From.Format("2006-01-02"), report.To.Format("2006-01-02")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Readings: %d", report.ReadingCount))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(40, 6, "Metric", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Min", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Avg", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Max", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, s := range report.Summary {
		pdf.CellFormat(40, 6, string(s.Metric), "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, fmt.Sprintf("%.2f", s.Min), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, fmt.Sprintf("%.2f", s.Avg), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, fmt.Sprintf("%.2f", s.Max), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	pdf.Ln(6)
	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(30, 6, "Day", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Count", "1", 0, "C", false, 0, "")
	for _, m := range telemetry.Metrics() {
		pdf.CellFormat(50, 6, string(m)+" min/avg/max", "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, day := range report.Days {
		pdf.CellFormat(30, 6, day.PeriodStart.Format("2006-01-02"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(20, 6, fmt.Sprintf("%d", day.Count), "1", 0, "R", false, 0, "")
		for _, m := range telemetry.Metrics() {
			s := day.Metrics.Get(m)
			pdf.CellFormat(50, 6, fmt.Sprintf("%.1f / %.1f / %.1f", s.Min, s.Avg, s.Max), "1", 0, "R", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReportXLSX renders a summary sheet and a per-day sheet.
func BuildReportXLSX(report *application.RangeReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	daysSheet := "days"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(daysSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Terrarium Conditions Report")
	_ = f.SetCellValue(summarySheet, "A3", "Source")
	_ = f.SetCellValue(summarySheet, "B3", report.SourceID)
	_ = f.SetCellValue(summarySheet, "A4", "From")
	_ = f.SetCellValue(summarySheet, "B4", report.From.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A5", "To")
	_ = f.SetCellValue(summarySheet, "B5", report.To.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A6", "Readings")
	_ = f.SetCellValue(summarySheet, "B6", report.ReadingCount)
	_ = f.SetCellValue(summarySheet, "A8", "Metric")
	_ = f.SetCellValue(summarySheet, "B8", "Min")
	_ = f.SetCellValue(summarySheet, "C8", "Avg")
	_ = f.SetCellValue(summarySheet, "D8", "Max")
	for i, s := range report.Summary {
		row := i + 9
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), string(s.Metric))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), s.Min)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("C%d", row), s.Avg)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("D%d", row), s.Max)
	}

	header := []any{"Day", "Count"}
	for _, m := range telemetry.Metrics() {
		header = append(header, string(m)+" min", string(m)+" avg", string(m)+" max")
	}
	if err := f.SetSheetRow(daysSheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, day := range report.Days {
		row := []any{day.PeriodStart.Format("2006-01-02"), day.Count}
		for _, m := range telemetry.Metrics() {
			s := day.Metrics.Get(m)
			row = append(row, s.Min, s.Avg, s.Max)
		}
		if err := f.SetSheetRow(daysSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
