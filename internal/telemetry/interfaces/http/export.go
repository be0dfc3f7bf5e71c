package http

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"github.com/Dipeshbist/Yeti-Server/internal/telemetry/application"
	telemetry "github.com/Dipeshbist/Yeti-Server/internal/telemetry/domain"
)

// historyRows flattens a history view into rows ordered by key, then by
// timestamp ascending.
func historyRows(view application.HistoryView) []telemetry.Sample {
	keys := make([]string, 0, len(view.Data))
	for key := range view.Data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	rows := make([]telemetry.Sample, 0, view.Data.Points())
	for _, key := range keys {
		samples := append([]telemetry.Sample(nil), view.Data[key]...)
		sort.SliceStable(samples, func(i, j int) bool { return samples[i].TS < samples[j].TS })
		for _, s := range samples {
			if s.Key == "" {
				s.Key = key
			}
			rows = append(rows, s)
		}
	}
	return rows
}

// BuildHistoryPDF renders a device history as a PDF table.
func BuildHistoryPDF(view application.HistoryView) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Device Telemetry History")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Device: %s", view.DeviceID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("From: %s", view.TimeRange.Start.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("To: %s", view.TimeRange.End.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Points: %d", view.TotalPoints))
	pdf.Ln(5)
	if view.Error != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Error: %s", view.Error))
		pdf.Ln(5)
	}
	if view.Note != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Note: %s", view.Note))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(60, 6, "Time", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Key", "1", 0, "C", false, 0, "")
	pdf.CellFormat(70, 6, "Value", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, s := range historyRows(view) {
		pdf.CellFormat(60, 6, s.Time().UTC().Format(time.RFC3339), "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, s.Key, "1", 0, "L", false, 0, "")
		pdf.CellFormat(70, 6, s.Value.String(), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildHistoryXLSX renders a device history workbook with a summary sheet
// and one row per sample.
func BuildHistoryXLSX(view application.HistoryView) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	samplesSheet := "samples"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(samplesSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Device Telemetry History")
	_ = f.SetCellValue(summarySheet, "A3", "Device")
	_ = f.SetCellValue(summarySheet, "B3", view.DeviceID)
	_ = f.SetCellValue(summarySheet, "A4", "From")
	_ = f.SetCellValue(summarySheet, "B4", view.TimeRange.Start.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "To")
	_ = f.SetCellValue(summarySheet, "B5", view.TimeRange.End.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A6", "Points")
	_ = f.SetCellValue(summarySheet, "B6", view.TotalPoints)
	_ = f.SetCellValue(summarySheet, "A7", "Error")
	_ = f.SetCellValue(summarySheet, "B7", view.Error)

	_ = f.SetCellValue(samplesSheet, "A1", "Time")
	_ = f.SetCellValue(samplesSheet, "B1", "Key")
	_ = f.SetCellValue(samplesSheet, "C1", "Value")
	for i, s := range historyRows(view) {
		row := i + 2
		_ = f.SetCellValue(samplesSheet, fmt.Sprintf("A%d", row), s.Time().UTC().Format(time.RFC3339))
		_ = f.SetCellValue(samplesSheet, fmt.Sprintf("B%d", row), s.Key)
		_ = f.SetCellValue(samplesSheet, fmt.Sprintf("C%d", row), s.Value.Interface())
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
