package export

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alarms "plantwatch/internal/alarms/domain"
)

// Report is the alarm history covered by one export.
type Report struct {
	From        time.Time
	To          time.Time
	GeneratedAt time.Time
	Events      []alarms.Event
}

// LevelCounts returns the number of events per level, highest level first.
func (r Report) LevelCounts() []LevelCount {
	counts := make(map[alarms.Level]int)
	for _, event := range r.Events {
		counts[event.Level]++
	}
	out := make([]LevelCount, 0, len(counts))
	for level, n := range counts {
		out = append(out, LevelCount{Level: level, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level.Rank() > out[j].Level.Rank() })
	return out
}

// LevelCount is one row of the summary.
type LevelCount struct {
	Level alarms.Level
	Count int
}

// BuildPDF renders the alarm history as a PDF table.
func BuildPDF(report Report) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Alarm History")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s - %s", report.From.UTC().Format(time.RFC3339), report.To.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", report.GeneratedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Events: %d", len(report.Events)))
	pdf.Ln(5)
	for _, lc := range report.LevelCounts() {
		pdf.Cell(0, 6, fmt.Sprintf("  %s: %d", strings.ToUpper(string(lc.Level)), lc.Count))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(42, 6, "Triggered", "1", 0, "C", false, 0, "")
	pdf.CellFormat(18, 6, "Scenario", "1", 0, "C", false, 0, "")
	pdf.CellFormat(22, 6, "Level", "1", 0, "C", false, 0, "")
	pdf.CellFormat(95, 6, "Message", "1", 0, "C", false, 0, "")
	pdf.CellFormat(95, 6, "Actions", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 8)
	for _, event := range report.Events {
		pdf.CellFormat(42, 6, event.TriggeredAt.UTC().Format(time.RFC3339), "1", 0, "L", false, 0, "")
		pdf.CellFormat(18, 6, event.ScenarioID, "1", 0, "C", false, 0, "")
		pdf.CellFormat(22, 6, string(event.Level), "1", 0, "C", false, 0, "")
		pdf.CellFormat(95, 6, truncate(asciiOnly(event.Message), 70), "1", 0, "L", false, 0, "")
		pdf.CellFormat(95, 6, truncate(strings.Join(event.ActionsTaken, ", "), 70), "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildXLSX renders the alarm history as a workbook with summary, events and
// sensor value sheets.
func BuildXLSX(report Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	eventsSheet := "events"
	valuesSheet := "sensor_values"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(eventsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(valuesSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Alarm History")
	_ = f.SetCellValue(summarySheet, "A3", "From")
	_ = f.SetCellValue(summarySheet, "B3", report.From.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "To")
	_ = f.SetCellValue(summarySheet, "B4", report.To.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "Generated")
	_ = f.SetCellValue(summarySheet, "B5", report.GeneratedAt.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A6", "Events")
	_ = f.SetCellValue(summarySheet, "B6", len(report.Events))
	for i, lc := range report.LevelCounts() {
		row := 8 + i
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), strings.ToUpper(string(lc.Level)))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), lc.Count)
	}

	for i, header := range []string{"Event ID", "Triggered", "Scenario", "Name", "Level", "Message", "Actions"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(eventsSheet, cell, header)
	}
	for i, header := range []string{"Event ID", "Tag", "Value"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(valuesSheet, cell, header)
	}
	valueRow := 2
	for i, event := range report.Events {
		row := i + 2
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("A%d", row), event.ID)
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("B%d", row), event.TriggeredAt.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("C%d", row), event.ScenarioID)
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("D%d", row), event.ScenarioName)
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("E%d", row), string(event.Level))
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("F%d", row), event.Message)
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("G%d", row), strings.Join(event.ActionsTaken, ", "))

		tags := make([]string, 0, len(event.SensorValues))
		for tag := range event.SensorValues {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		for _, tag := range tags {
			_ = f.SetCellValue(valuesSheet, fmt.Sprintf("A%d", valueRow), event.ID)
			_ = f.SetCellValue(valuesSheet, fmt.Sprintf("B%d", valueRow), tag)
			_ = f.SetCellValue(valuesSheet, fmt.Sprintf("C%d", valueRow), event.SensorValues[tag])
			valueRow++
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// gofpdf core fonts are cp1252 only.
func asciiOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r > 126 {
			return '?'
		}
		return r
	}, s)
}
