package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/Mastropiera/Dorotheapp-sub002/internal/models"
)

const (
	sheetName = "Agenda"
	isoDate   = "2006-01-02"
)

// Exporter writes the merged agenda view for a date window into an xlsx
// workbook, one row per day, events stacked inside the day cell.
type Exporter struct {
	path   string
	logger zerolog.Logger
}

func New(path string, logger zerolog.Logger) *Exporter {
	return &Exporter{path: path, logger: logger.With().Str("component", "export").Logger()}
}

// WriteAgenda renders the events into a workbook on disk and returns the
// file path. Events are expected pre-sorted by date, the merged view
// guarantees that.
func (e *Exporter) WriteAgenda(startDate, endDate time.Time, events []models.LocalEvent) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Agenda: %s - %s",
		startDate.Format("02.01.2006"), endDate.Format("02.01.2006")))
	_ = f.MergeCell(sheetName, "A1", "C1")

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	e.writeColumnHeaders(f)

	byDate := make(map[string][]models.LocalEvent)
	for _, ev := range events {
		byDate[ev.Date] = append(byDate[ev.Date], ev)
	}

	row := 3
	for currentDate := startDate; !currentDate.After(endDate); currentDate = currentDate.AddDate(0, 0, 1) {
		dateKey := currentDate.Format(isoDate)
		dayEvents := byDate[dateKey]
		if len(dayEvents) == 0 {
			continue
		}

		dateCell, _ := excelize.CoordinatesToCellName(1, row)
		_ = f.SetCellValue(sheetName, dateCell, currentDate.Format("02.01.2006"))
		e.styleDateCell(f, dateCell)

		var entries, kinds string
		for _, ev := range dayEvents {
			entries += eventLine(&ev) + "\n"
			kinds += kindLabel(&ev) + "\n"
		}

		entriesCell, _ := excelize.CoordinatesToCellName(2, row)
		_ = f.SetCellValue(sheetName, entriesCell, entries)
		kindsCell, _ := excelize.CoordinatesToCellName(3, row)
		_ = f.SetCellValue(sheetName, kindsCell, kinds)

		styleID, err := e.dayCellStyle(f, dayEvents)
		if err == nil {
			_ = f.SetCellStyle(sheetName, entriesCell, kindsCell, styleID)
		}
		row++
	}

	_ = f.SetColWidth(sheetName, "A", "A", 14)
	_ = f.SetColWidth(sheetName, "B", "B", 45)
	_ = f.SetColWidth(sheetName, "C", "C", 18)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("agenda_%s_to_%s.xlsx",
		startDate.Format(isoDate), endDate.Format(isoDate))
	filePath := filepath.Join(e.path, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("events", len(events)).Msg("agenda export written")
	return filePath, nil
}

func (e *Exporter) writeColumnHeaders(f *excelize.File) {
	headers := []string{"Date", "Events", "Kind"}
	style, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, header)
		_ = f.SetCellStyle(sheetName, cell, cell, style)
	}
}

func (e *Exporter) styleDateCell(f *excelize.File, cell string) {
	style, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E2EFDA"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{
			Vertical: "top",
		},
	})
	_ = f.SetCellStyle(sheetName, cell, cell, style)
}

// dayCellStyle picks the fill by the day's sync state: green when every
// event reached the calendar, yellow while anything is still local-only.
func (e *Exporter) dayCellStyle(f *excelize.File, dayEvents []models.LocalEvent) (int, error) {
	allSynced := true
	for _, ev := range dayEvents {
		if !ev.SyncedToGoogle {
			allSynced = false
			break
		}
	}

	color := "#FFEB9C"
	if allSynced {
		color = "#C6EFCE"
	}

	return f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "left",
			Vertical:   "top",
			WrapText:   true,
		},
	})
}

func eventLine(ev *models.LocalEvent) string {
	marker := "⏳"
	if ev.SyncedToGoogle {
		marker = "✅"
	}
	title := ev.Title
	if title == "" {
		title = ev.ShiftType
	}
	return fmt.Sprintf("%s %s", marker, title)
}

func kindLabel(ev *models.LocalEvent) string {
	switch ev.Type {
	case models.EventTypeShift:
		if ev.ShiftType != "" {
			return "shift (" + ev.ShiftType + ")"
		}
		return "shift"
	case models.EventTypeNote:
		return "note"
	default:
		return "event"
	}
}
