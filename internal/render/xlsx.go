package render

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/carebridge/portal-timeline/internal/domain/record"
	"github.com/carebridge/portal-timeline/internal/domain/timeline"
)

// Sheet names of the exported workbook
const (
	SheetTimeline = "Timeline"
	SheetRecords  = "Records"
)

// recordsHeader is the header row of the Records sheet
var recordsHeader = []string{"Category", "ID", "Title", "Start", "End", "Start Column", "End Column"}

// timelineFixedColumns precede the month columns on the Timeline sheet
const timelineFixedColumns = 2

// XLSX writes the view as a workbook with a month grid sheet and a flat records sheet
func XLSX(v timeline.View, cfg Config, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetTimeline); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetRecords); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{cfg.Colors.Header}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := writeGrid(f, v, cfg, headerStyle); err != nil {
		return err
	}
	if err := writeRecords(f, v, headerStyle); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeGrid(f *excelize.File, v timeline.View, cfg Config, headerStyle int) error {
	header := []any{"Category", "Title"}
	for _, b := range v.Buckets {
		header = append(header, b.Label())
	}
	if err := f.SetSheetRow(SheetTimeline, "A1", &header); err != nil {
		return fmt.Errorf("write grid header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetTimeline, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style grid header: %w", err)
	}
	if err := f.SetColWidth(SheetTimeline, "A", "A", 14); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetTimeline, "B", "B", 36); err != nil {
		return err
	}

	if v.Empty {
		return f.SetCellValue(SheetTimeline, "A2", cfg.EmptyMessage)
	}

	styles := make(map[record.Category]int)
	for i, p := range v.Placements {
		row := i + 2
		if err := f.SetSheetRow(SheetTimeline, cellName(1, row), &[]any{string(p.Record.Category), p.Record.Title}); err != nil {
			return fmt.Errorf("write grid row %d: %w", row, err)
		}
		style, ok := styles[p.Record.Category]
		if !ok {
			style, err = f.NewStyle(&excelize.Style{
				Fill: excelize.Fill{Type: "pattern", Color: []string{cfg.CategoryColor(p.Record.Category)}, Pattern: 1},
			})
			if err != nil {
				return fmt.Errorf("create bar style: %w", err)
			}
			styles[p.Record.Category] = style
		}
		from := cellName(timelineFixedColumns+p.StartColumn, row)
		to := cellName(timelineFixedColumns+p.EndColumn-1, row)
		if err := f.SetCellStyle(SheetTimeline, from, to, style); err != nil {
			return fmt.Errorf("style bar %s: %w", p.Record.Key(), err)
		}
	}
	return nil
}

func writeRecords(f *excelize.File, v timeline.View, headerStyle int) error {
	header := make([]any, len(recordsHeader))
	for i, h := range recordsHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(SheetRecords, "A1", &header); err != nil {
		return fmt.Errorf("write records header: %w", err)
	}
	if err := f.SetCellStyle(SheetRecords, "A1", cellName(len(header), 1), headerStyle); err != nil {
		return fmt.Errorf("style records header: %w", err)
	}
	if err := f.SetColWidth(SheetRecords, "C", "C", 36); err != nil {
		return err
	}

	for i, p := range v.Placements {
		end := ""
		if p.Record.EndDate != nil {
			end = record.FormatDate(*p.Record.EndDate)
		}
		row := []any{
			string(p.Record.Category),
			string(p.Record.ID),
			p.Record.Title,
			record.FormatDate(p.Record.StartDate),
			end,
			p.StartColumn,
			p.EndColumn,
		}
		if err := f.SetSheetRow(SheetRecords, cellName(1, i+2), &row); err != nil {
			return fmt.Errorf("write record row: %w", err)
		}
	}
	return nil
}

func cellName(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
