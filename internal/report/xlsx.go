// Package report renders cartable items as spreadsheet exports.
package report

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/pitabwire/cartable/model"
)

// ContentTypeXLSX is the media type of the workbook produced by WriteXLSX.
const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const sheetName = "Cartable"

// Columns is the header row of the export.
var Columns = []string{
	"Tracking Code", "Module", "Title", "Step", "Status",
	"Assignee Role", "Assignee", "Initiator", "Created At", "Updated At",
}

const timeLayout = "2006-01-02 15:04:05"

func row(item model.CartableItem) []any {
	step := item.CurrentStepID
	if s, ok := item.MirroredStatus(); ok {
		step = fmt.Sprintf("%s (%s)", item.CurrentStepID, s)
	}
	return []any{
		item.TrackingCode,
		item.Module,
		item.Title,
		step,
		item.Status,
		item.AssigneeRole,
		item.AssigneeID,
		item.InitiatorID,
		item.CreatedAt.UTC().Format(timeLayout),
		item.UpdatedAt.UTC().Format(timeLayout),
	}
}

// WriteXLSX renders items into a single-sheet workbook.
func WriteXLSX(items []model.CartableItem) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("report: create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("report: drop default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("report: header style: %w", err)
	}

	for i, col := range Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, col); err != nil {
			return nil, fmt.Errorf("report: header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("report: header style %s: %w", cell, err)
		}
	}

	for r, item := range items {
		for c, v := range row(item) {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return nil, fmt.Errorf("report: cell %s: %w", cell, err)
			}
		}
	}

	for i := range Columns {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(sheetName, col, col, 18)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("report: write workbook: %w", err)
	}
	return buf, nil
}
