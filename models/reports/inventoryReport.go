package reports

import (
	"context"
	"fmt"
	"io"

	"bitbucket.org/mmdatafocus/mapframe_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

type ExcelExporter interface {
	GetCellValues() []interface{}
}

type InventoryReportRow struct {
	MaterialId   string
	Name         string
	Kind         models.MaterialKind
	StockUnit    string
	OnHand       int
	Reserved     int
	Available    int
	LowThreshold int
	IsLowStock   bool
	UnitCost     decimal.Decimal
}

// StockValue is on-hand units at unit cost.
func (r *InventoryReportRow) StockValue() decimal.Decimal {
	return r.UnitCost.Mul(decimal.NewFromInt(int64(r.OnHand)))
}

func (r *InventoryReportRow) GetCellValues() []interface{} {
	lowStock := "No"
	if r.IsLowStock {
		lowStock = "Yes"
	}
	return []interface{}{
		r.MaterialId,
		r.Name,
		string(r.Kind),
		r.StockUnit,
		r.OnHand,
		r.Reserved,
		r.Available,
		r.LowThreshold,
		lowStock,
		r.UnitCost.InexactFloat64(),
		r.StockValue().InexactFloat64(),
	}
}

var InventoryReportHeadings = []string{
	"MaterialId", "Name", "Kind", "StockUnit", "OnHand", "Reserved",
	"Available", "LowThreshold", "LowStock", "UnitCost", "StockValue",
}

const inventorySheet = "Inventory"

// GetInventoryReport reads every inventory position with its material, ordered by material id.
func GetInventoryReport(ctx context.Context, ledger *models.Ledger) ([]*InventoryReportRow, error) {
	records, err := ledger.List(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]*InventoryReportRow, 0, len(records))
	for _, rec := range records {
		row := &InventoryReportRow{
			MaterialId:   rec.MaterialId,
			OnHand:       rec.OnHand,
			Reserved:     rec.Reserved,
			Available:    rec.Available(),
			LowThreshold: rec.LowThreshold,
			IsLowStock:   rec.IsLowStock,
		}
		if rec.Material != nil {
			row.Name = rec.Material.Name
			row.Kind = rec.Material.Kind
			row.StockUnit = rec.Material.StockUnit
			row.UnitCost = rec.Material.UnitCost
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func inventoryWorkbook(rows []*InventoryReportRow) (*excelize.File, error) {
	data := make([]ExcelExporter, 0, len(rows))
	for _, r := range rows {
		data = append(data, r)
	}
	return buildWorkbook(inventorySheet, data, InventoryReportHeadings...)
}

// WriteInventoryWorkbook streams the report as xlsx.
func WriteInventoryWorkbook(w io.Writer, rows []*InventoryReportRow) error {
	f, err := inventoryWorkbook(rows)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

func SaveInventoryWorkbook(filename string, rows []*InventoryReportRow) error {
	f, err := inventoryWorkbook(rows)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(filename)
}

func buildWorkbook(sheetName string, data []ExcelExporter, headings ...string) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, err
	}

	// Add headers
	for i, h := range headings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, err
		}
	}

	// Add data
	rowNo := 2
	for _, d := range data {
		for i, value := range d.GetCellValues() {
			cell, err := excelize.CoordinatesToCellName(i+1, rowNo)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return nil, fmt.Errorf("row %d: %w", rowNo, err)
			}
		}
		rowNo++
	}
	return f, nil
}
