package tabular

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/address-normalizer/app/models"
)

// ResultSheet is the sheet name of written workbooks.
const ResultSheet = "Addresses"

// ReadXLSXFile reads a headed sheet from a workbook on disk.
func ReadXLSXFile(path string, opts ReadOptions) ([]models.RawAddress, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return readWorkbook(f, opts)
}

// ReadXLSX reads a headed sheet from a workbook stream.
func ReadXLSX(r io.Reader, opts ReadOptions) ([]models.RawAddress, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return readWorkbook(f, opts)
}

func readWorkbook(f *excelize.File, opts ReadOptions) ([]models.RawAddress, error) {
	sheet := opts.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if sheet == "" {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	cols, err := findColumns(rows[0], opts.Column)
	if err != nil {
		return nil, err
	}
	out := make([]models.RawAddress, 0, len(rows)-1)
	for _, cells := range rows[1:] {
		out = append(out, cols.record(cells))
	}
	return out, nil
}

// WriteXLSXFile saves results as a workbook with a bold header row.
func WriteXLSXFile(path string, results []*models.NormalizedAddress) error {
	f, err := buildWorkbook(results)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// WriteXLSX streams the workbook to w.
func WriteXLSX(w io.Writer, results []*models.NormalizedAddress) error {
	f, err := buildWorkbook(results)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func buildWorkbook(results []*models.NormalizedAddress) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), ResultSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("name sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	header := Header()
	if err := setRow(f, 1, header); err != nil {
		f.Close()
		return nil, err
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := f.SetCellStyle(ResultSheet, "A1", last, headerStyle); err != nil {
		f.Close()
		return nil, fmt.Errorf("style header: %w", err)
	}
	for i, na := range results {
		if err := setRow(f, i+2, row(na)); err != nil {
			f.Close()
			return nil, err
		}
	}
	for i := range header {
		col, _ := excelize.ColumnNumberToName(i + 1)
		width := 18.0
		if i == 0 {
			width = 48
		}
		_ = f.SetColWidth(ResultSheet, col, col, width)
	}
	return f, nil
}

func setRow(f *excelize.File, n int, values []string) error {
	cell, _ := excelize.CoordinatesToCellName(1, n)
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := f.SetSheetRow(ResultSheet, cell, &cells); err != nil {
		return fmt.Errorf("write row %d: %w", n, err)
	}
	return nil
}
