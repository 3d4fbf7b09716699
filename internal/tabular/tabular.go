// Package tabular reads raw address listings from CSV, XLSX and NDJSON
// files and writes normalized results back in the same formats.
package tabular

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/address-normalizer/app/models"
)

// Format is a file format.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatXLSX   Format = "xlsx"
	FormatNDJSON Format = "ndjson"
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".ndjson", ".jsonl":
		return FormatNDJSON, nil
	}
	return "", fmt.Errorf("unsupported file type %q", filepath.Ext(path))
}

// ReadOptions select the input column and sheet.
type ReadOptions struct {
	// Column holding the address text; "address", "raw" or "text" when empty.
	Column string
	// Sheet for XLSX input; the first sheet when empty.
	Sheet string
}

var defaultColumns = []string{"address", "raw", "text", "raw_address"}

// ReadFile reads raw addresses from path.
func ReadFile(path string, opts ReadOptions) ([]models.RawAddress, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	if format == FormatXLSX {
		return ReadXLSXFile(path, opts)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	if format == FormatCSV {
		return ReadCSV(f, opts)
	}
	return ReadNDJSON(f)
}

// WriteFile writes one row per result to path, in input order.
func WriteFile(path string, results []*models.NormalizedAddress) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	if format == FormatXLSX {
		return WriteXLSXFile(path, results)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if format == FormatCSV {
		err = WriteCSV(f, results)
	} else {
		err = WriteNDJSON(f, results)
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close output: %w", cerr)
	}
	return err
}

// Header is the output header: the raw text, then the result row.
func Header() []string {
	return append([]string{"raw"}, models.RowHeader()...)
}

func row(na *models.NormalizedAddress) []string {
	return append([]string{na.Raw}, na.Row()...)
}

// columns maps header names to indexes of the optional input fields.
type columns struct {
	text, language, country, currency, date int
}

func findColumns(header []string, want string) (columns, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	get := func(names ...string) int {
		for _, n := range names {
			if i, ok := idx[n]; ok {
				return i
			}
		}
		return -1
	}

	c := columns{
		language: get("language", "lang"),
		country:  get("country_hint", "country"),
		currency: get("currency"),
		date:     get("listing_date", "date"),
	}
	if want != "" {
		c.text = get(strings.ToLower(want))
		if c.text < 0 {
			return c, fmt.Errorf("column %q not found", want)
		}
		return c, nil
	}
	c.text = get(defaultColumns...)
	if c.text < 0 {
		if len(header) != 1 {
			return c, fmt.Errorf("no address column among %v", header)
		}
		c.text = 0
	}
	return c, nil
}

func (c columns) record(cells []string) models.RawAddress {
	cell := func(i int) string {
		if i < 0 || i >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[i])
	}
	rec := models.RawAddress{
		Text:        cell(c.text),
		Language:    cell(c.language),
		CountryHint: cell(c.country),
		Currency:    cell(c.currency),
	}
	if d := cell(c.date); d != "" {
		for _, layout := range []string{time.RFC3339, "2006-01-02", "02.01.2006"} {
			if t, err := time.Parse(layout, d); err == nil {
				rec.ListingDate = &t
				break
			}
		}
	}
	return rec
}
