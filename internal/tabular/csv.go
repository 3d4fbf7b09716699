package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/address-normalizer/app/models"
)

// ReadCSV reads a headed CSV listing.
func ReadCSV(r io.Reader, opts ReadOptions) ([]models.RawAddress, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols, err := findColumns(header, opts.Column)
	if err != nil {
		return nil, err
	}

	var out []models.RawAddress
	for line := 2; ; line++ {
		cells, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		out = append(out, cols.record(cells))
	}
	return out, nil
}

// WriteCSV writes results with Header.
func WriteCSV(w io.Writer, results []*models.NormalizedAddress) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, na := range results {
		if err := cw.Write(row(na)); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
