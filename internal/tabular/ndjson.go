package tabular

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/address-normalizer/app/models"
)

// ndjsonRecord also accepts written results, whose text is under "raw".
type ndjsonRecord struct {
	models.RawAddress
	Raw string `json:"raw"`
}

// ReadNDJSON reads one record per line: either a RawAddress object or a
// bare JSON string. Blank lines are skipped.
func ReadNDJSON(r io.Reader) ([]models.RawAddress, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var out []models.RawAddress
	for line := 1; sc.Scan(); line++ {
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var rec ndjsonRecord
		if b[0] == '"' {
			if err := json.Unmarshal(b, &rec.Text); err != nil {
				return nil, fmt.Errorf("ndjson line %d: %w", line, err)
			}
		} else if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("ndjson line %d: %w", line, err)
		}
		if rec.Text == "" {
			rec.Text = rec.Raw
		}
		out = append(out, rec.RawAddress)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ndjson: %w", err)
	}
	return out, nil
}

// WriteNDJSON writes one JSON record per line.
func WriteNDJSON(w io.Writer, results []*models.NormalizedAddress) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, na := range results {
		if err := enc.Encode(na); err != nil {
			return fmt.Errorf("write ndjson: %w", err)
		}
	}
	return bw.Flush()
}
