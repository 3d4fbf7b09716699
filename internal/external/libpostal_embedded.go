//go:build libpostal

package external

import (
	"context"
	"strings"

	"github.com/openvenues/gopostal/expand"
	"github.com/openvenues/gopostal/parser"
	"go.uber.org/zap"

	"github.com/address-normalizer/app/models"
)

// EmbeddedLibpostal parses in-process through the libpostal C library.
type EmbeddedLibpostal struct {
	language string
	country  string
	logger   *zap.Logger
}

func NewEmbeddedLibpostal(language, country string, logger *zap.Logger) (*EmbeddedLibpostal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddedLibpostal{language: language, country: country, logger: logger}, nil
}

func (e *EmbeddedLibpostal) Name() string { return AdapterLibpostal }

func (e *EmbeddedLibpostal) Geocode(ctx context.Context, query, _ string) ([]models.GeocodeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, transportError(ctx, AdapterLibpostal, err)
	}
	if strings.TrimSpace(query) == "" {
		return []models.GeocodeResult{}, nil
	}

	r := e.parse(query)
	if r.Components[models.ComponentStreet] == "" {
		// an expanded form sometimes parses where the raw one does not
		opts := expand.GetDefaultExpansionOptions()
		if e.language != "" {
			opts.Languages = []string{e.language}
		}
		if exps := expand.ExpandAddressOptions(query, opts); len(exps) > 0 {
			if alt := e.parse(exps[0]); len(alt.Components) > len(r.Components) {
				r = alt
			}
		}
	}
	if r.Empty() {
		return []models.GeocodeResult{}, nil
	}
	return []models.GeocodeResult{r}, nil
}

func (e *EmbeddedLibpostal) parse(text string) models.GeocodeResult {
	comps := parser.ParseAddressOptions(text, parser.ParserOptions{Language: e.language, Country: e.country})
	parsed := make([]labelValue, 0, len(comps))
	for _, c := range comps {
		parsed = append(parsed, labelValue{Label: c.Label, Value: c.Value})
	}
	return libpostalResult(parsed)
}
