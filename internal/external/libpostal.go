package external

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/address-normalizer/app/models"
	"github.com/address-normalizer/internal/normalizer"
)

var libpostalLabels = labelSet{
	{"house_number", models.ComponentBuildingCode},
	{"road", models.ComponentStreet},
	{"suburb", models.ComponentNeighbourhood},
	{"city", models.ComponentTown},
	{"city_district", models.ComponentAdministrativeUnit},
	{"state_district", models.ComponentAdministrativeUnit},
	{"state", models.ComponentProvince},
	{"country", models.ComponentCountry},
}

type labelValue struct {
	Label string
	Value string
}

// libpostalResult maps parser output to one unscored result. A label seen
// twice keeps its last value. libpostal lower-cases, so values are
// title-cased back.
func libpostalResult(parsed []labelValue) models.GeocodeResult {
	fields := make(map[string]string, len(parsed))
	for _, p := range parsed {
		fields[p.Label] = normalizer.TitleCase(normalizer.CollapseWhitespace(p.Value))
	}
	r := models.GeocodeResult{Adapter: AdapterLibpostal, Components: make(map[models.Component]string)}
	libpostalLabels.apply(fields, r.Components)
	return r
}

// LibpostalHTTP calls a libpostal REST service (GET /parse?address=).
type LibpostalHTTP struct {
	cfg  HTTPConfig
	http *httpClient
}

func NewLibpostalHTTP(cfg HTTPConfig, logger *zap.Logger) *LibpostalHTTP {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	return &LibpostalHTTP{cfg: cfg, http: newHTTPClient(AdapterLibpostal, cfg, logger)}
}

func (l *LibpostalHTTP) Name() string { return AdapterLibpostal }

func (l *LibpostalHTTP) Geocode(ctx context.Context, query, _ string) ([]models.GeocodeResult, error) {
	if strings.TrimSpace(query) == "" {
		return []models.GeocodeResult{}, nil
	}
	params := url.Values{}
	params.Add("address", query)

	var raw json.RawMessage
	if err := l.http.getJSON(ctx, strings.TrimRight(l.cfg.BaseURL, "/")+"/parse", params, &raw); err != nil {
		return nil, err
	}
	parsed, err := decodeLibpostal(raw)
	if err != nil {
		return nil, &GeocodeError{Adapter: AdapterLibpostal, Kind: KindDecode, Message: "decode payload", Err: err}
	}
	r := libpostalResult(parsed)
	if r.Empty() {
		return []models.GeocodeResult{}, nil
	}
	return []models.GeocodeResult{r}, nil
}

// decodeLibpostal accepts [[value, label], ...] as well as the
// [{"label": ..., "value": ...}] shape of libpostal-rest.
func decodeLibpostal(raw json.RawMessage) ([]labelValue, error) {
	var pairs [][]string
	if err := json.Unmarshal(raw, &pairs); err == nil {
		out := make([]labelValue, 0, len(pairs))
		for _, p := range pairs {
			if len(p) == 2 {
				out = append(out, labelValue{Label: p[1], Value: p[0]})
			}
		}
		return out, nil
	}
	var objects []struct {
		Label string `json:"label"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &objects); err != nil {
		return nil, err
	}
	out := make([]labelValue, 0, len(objects))
	for _, o := range objects {
		out = append(out, labelValue{Label: o.Label, Value: o.Value})
	}
	return out, nil
}
