package external

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/address-normalizer/app/models"
)

const defaultAzureURL = "https://atlas.microsoft.com"

var azureLabels = labelSet{
	{"countrySubdivision", models.ComponentProvince},
	{"countrySubdivisionName", models.ComponentProvince},
	{"countrySecondarySubdivision", models.ComponentAdministrativeUnit},
	{"municipality", models.ComponentAdministrativeUnit},
	{"neighbourhood", models.ComponentNeighbourhood},
	{"municipalitySubdivision", models.ComponentNeighbourhood},
	{"locality", models.ComponentTown},
	{"streetName", models.ComponentStreet},
	{"streetNumber", models.ComponentBuildingCode},
	{"country", models.ComponentCountry},
	{"countryRegion", models.ComponentCountry},
}

type azureResponse struct {
	Results []struct {
		Score    *float64       `json:"score"`
		Address  map[string]any `json:"address"`
		Position *struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"position"`
	} `json:"results"`
}

// AzureConfig configures the Azure Maps address search adapter.
type AzureConfig struct {
	HTTPConfig
	CountrySet string // e.g. "AM"
	Language   string
}

// Azure calls the Azure Maps search/address endpoint.
type Azure struct {
	cfg  AzureConfig
	http *httpClient
}

func NewAzure(cfg AzureConfig, logger *zap.Logger) *Azure {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAzureURL
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	return &Azure{cfg: cfg, http: newHTTPClient(AdapterAzure, cfg.HTTPConfig, logger)}
}

func (a *Azure) Name() string { return AdapterAzure }

func (a *Azure) Geocode(ctx context.Context, query, locale string) ([]models.GeocodeResult, error) {
	if strings.TrimSpace(query) == "" {
		return []models.GeocodeResult{}, nil
	}
	if a.cfg.APIKey == "" {
		return nil, &GeocodeError{Adapter: AdapterAzure, Kind: KindInvalidRequest, Message: "missing subscription key"}
	}
	lang := a.cfg.Language
	if locale != "" {
		lang = locale
	}

	params := url.Values{}
	params.Add("api-version", "1.0")
	params.Add("subscription-key", a.cfg.APIKey)
	params.Add("query", query)
	params.Add("limit", strconv.Itoa(a.cfg.Limit))
	if lang != "" {
		params.Add("language", lang)
	}
	if a.cfg.CountrySet != "" {
		params.Add("countrySet", a.cfg.CountrySet)
	}

	var payload azureResponse
	if err := a.http.getJSON(ctx, strings.TrimRight(a.cfg.BaseURL, "/")+"/search/address/json", params, &payload); err != nil {
		return nil, err
	}

	results := make([]models.GeocodeResult, 0, len(payload.Results))
	for _, item := range payload.Results {
		fields := make(map[string]string, len(item.Address))
		for k, v := range item.Address {
			if s, ok := v.(string); ok {
				fields[k] = s
			}
		}
		r := models.GeocodeResult{
			Adapter:    AdapterAzure,
			Components: make(map[models.Component]string),
			Confidence: item.Score,
		}
		azureLabels.apply(fields, r.Components)
		if item.Position != nil {
			r.Latitude = floatPtr(item.Position.Lat)
			r.Longitude = floatPtr(item.Position.Lon)
		}
		if r.Empty() {
			continue
		}
		results = append(results, r)
	}
	RankResults(results)
	return results, nil
}
