package external

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/address-normalizer/app/models"
	"github.com/address-normalizer/internal/normalizer"
)

const defaultNominatimURL = "https://nominatim.openstreetmap.org"

// DefaultYerevanDistricts are the Yerevan administrative districts that
// Nominatim reports as suburbs.
var DefaultYerevanDistricts = []string{
	"Ajapnyak", "Arabkir", "Avan", "Davtashen", "Erebuni", "Kanaker-Zeytun",
	"Qanaqer-Zeytun", "Kentron", "Malatia-Sebastia", "Nork-Marash", "Nor Nork",
	"Nubarashen", "Shengavit",
}

var nominatimLabels = labelSet{
	{"house_number", models.ComponentBuildingCode},
	{"road", models.ComponentStreet},
	{"highway", models.ComponentStreet},
	{"country", models.ComponentCountry},
	{"state", models.ComponentProvince},
	{"state_district", models.ComponentAdministrativeUnit},
	{"municipality", models.ComponentAdministrativeUnit},
	{"city", models.ComponentTown},
	{"town", models.ComponentTown},
	{"village", models.ComponentVillage},
	{"suburb", models.ComponentNeighbourhood},
	{"neighbourhood", models.ComponentNeighbourhood},
	{"quarter", models.ComponentNeighbourhood},
	{"allotments", models.ComponentNeighbourhood},
	{"subdivision", models.ComponentNeighbourhood},
	{"city_block", models.ComponentBlock},
}

type nominatimPlace struct {
	Lat         string            `json:"lat"`
	Lon         string            `json:"lon"`
	Importance  *float64          `json:"importance"`
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
}

// NominatimConfig configures the OSM Nominatim adapter.
type NominatimConfig struct {
	HTTPConfig
	CountryCodes string   // e.g. "am"
	Districts    []string // suburbs that are really administrative units
}

// Nominatim queries a public or self-hosted Nominatim search endpoint.
type Nominatim struct {
	cfg       NominatimConfig
	http      *httpClient
	districts map[string]bool
}

func NewNominatim(cfg NominatimConfig, logger *zap.Logger) *Nominatim {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultNominatimURL
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	names := cfg.Districts
	if len(names) == 0 {
		names = DefaultYerevanDistricts
	}
	districts := make(map[string]bool, len(names))
	for _, d := range names {
		districts[normalizer.Fold(d)] = true
	}
	return &Nominatim{
		cfg:       cfg,
		http:      newHTTPClient(AdapterNominatim, cfg.HTTPConfig, logger),
		districts: districts,
	}
}

func (n *Nominatim) Name() string { return AdapterNominatim }

func (n *Nominatim) Geocode(ctx context.Context, query, locale string) ([]models.GeocodeResult, error) {
	if strings.TrimSpace(query) == "" {
		return []models.GeocodeResult{}, nil
	}
	if locale == "" {
		locale = "en"
	}
	params := url.Values{}
	params.Add("q", query)
	params.Add("format", "json")
	params.Add("addressdetails", "1")
	params.Add("accept-language", locale)
	params.Add("limit", strconv.Itoa(n.cfg.Limit))
	if n.cfg.CountryCodes != "" {
		params.Add("countrycodes", n.cfg.CountryCodes)
	}

	var places []nominatimPlace
	if err := n.http.getJSON(ctx, strings.TrimRight(n.cfg.BaseURL, "/")+"/search", params, &places); err != nil {
		return nil, err
	}

	results := make([]models.GeocodeResult, 0, len(places))
	for _, p := range places {
		r := models.GeocodeResult{
			Adapter:    AdapterNominatim,
			Components: n.components(p.Address),
			Confidence: p.Importance,
		}
		if lat, err := strconv.ParseFloat(p.Lat, 64); err == nil {
			r.Latitude = floatPtr(lat)
		}
		if lon, err := strconv.ParseFloat(p.Lon, 64); err == nil {
			r.Longitude = floatPtr(lon)
		}
		if r.Empty() {
			continue
		}
		results = append(results, r)
	}
	RankResults(results)
	return results, nil
}

func (n *Nominatim) components(address map[string]string) map[models.Component]string {
	fields := make(map[string]string, len(address))
	for k, v := range address {
		fields[k] = v
	}
	out := make(map[models.Component]string)

	if suburb := strings.TrimSpace(fields["suburb"]); suburb != "" && n.districts[normalizer.Fold(suburb)] {
		out[models.ComponentAdministrativeUnit] = suburb
		delete(fields, "suburb")
	}
	if locality := strings.TrimSpace(fields["locality"]); locality != "" && isVillageLabel(locality) {
		out[models.ComponentVillage] = locality
	}
	nominatimLabels.apply(fields, out)
	return out
}
