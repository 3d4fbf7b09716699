package external

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/address-normalizer/app/models"
)

const defaultYandexURL = "https://geocode-maps.yandex.ru/1.x/"

var yandexKinds = map[string]models.Component{
	"country":  models.ComponentCountry,
	"province": models.ComponentProvince,
	"area":     models.ComponentAdministrativeUnit,
	"locality": models.ComponentTown,
	"district": models.ComponentNeighbourhood,
	"street":   models.ComponentStreet,
	"house":    models.ComponentBuildingCode,
}

// yandexPrecision turns the geocoder precision into a confidence.
var yandexPrecision = map[string]float64{
	"exact":  1.0,
	"number": 0.9,
	"near":   0.8,
	"range":  0.7,
	"street": 0.6,
	"other":  0.3,
}

type yandexResponse struct {
	Response struct {
		GeoObjectCollection struct {
			FeatureMember []struct {
				GeoObject struct {
					MetaDataProperty struct {
						GeocoderMetaData struct {
							Precision string `json:"precision"`
							Address   struct {
								Components []struct {
									Kind string `json:"kind"`
									Name string `json:"name"`
								} `json:"Components"`
							} `json:"Address"`
						} `json:"GeocoderMetaData"`
					} `json:"metaDataProperty"`
					Point struct {
						Pos string `json:"pos"`
					} `json:"Point"`
				} `json:"GeoObject"`
			} `json:"featureMember"`
		} `json:"GeoObjectCollection"`
	} `json:"response"`
}

// YandexConfig configures the Yandex geocoder adapter.
type YandexConfig struct {
	HTTPConfig
	BBox string // "lon1,lat1~lon2,lat2"
}

// Yandex calls the Yandex HTTP geocoder.
type Yandex struct {
	cfg  YandexConfig
	http *httpClient
}

func NewYandex(cfg YandexConfig, logger *zap.Logger) *Yandex {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultYandexURL
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	return &Yandex{cfg: cfg, http: newHTTPClient(AdapterYandex, cfg.HTTPConfig, logger)}
}

func (y *Yandex) Name() string { return AdapterYandex }

func (y *Yandex) Geocode(ctx context.Context, query, locale string) ([]models.GeocodeResult, error) {
	if strings.TrimSpace(query) == "" {
		return []models.GeocodeResult{}, nil
	}
	if y.cfg.APIKey == "" {
		return nil, &GeocodeError{Adapter: AdapterYandex, Kind: KindInvalidRequest, Message: "missing api key"}
	}
	if locale == "" {
		locale = "en_US"
	}

	params := url.Values{}
	params.Add("apikey", y.cfg.APIKey)
	params.Add("geocode", query)
	params.Add("format", "json")
	params.Add("lang", locale)
	params.Add("results", strconv.Itoa(y.cfg.Limit))
	if y.cfg.BBox != "" {
		params.Add("bbox", y.cfg.BBox)
	}

	var payload yandexResponse
	if err := y.http.getJSON(ctx, y.cfg.BaseURL, params, &payload); err != nil {
		return nil, err
	}

	members := payload.Response.GeoObjectCollection.FeatureMember
	results := make([]models.GeocodeResult, 0, len(members))
	for _, m := range members {
		meta := m.GeoObject.MetaDataProperty.GeocoderMetaData
		r := models.GeocodeResult{
			Adapter:    AdapterYandex,
			Components: make(map[models.Component]string),
		}
		// later components are more specific, so they overwrite
		for _, c := range meta.Address.Components {
			comp, ok := yandexKinds[c.Kind]
			name := strings.TrimSpace(c.Name)
			if !ok || name == "" {
				continue
			}
			if comp == models.ComponentTown && isVillageLabel(name) {
				comp = models.ComponentVillage
			}
			r.Components[comp] = name
		}
		if conf, ok := yandexPrecision[meta.Precision]; ok {
			r.Confidence = floatPtr(conf)
		}
		if lon, lat, ok := parsePos(m.GeoObject.Point.Pos); ok {
			r.Latitude = floatPtr(lat)
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

// parsePos reads a "lon lat" pair.
func parsePos(pos string) (lon, lat float64, ok bool) {
	parts := strings.Fields(pos)
	if len(parts) != 2 {
		return 0, 0, false
	}
	lon, err1 := strconv.ParseFloat(parts[0], 64)
	lat, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lon, lat, true
}
