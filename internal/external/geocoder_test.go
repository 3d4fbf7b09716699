package external

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/address-normalizer/app/models"
)

func serve(t *testing.T, status int, body string, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNominatim_Mapping(t *testing.T) {
	body := `[
		{"lat": "40.1772", "lon": "44.5035", "importance": 0.41, "address": {
			"road": "Abovyan Street", "house_number": "12", "suburb": "Kentron",
			"city": "Yerevan", "country": "Armenia"}},
		{"lat": "40.2", "lon": "44.6", "importance": 0.73, "address": {
			"locality": "Arinj village", "state": "Kotayk Province", "municipality": "Abovyan",
			"quarter": "3rd Quarter", "city_block": "Block 5"}}
	]`
	srv := serve(t, http.StatusOK, body, func(r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "Abovyan 12", q.Get("q"))
		assert.Equal(t, "json", q.Get("format"))
		assert.Equal(t, "1", q.Get("addressdetails"))
		assert.Equal(t, "en", q.Get("accept-language"))
		assert.Equal(t, "5", q.Get("limit"))
		assert.Equal(t, "am", q.Get("countrycodes"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
	})

	n := NewNominatim(NominatimConfig{HTTPConfig: HTTPConfig{BaseURL: srv.URL}, CountryCodes: "am"}, nil)
	results, err := n.Geocode(context.Background(), "Abovyan 12", "")
	require.NoError(t, err)
	require.Len(t, results, 2)

	// ranked by importance
	first := results[0]
	assert.Equal(t, AdapterNominatim, first.Adapter)
	assert.InDelta(t, 0.73, *first.Confidence, 1e-9)
	assert.Equal(t, "Arinj village", first.Components[models.ComponentVillage])
	assert.Equal(t, "Kotayk Province", first.Components[models.ComponentProvince])
	assert.Equal(t, "Abovyan", first.Components[models.ComponentAdministrativeUnit])
	assert.Equal(t, "3rd Quarter", first.Components[models.ComponentNeighbourhood])
	assert.Equal(t, "Block 5", first.Components[models.ComponentBlock])

	second := results[1]
	assert.Equal(t, "Abovyan Street", second.Components[models.ComponentStreet])
	assert.Equal(t, "12", second.Components[models.ComponentBuildingCode])
	assert.Equal(t, "Kentron", second.Components[models.ComponentAdministrativeUnit], "Yerevan district suburb")
	assert.Empty(t, second.Components[models.ComponentNeighbourhood])
	assert.Equal(t, "Yerevan", second.Components[models.ComponentTown])
	require.NotNil(t, second.Latitude)
	assert.InDelta(t, 40.1772, *second.Latitude, 1e-9)
	assert.InDelta(t, 44.5035, *second.Longitude, 1e-9)
}

func TestNominatim_EmptyAndNoMatch(t *testing.T) {
	srv := serve(t, http.StatusOK, `[]`, nil)
	n := NewNominatim(NominatimConfig{HTTPConfig: HTTPConfig{BaseURL: srv.URL}}, nil)

	results, err := n.Geocode(context.Background(), "nowhere at all", "en")
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)

	results, err = n.Geocode(context.Background(), "   ", "en")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHTTPAdapters_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   ErrorKind
	}{
		{"quota", http.StatusForbidden, `{"error":"quota"}`, KindQuotaExceeded},
		{"payment", http.StatusPaymentRequired, ``, KindQuotaExceeded},
		{"throttled", http.StatusTooManyRequests, ``, KindUnavailable},
		{"server", http.StatusBadGateway, ``, KindUnavailable},
		{"bad request", http.StatusBadRequest, `nope`, KindInvalidRequest},
		{"request timeout", http.StatusRequestTimeout, ``, KindTimeout},
		{"garbage", http.StatusOK, `{not json`, KindDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, tt.status, tt.body, nil)
			adapters := []Geocoder{
				NewNominatim(NominatimConfig{HTTPConfig: HTTPConfig{BaseURL: srv.URL}}, nil),
				NewAzure(AzureConfig{HTTPConfig: HTTPConfig{BaseURL: srv.URL, APIKey: "k"}}, nil),
				NewYandex(YandexConfig{HTTPConfig: HTTPConfig{BaseURL: srv.URL, APIKey: "k"}}, nil),
				NewLibpostalHTTP(HTTPConfig{BaseURL: srv.URL}, nil),
			}
			for _, g := range adapters {
				_, err := g.Geocode(context.Background(), "Abovyan 12", "")
				require.Error(t, err, g.Name())
				var ge *GeocodeError
				require.True(t, errors.As(err, &ge), g.Name())
				assert.Equal(t, tt.kind, ge.Kind, g.Name())
				assert.Equal(t, g.Name(), ge.Adapter)
			}
		})
	}
}

func TestHTTPAdapters_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	n := NewNominatim(NominatimConfig{HTTPConfig: HTTPConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}}, nil)
	_, err := n.Geocode(context.Background(), "Abovyan 12", "")
	require.Error(t, err)
	assert.True(t, IsTimeout(err), err.Error())
	assert.True(t, IsRetryable(err))
}

func TestHTTPAdapters_Cancelled(t *testing.T) {
	srv := serve(t, http.StatusOK, `[]`, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := NewNominatim(NominatimConfig{HTTPConfig: HTTPConfig{BaseURL: srv.URL}}, nil)
	_, err := n.Geocode(ctx, "Abovyan 12", "")
	require.Error(t, err)
	assert.Equal(t, KindCancelled, KindOf(err))
	assert.False(t, IsRetryable(err))
}

func TestAzure_Mapping(t *testing.T) {
	body := `{"results": [
		{"score": 0.62, "address": {"streetName": "Tigran Mets Avenue", "streetNumber": "4",
			"municipality": "Kentron", "locality": "Yerevan", "countrySubdivision": "Yerevan",
			"country": "Armenia"}, "position": {"lat": 40.17, "lon": 44.51}},
		{"address": {"countryRegion": "Armenia", "neighbourhood": "Nor Nork 2nd Microdistrict"}},
		{"score": 0.91, "address": {"countrySecondarySubdivision": "Abovyan", "countrySubdivision": "Kotayk",
			"country": "Armenia", "postalCode": 2201}}
	]}`
	srv := serve(t, http.StatusOK, body, func(r *http.Request) {
		assert.Equal(t, "/search/address/json", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "1.0", q.Get("api-version"))
		assert.Equal(t, "secret", q.Get("subscription-key"))
		assert.Equal(t, "Tigran Mets 4", q.Get("query"))
		assert.Equal(t, "AM", q.Get("countrySet"))
	})

	a := NewAzure(AzureConfig{HTTPConfig: HTTPConfig{BaseURL: srv.URL, APIKey: "secret"}, CountrySet: "AM"}, nil)
	results, err := a.Geocode(context.Background(), "Tigran Mets 4", "")
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "Abovyan", results[0].Components[models.ComponentAdministrativeUnit])
	assert.Equal(t, "Kotayk", results[0].Components[models.ComponentProvince])

	assert.Equal(t, "Tigran Mets Avenue", results[1].Components[models.ComponentStreet])
	assert.Equal(t, "4", results[1].Components[models.ComponentBuildingCode])
	assert.Equal(t, "Kentron", results[1].Components[models.ComponentAdministrativeUnit])
	assert.Equal(t, "Yerevan", results[1].Components[models.ComponentTown])
	require.NotNil(t, results[1].Latitude)

	assert.Nil(t, results[2].Confidence, "unscored ranks last")
	assert.Equal(t, "Armenia", results[2].Components[models.ComponentCountry])
	assert.Equal(t, "Nor Nork 2nd Microdistrict", results[2].Components[models.ComponentNeighbourhood])
}

func TestAzure_MissingKey(t *testing.T) {
	_, err := NewAzure(AzureConfig{}, nil).Geocode(context.Background(), "Yerevan", "")
	assert.Equal(t, KindInvalidRequest, KindOf(err))
}

func TestYandex_Mapping(t *testing.T) {
	body := `{"response": {"GeoObjectCollection": {"featureMember": [
		{"GeoObject": {
			"metaDataProperty": {"GeocoderMetaData": {"precision": "street", "Address": {"Components": [
				{"kind": "country", "name": "Armenia"},
				{"kind": "province", "name": "Kotayk Province"},
				{"kind": "province", "name": "Abovyan community"},
				{"kind": "locality", "name": "Arinj village"},
				{"kind": "street", "name": "1st Street"}]}}},
			"Point": {"pos": "44.566 40.231"}}},
		{"GeoObject": {
			"metaDataProperty": {"GeocoderMetaData": {"precision": "exact", "Address": {"Components": [
				{"kind": "country", "name": "Armenia"},
				{"kind": "province", "name": "Yerevan"},
				{"kind": "locality", "name": "Yerevan"},
				{"kind": "area", "name": "Arabkir"},
				{"kind": "district", "name": "Komitas"},
				{"kind": "street", "name": "Komitas Avenue"},
				{"kind": "house", "name": "38"},
				{"kind": "metro", "name": "Barekamutyun"}]}}},
			"Point": {"pos": "44.5 40.2"}}}
	]}}}`
	srv := serve(t, http.StatusOK, body, func(r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "key", q.Get("apikey"))
		assert.Equal(t, "Komitas 38", q.Get("geocode"))
		assert.Equal(t, "json", q.Get("format"))
		assert.Equal(t, "en_US", q.Get("lang"))
		assert.Equal(t, "43.4,38.8~46.7,41.4", q.Get("bbox"))
	})

	y := NewYandex(YandexConfig{HTTPConfig: HTTPConfig{BaseURL: srv.URL, APIKey: "key"}, BBox: "43.4,38.8~46.7,41.4"}, nil)
	results, err := y.Geocode(context.Background(), "Komitas 38", "")
	require.NoError(t, err)
	require.Len(t, results, 2)

	exact := results[0]
	assert.InDelta(t, 1.0, *exact.Confidence, 1e-9)
	assert.Equal(t, "Arabkir", exact.Components[models.ComponentAdministrativeUnit])
	assert.Equal(t, "Komitas", exact.Components[models.ComponentNeighbourhood])
	assert.Equal(t, "38", exact.Components[models.ComponentBuildingCode])
	assert.Equal(t, "Yerevan", exact.Components[models.ComponentTown])
	assert.InDelta(t, 40.2, *exact.Latitude, 1e-9)
	assert.InDelta(t, 44.5, *exact.Longitude, 1e-9)

	village := results[1]
	assert.Equal(t, "Arinj village", village.Components[models.ComponentVillage])
	assert.Empty(t, village.Components[models.ComponentTown])
	assert.Equal(t, "Abovyan community", village.Components[models.ComponentProvince], "later components win")
	assert.InDelta(t, 40.231, *village.Latitude, 1e-9)
}

func TestParsePos(t *testing.T) {
	lon, lat, ok := parsePos("44.5 40.2")
	require.True(t, ok)
	assert.Equal(t, 44.5, lon)
	assert.Equal(t, 40.2, lat)

	for _, bad := range []string{"", "44.5", "a b", "1 2 3"} {
		_, _, ok := parsePos(bad)
		assert.False(t, ok, bad)
	}
}

func TestLibpostalHTTP(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"pairs", `[["12", "house_number"], ["abovyan street", "road"], ["yerevan", "city"], ["armenia", "country"]]`},
		{"objects", `[{"label": "house_number", "value": "12"}, {"label": "road", "value": "abovyan street"},
			{"label": "city", "value": "yerevan"}, {"label": "country", "value": "armenia"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, http.StatusOK, tt.body, func(r *http.Request) {
				assert.Equal(t, "/parse", r.URL.Path)
				assert.Equal(t, "12 Abovyan Street, Yerevan", r.URL.Query().Get("address"))
			})
			l := NewLibpostalHTTP(HTTPConfig{BaseURL: srv.URL}, nil)
			results, err := l.Geocode(context.Background(), "12 Abovyan Street, Yerevan", "")
			require.NoError(t, err)
			require.Len(t, results, 1)

			r := results[0]
			assert.Nil(t, r.Confidence)
			assert.Equal(t, "12", r.Components[models.ComponentBuildingCode])
			assert.Equal(t, "Abovyan Street", r.Components[models.ComponentStreet])
			assert.Equal(t, "Yerevan", r.Components[models.ComponentTown])
			assert.Equal(t, "Armenia", r.Components[models.ComponentCountry])
		})
	}
}

func TestLibpostalHTTP_NoComponents(t *testing.T) {
	srv := serve(t, http.StatusOK, `[["xyz", "unknown_label"]]`, nil)
	results, err := NewLibpostalHTTP(HTTPConfig{BaseURL: srv.URL}, nil).Geocode(context.Background(), "xyz", "")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRankResults(t *testing.T) {
	results := []models.GeocodeResult{
		{Adapter: "a"},
		{Adapter: "b", Confidence: floatPtr(0.2)},
		{Adapter: "c"},
		{Adapter: "d", Confidence: floatPtr(0.9)},
		{Adapter: "e", Confidence: floatPtr(0.2)},
	}
	RankResults(results)

	order := make([]string, len(results))
	for i, r := range results {
		order[i] = r.Adapter
	}
	assert.Equal(t, []string{"d", "b", "e", "a", "c"}, order)
}

func TestRateLimited(t *testing.T) {
	calls := 0
	inner := FuncGeocoder{ID: "fake", Fn: func(context.Context, string, string) ([]models.GeocodeResult, error) {
		calls++
		return []models.GeocodeResult{}, nil
	}}
	_, plain := RateLimited(inner, nil).(FuncGeocoder)
	assert.True(t, plain, "nil limiter is a no-op")

	g := RateLimited(inner, rate.NewLimiter(rate.Every(time.Hour), 1))
	assert.Equal(t, "fake", g.Name())
	_, err := g.Geocode(context.Background(), "q", "")
	require.NoError(t, err)

	// the bucket is empty now and the next token is an hour away
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Geocode(ctx, "q", "")
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	_, err = g.Geocode(ctx, "q", "")
	assert.Equal(t, KindCancelled, KindOf(err))
	assert.Equal(t, 1, calls)
}

func TestEmbeddedLibpostal_Stub(t *testing.T) {
	if _, err := NewEmbeddedLibpostal("hy", "am", nil); err == nil {
		t.Skip("built with libpostal")
	}
	var e *EmbeddedLibpostal
	_, err := e.Geocode(context.Background(), "Yerevan", "")
	assert.True(t, IsUnavailable(err))
}
