package external

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/address-normalizer/app/models"
)

// Adapter names stamped on results.
const (
	AdapterNominatim = "nominatim"
	AdapterAzure     = "azure"
	AdapterYandex    = "yandex"
	AdapterLibpostal = "libpostal"
)

// Geocoder turns a free-text query into ranked structured candidates.
// Results are ordered by confidence, highest first; unscored results come
// last. No match is an empty slice, not an error. Errors are *GeocodeError.
type Geocoder interface {
	Name() string
	Geocode(ctx context.Context, query, locale string) ([]models.GeocodeResult, error)
}

// FuncGeocoder adapts a function to Geocoder.
type FuncGeocoder struct {
	ID string
	Fn func(ctx context.Context, query, locale string) ([]models.GeocodeResult, error)
}

func (f FuncGeocoder) Name() string { return f.ID }

func (f FuncGeocoder) Geocode(ctx context.Context, query, locale string) ([]models.GeocodeResult, error) {
	return f.Fn(ctx, query, locale)
}

type rateLimited struct {
	Geocoder
	limiter *rate.Limiter
}

// RateLimited makes g wait on limiter before every call.
func RateLimited(g Geocoder, limiter *rate.Limiter) Geocoder {
	if limiter == nil {
		return g
	}
	return &rateLimited{Geocoder: g, limiter: limiter}
}

func (r *rateLimited) Geocode(ctx context.Context, query, locale string) ([]models.GeocodeResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		kind := KindTimeout
		if ctx.Err() == context.Canceled {
			kind = KindCancelled
		}
		return nil, &GeocodeError{Adapter: r.Name(), Kind: kind, Message: "rate limit wait", Err: err}
	}
	return r.Geocoder.Geocode(ctx, query, locale)
}

// NewLimiter builds a limiter for perSecond calls; 0 means unlimited.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// RankResults orders results by confidence, highest first. Unscored results
// keep their backend order after every scored one.
func RankResults(results []models.GeocodeResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].Confidence, results[j].Confidence
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return *a > *b
	})
}

// HTTPConfig is shared by the HTTP adapters.
type HTTPConfig struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	Limit     int
	UserAgent string
}

type httpClient struct {
	name      string
	client    *http.Client
	timeout   time.Duration
	userAgent string
	logger    *zap.Logger
}

func newHTTPClient(name string, cfg HTTPConfig, logger *zap.Logger) *httpClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "address-normalizer/1.0"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &httpClient{
		name:      name,
		client:    &http.Client{},
		timeout:   timeout,
		userAgent: ua,
		logger:    logger.With(zap.String("adapter", name)),
	}
}

// getJSON issues one GET under the per-call timeout and decodes the body.
func (c *httpClient) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := endpoint
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		reqURL += sep + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &GeocodeError{Adapter: c.name, Kind: KindInvalidRequest, Message: "build request", Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return transportError(ctx, c.name, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return transportError(ctx, c.name, err)
	}
	if statusKind(resp.StatusCode) != "" {
		c.logger.Warn("Geocoder upstream error", zap.Int("status", resp.StatusCode))
		return statusError(c.name, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &GeocodeError{Adapter: c.name, Kind: KindDecode, Status: resp.StatusCode, Message: "decode payload", Err: err}
	}
	return nil
}

// labelSet fills components from provider labels. The first non-empty label
// mapped to a component wins.
type labelSet []struct {
	label     string
	component models.Component
}

func (ls labelSet) apply(fields map[string]string, into map[models.Component]string) {
	for _, l := range ls {
		if _, done := into[l.component]; done {
			continue
		}
		if v := strings.TrimSpace(fields[l.label]); v != "" {
			into[l.component] = v
		}
	}
}

func isVillageLabel(s string) bool {
	return strings.Contains(strings.ToLower(s), "village")
}

func floatPtr(f float64) *float64 { return &f }
