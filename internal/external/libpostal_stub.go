//go:build !libpostal

package external

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/address-normalizer/app/models"
)

// ErrLibpostalNotBuilt is returned when the binary lacks the libpostal tag.
var ErrLibpostalNotBuilt = errors.New("libpostal: built without the libpostal tag")

// EmbeddedLibpostal is unavailable in this build; use LibpostalHTTP.
type EmbeddedLibpostal struct{}

func NewEmbeddedLibpostal(_, _ string, _ *zap.Logger) (*EmbeddedLibpostal, error) {
	return nil, ErrLibpostalNotBuilt
}

func (e *EmbeddedLibpostal) Name() string { return AdapterLibpostal }

func (e *EmbeddedLibpostal) Geocode(context.Context, string, string) ([]models.GeocodeResult, error) {
	return nil, &GeocodeError{Adapter: AdapterLibpostal, Kind: KindUnavailable, Err: ErrLibpostalNotBuilt}
}
