package models

import (
	"time"
)

// AdminUnit is the flat form of one taxonomy node, as stored in MongoDB and
// indexed in Meilisearch.
type AdminUnit struct {
	AdminID         string    `bson:"admin_id" json:"admin_id" yaml:"admin_id"`
	ParentID        string    `bson:"parent_id,omitempty" json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Level           string    `bson:"level" json:"level" yaml:"level"` // country, province, administrative_unit, settlement
	Name            string    `bson:"name" json:"name" yaml:"name"`
	NormalizedName  string    `bson:"normalized_name,omitempty" json:"normalized_name,omitempty" yaml:"-"`
	Kind            string    `bson:"kind,omitempty" json:"kind,omitempty" yaml:"kind,omitempty"` // town, village, neighbourhood
	City            bool      `bson:"city,omitempty" json:"city,omitempty" yaml:"city,omitempty"`
	Alternates      []string  `bson:"alternates,omitempty" json:"alternates,omitempty" yaml:"alternates,omitempty"`
	Path            []string  `bson:"path,omitempty" json:"path,omitempty" yaml:"-"`
	TaxonomyVersion string    `bson:"taxonomy_version,omitempty" json:"taxonomy_version,omitempty" yaml:"-"`
	UpdatedAt       time.Time `bson:"updated_at,omitempty" json:"updated_at,omitempty" yaml:"-"`
}

// Level names
const (
	LevelNameCountry            = "country"
	LevelNameProvince           = "province"
	LevelNameAdministrativeUnit = "administrative_unit"
	LevelNameSettlement         = "settlement"
)

// Settlement kinds. Neighbourhoods are settlement-level parts of a city
// district.
const (
	KindTown          = "town"
	KindVillage       = "village"
	KindNeighbourhood = "neighbourhood"
)

// IsValidLevel reports whether Level is a known level name.
func (au *AdminUnit) IsValidLevel() bool {
	switch au.Level {
	case LevelNameCountry, LevelNameProvince, LevelNameAdministrativeUnit, LevelNameSettlement:
		return true
	}
	return false
}
