package models

import (
	"sort"
	"strings"
	"time"
)

// Component is one atomic address field.
type Component string

const (
	ComponentCountry            Component = "country"
	ComponentProvince           Component = "province"
	ComponentAdministrativeUnit Component = "administrative_unit"
	ComponentTown               Component = "town"
	ComponentVillage            Component = "village"
	ComponentNeighbourhood      Component = "neighbourhood"
	ComponentStreet             Component = "street"
	ComponentStreetNumber       Component = "street_number"
	ComponentBlock              Component = "block"
	ComponentLane               Component = "lane"
	ComponentBuildingCode       Component = "building_code"
)

// Components lists every component in output column order.
var Components = []Component{
	ComponentBuildingCode,
	ComponentStreetNumber,
	ComponentStreet,
	ComponentBlock,
	ComponentLane,
	ComponentTown,
	ComponentVillage,
	ComponentNeighbourhood,
	ComponentAdministrativeUnit,
	ComponentProvince,
	ComponentCountry,
}

// Provenance records which source produced a field value.
type Provenance string

const (
	SourceTaxonomy       Provenance = "taxonomy-match"
	SourceRegex          Provenance = "regex-extraction"
	SourceManualOverride Provenance = "manual-override"
	SourceCountryHint    Provenance = "country-hint"
	sourceGeocoderPrefix            = "geocoder-"
)

// GeocoderSource builds the provenance tag for a geocoder adapter.
func GeocoderSource(adapter string) Provenance {
	return Provenance(sourceGeocoderPrefix + adapter)
}

// IsGeocoder reports whether p was stamped by a geocoder adapter.
func (p Provenance) IsGeocoder() bool {
	return strings.HasPrefix(string(p), sourceGeocoderPrefix)
}

// Status is the overall resolution outcome of one address.
type Status string

const (
	StatusResolved          Status = "Resolved"
	StatusPartiallyResolved Status = "PartiallyResolved"
	StatusNeedsReview       Status = "NeedsReview"
	StatusFailed            Status = "Failed"
)

// Statuses in reporting order.
var Statuses = []Status{StatusResolved, StatusPartiallyResolved, StatusNeedsReview, StatusFailed}

// Quality flags
const (
	FlagCrossHierarchy   = "CROSS_HIERARCHY"
	FlagAmbiguous        = "AMBIGUOUS_CANDIDATE"
	FlagTranslationError = "TRANSLATION_ERROR"
	FlagGeocoderError    = "GEOCODER_ERROR"
	FlagCancelled        = "cancelled"
	FlagManuallyVerified = "MANUALLY_VERIFIED"
)

// Field is one component value with its provenance.
type Field struct {
	Value          string     `json:"value" bson:"value"`
	Source         Provenance `json:"source" bson:"source"`
	Confidence     float64    `json:"confidence" bson:"confidence"`
	CrossHierarchy bool       `json:"cross_hierarchy,omitempty" bson:"cross_hierarchy,omitempty"`
}

// NormalizedAddress is the resolved output for one raw address.
type NormalizedAddress struct {
	Key              string              `json:"key" bson:"key"`
	Raw              string              `json:"raw" bson:"raw"`
	Translated       string              `json:"translated,omitempty" bson:"translated,omitempty"`
	Fields           map[Component]Field `json:"fields" bson:"fields"`
	Latitude         *float64            `json:"latitude,omitempty" bson:"latitude,omitempty"`
	Longitude        *float64            `json:"longitude,omitempty" bson:"longitude,omitempty"`
	Status           Status              `json:"status" bson:"status"`
	Flags            []string            `json:"flags,omitempty" bson:"flags,omitempty"`
	Errors           []string            `json:"errors,omitempty" bson:"errors,omitempty"`
	TaxonomyVersion  string              `json:"taxonomy_version" bson:"taxonomy_version"`
	ManuallyVerified bool                `json:"manually_verified,omitempty" bson:"manually_verified,omitempty"`
	ResolvedAt       time.Time           `json:"resolved_at" bson:"resolved_at"`
}

// NewNormalizedAddress returns an empty record for key.
func NewNormalizedAddress(key, raw string) *NormalizedAddress {
	return &NormalizedAddress{
		Key:    key,
		Raw:    raw,
		Fields: make(map[Component]Field),
		Status: StatusFailed,
	}
}

// Value returns the component value or "".
func (na *NormalizedAddress) Value(c Component) string {
	if na == nil || na.Fields == nil {
		return ""
	}
	return na.Fields[c].Value
}

// Has reports whether the component is set.
func (na *NormalizedAddress) Has(c Component) bool {
	return na.Value(c) != ""
}

// Set stores a field; empty values are ignored.
func (na *NormalizedAddress) Set(c Component, f Field) {
	if f.Value == "" {
		return
	}
	if na.Fields == nil {
		na.Fields = make(map[Component]Field)
	}
	na.Fields[c] = f
}

// Unset clears the component.
func (na *NormalizedAddress) Unset(c Component) {
	delete(na.Fields, c)
}

// AddFlag appends a flag once, keeping flags sorted.
func (na *NormalizedAddress) AddFlag(flag string) {
	for _, f := range na.Flags {
		if f == flag {
			return
		}
	}
	na.Flags = append(na.Flags, flag)
	sort.Strings(na.Flags)
}

// HasFlag reports whether flag is present.
func (na *NormalizedAddress) HasFlag(flag string) bool {
	for _, f := range na.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// IsEmpty reports whether no component was set.
func (na *NormalizedAddress) IsEmpty() bool {
	return len(na.Fields) == 0
}

// Clone returns a deep copy.
func (na *NormalizedAddress) Clone() *NormalizedAddress {
	if na == nil {
		return nil
	}
	out := *na
	out.Fields = make(map[Component]Field, len(na.Fields))
	for k, v := range na.Fields {
		out.Fields[k] = v
	}
	out.Flags = append([]string(nil), na.Flags...)
	out.Errors = append([]string(nil), na.Errors...)
	if na.Latitude != nil {
		lat := *na.Latitude
		out.Latitude = &lat
	}
	if na.Longitude != nil {
		lon := *na.Longitude
		out.Longitude = &lon
	}
	return &out
}

// IsValidStatus reports whether Status is a known value.
func (na *NormalizedAddress) IsValidStatus() bool {
	for _, s := range Statuses {
		if na.Status == s {
			return true
		}
	}
	return false
}

// Row flattens the record into output columns, in Components order.
func (na *NormalizedAddress) Row() []string {
	row := make([]string, 0, len(Components)+2)
	for _, c := range Components {
		row = append(row, na.Value(c))
	}
	return append(row, string(na.Status), strings.Join(na.Flags, ";"))
}

// RowHeader matches Row.
func RowHeader() []string {
	header := make([]string, 0, len(Components)+2)
	for _, c := range Components {
		header = append(header, string(c))
	}
	return append(header, "status", "flags")
}

// RawAddress is one immutable input record.
type RawAddress struct {
	Text        string     `json:"text"`
	Language    string     `json:"language,omitempty"`
	ListingDate *time.Time `json:"listing_date,omitempty"`
	Currency    string     `json:"currency,omitempty"`
	CountryHint string     `json:"country_hint,omitempty"`
}

// GeocodeResult is one adapter answer for one query.
type GeocodeResult struct {
	Adapter    string               `json:"adapter"`
	Components map[Component]string `json:"components"`
	Latitude   *float64             `json:"latitude,omitempty"`
	Longitude  *float64             `json:"longitude,omitempty"`
	Confidence *float64             `json:"confidence,omitempty"`
}

// Empty reports whether the result carries no components.
func (gr GeocodeResult) Empty() bool {
	for _, v := range gr.Components {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
