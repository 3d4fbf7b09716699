package normalizer

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/address-normalizer/app/models"
)

func TestSegmentExtractor_Extract(t *testing.T) {
	se := NewSegmentExtractor(nil)

	tests := []struct {
		name     string
		in       string
		want     map[models.Component]string
		residual string
	}{
		{
			name: "block lane and prefixed house",
			in:   "Davtashen 3rd Block, 2nd Lane, house 05a",
			want: map[models.Component]string{
				models.ComponentBlock:        "Davtashen 3rd Block",
				models.ComponentLane:         "2nd Lane",
				models.ComponentBuildingCode: "5A",
			},
			residual: "",
		},
		{
			name: "numbered street is protected",
			in:   "26 Commissars 15",
			want: map[models.Component]string{
				models.ComponentStreet:       "26 Commissars Street",
				models.ComponentBuildingCode: "15",
			},
		},
		{
			name: "august street",
			in:   "23 August 5",
			want: map[models.Component]string{
				models.ComponentStreet:       "August 23 Street",
				models.ComponentBuildingCode: "5",
			},
		},
		{
			name: "microdistrict and slashed building",
			in:   "Nor Nork 2nd Microdistrict, Gai Avenue 14/3",
			want: map[models.Component]string{
				models.ComponentNeighbourhood: "2nd Microdistrict",
				models.ComponentBuildingCode:  "14/3",
			},
			residual: "Nor Nork, Gai Avenue",
		},
		{
			name: "lane number",
			in:   "Lane 3, Arabkir",
			want: map[models.Component]string{
				models.ComponentLane: "3rd Lane",
			},
			residual: "Arabkir",
		},
		{
			name: "numbered block",
			in:   "5 Block 12",
			want: map[models.Component]string{
				models.ComponentBlock:        "5th Block",
				models.ComponentBuildingCode: "12",
			},
		},
		{
			name: "street stopword is not a block name",
			in:   "Street 7 Blok",
			want: map[models.Component]string{
				models.ComponentBlock: "7th Block",
			},
			residual: "Street",
		},
		{
			name: "ordinal is a street number not a building",
			in:   "Arshakunyats 2-nd",
			want: map[models.Component]string{
				models.ComponentStreetNumber: "2nd",
			},
			residual: "Arshakunyats",
		},
		{
			name: "split letter suffix",
			in:   "Abovyan 12 a",
			want: map[models.Component]string{
				models.ComponentBuildingCode: "12A",
			},
			residual: "Abovyan",
		},
		{
			name: "numbered quarter",
			in:   "1 Quarter",
			want: map[models.Component]string{
				models.ComponentNeighbourhood: "1st Quarter",
			},
		},
		{
			name: "nothing to extract",
			in:   "Երևան Կենտրոն",
			want: map[models.Component]string{},
			residual: "Երևան Կենտրոն",
		},
		{
			name: "empty input",
			in:   "",
			want: map[models.Component]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seg := se.Extract(tt.in)
			assert.Equal(t, tt.want, seg.Values)
			if tt.residual != "" || len(tt.want) == 0 {
				assert.Equal(t, tt.residual, seg.Residual)
			}
		})
	}
}

func TestSegmentExtractor_Deterministic(t *testing.T) {
	se := NewSegmentExtractor(nil)
	in := "Davtashen 3rd Block, 2nd Lane, house 05a"

	first := se.Extract(in)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, se.Extract(in))
	}
	assert.Equal(t, first, NewSegmentExtractor(nil).Extract(in))
}

func TestSegmentExtractor_RuleProvenance(t *testing.T) {
	seg := NewSegmentExtractor(nil).Extract("building 7, Komitas 12")

	assert.Equal(t, "7", seg.Get(models.ComponentBuildingCode))
	assert.Equal(t, "prefixed-building", seg.Rules[models.ComponentBuildingCode])
}

func TestSegmentExtractor_FirstRuleWins(t *testing.T) {
	rules := []Rule{
		{
			Name:      "first",
			Component: models.ComponentBuildingCode,
			Pattern:   regexp.MustCompile(`#(\d+)`),
			Normalize: func(m []string) (string, bool) { return m[1], true },
		},
		{
			Name:      "second",
			Component: models.ComponentBuildingCode,
			Pattern:   regexp.MustCompile(`(\d+)`),
			Normalize: func(m []string) (string, bool) { return "x" + m[1], true },
		},
	}
	se := NewSegmentExtractor(rules)

	seg := se.Extract("9 Abovyan #4")
	require.Contains(t, seg.Values, models.ComponentBuildingCode)
	assert.Equal(t, "4", seg.Values[models.ComponentBuildingCode])
	assert.Equal(t, "first", seg.Rules[models.ComponentBuildingCode])

	seg = se.Extract("Abovyan 4")
	assert.Equal(t, "x4", seg.Values[models.ComponentBuildingCode])
	assert.Equal(t, "second", seg.Rules[models.ComponentBuildingCode])
}

func TestNormalizeBuildingCode(t *testing.T) {
	assert.Equal(t, "5A", normalizeBuildingCode("05a"))
	assert.Equal(t, "0", normalizeBuildingCode("0"))
	assert.Equal(t, "12/3", normalizeBuildingCode("012/3"))
}
