package resolver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/address-normalizer/internal/taxonomy"
)

func embedded(t *testing.T) *taxonomy.Taxonomy {
	t.Helper()
	tx, err := taxonomy.LoadEmbedded()
	require.NoError(t, err)
	return tx
}

// fixedScorer scores folded candidate names from a table, everything else 0.
type fixedScorer map[string]float64

func (f fixedScorer) Score(_, b string) float64 { return f[b] }

func TestResolver_ExactKentron(t *testing.T) {
	tx := embedded(t)
	r := New(tx, nil, DefaultConfig())

	m := r.Resolve("Kentron", taxonomy.LevelAdministrativeUnit, nil)
	require.True(t, m.Accepted())
	assert.Equal(t, "Kentron", m.Node.Name)
	assert.Equal(t, 1.0, m.Score)
	assert.True(t, m.Exact)
	assert.False(t, m.CrossHierarchy)
	assert.Equal(t, "Yerevan", m.Node.Parent.Name)
	assert.Equal(t, taxonomy.LevelProvince, m.Node.Parent.Level)
}

func TestResolver_CanonicalNamesRoundTrip(t *testing.T) {
	tx := embedded(t)
	r := New(tx, nil, DefaultConfig())

	for _, level := range taxonomy.Levels {
		for _, n := range tx.AtLevel(level) {
			m := r.Resolve(n.Name, level, n.Parent)
			require.True(t, m.Accepted(), "%s", n)
			assert.Equal(t, 1.0, m.Score, "%s", n)
			assert.Same(t, n, m.Node, "%s", n)
		}
	}
}

func TestResolver_SingleSubstitution(t *testing.T) {
	tx := embedded(t)

	m := New(tx, ScorerFunc(TokenSortRatio), DefaultConfig()).
		Resolve("Kentr0n", taxonomy.LevelAdministrativeUnit, nil)
	assert.False(t, m.Accepted())
	assert.InDelta(t, 6.0/7.0, m.Score, 1e-9)
	assert.True(t, m.Ambiguous)
	require.NotEmpty(t, m.Candidates)
	assert.Equal(t, "Kentron", m.Candidates[0].Node.Name)

	m = New(tx, ScorerFunc(TokenSortRatio), DefaultConfig()).
		Resolve("Kentronn", taxonomy.LevelAdministrativeUnit, nil)
	assert.False(t, m.Accepted())

	m = New(tx, ScorerFunc(Blended), DefaultConfig()).
		Resolve("Kentronn", taxonomy.LevelAdministrativeUnit, nil)
	require.True(t, m.Accepted())
	assert.Equal(t, "Kentron", m.Node.Name)
	assert.GreaterOrEqual(t, m.Score, 0.90)
	assert.False(t, m.Exact)
}

func TestResolver_LongerNamesAreNotPrefixMatches(t *testing.T) {
	tx := embedded(t)
	r := New(tx, ScorerFunc(Blended), DefaultConfig())
	kotayk := tx.Lookup("Kotayk", taxonomy.LevelProvince, nil)
	require.NotNil(t, kotayk)

	tests := []struct {
		fragment string
		level    taxonomy.Level
		parent   *taxonomy.Node
		wrong    string
	}{
		{"Charents", taxonomy.LevelSettlement, kotayk, "Charentsavan"},
		{"Abovyanner", taxonomy.LevelSettlement, kotayk, "Abovyan"},
		{"Sevanavank", taxonomy.LevelSettlement, nil, "Sevan"},
		{"Kentronakan", taxonomy.LevelAdministrativeUnit, nil, "Kentron"},
	}
	for _, tt := range tests {
		t.Run(tt.fragment, func(t *testing.T) {
			m := r.Resolve(tt.fragment, tt.level, tt.parent)
			assert.False(t, m.Accepted(), "accepted %v", m.Node)
			var names []string
			for _, c := range m.Candidates {
				names = append(names, c.Node.Name)
			}
			assert.Contains(t, names, tt.wrong, "kept for review")
		})
	}
}

func TestResolver_ThresholdBoundary(t *testing.T) {
	tx := embedded(t)

	tests := []struct {
		name      string
		score     float64
		accepted  bool
		ambiguous bool
	}{
		{"at threshold", 0.90, true, false},
		{"just below", 0.89, false, true},
		{"below review floor", 0.40, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tx, fixedScorer{"kentron": tt.score}, DefaultConfig())
			m := r.Resolve("zzz", taxonomy.LevelAdministrativeUnit, nil)

			assert.Equal(t, tt.accepted, m.Accepted())
			assert.InDelta(t, tt.score, m.Score, 1e-12)
			assert.Equal(t, tt.ambiguous, m.Ambiguous)
			if tt.accepted {
				assert.Equal(t, "Kentron", m.Node.Name)
			}
		})
	}
}

func TestResolver_MinMargin(t *testing.T) {
	tx := embedded(t)

	r := New(tx, fixedScorer{"kentron": 0.95, "arabkir": 0.94}, DefaultConfig())
	m := r.Resolve("zzz", taxonomy.LevelAdministrativeUnit, nil)
	assert.False(t, m.Accepted())
	assert.True(t, m.Ambiguous)
	require.Len(t, m.Candidates, DefaultConfig().MaxCandidates)
	assert.Equal(t, "Kentron", m.Candidates[0].Node.Name)
	assert.Equal(t, "Arabkir", m.Candidates[1].Node.Name)

	r = New(tx, fixedScorer{"kentron": 0.95, "arabkir": 0.93}, DefaultConfig())
	m = r.Resolve("zzz", taxonomy.LevelAdministrativeUnit, nil)
	require.True(t, m.Accepted())
	assert.Equal(t, "Kentron", m.Node.Name)

	cfg := DefaultConfig()
	cfg.MinMargin = 0
	r = New(tx, fixedScorer{"kentron": 0.95, "arabkir": 0.95}, cfg)
	m = r.Resolve("zzz", taxonomy.LevelAdministrativeUnit, nil)
	require.True(t, m.Accepted())
	assert.Equal(t, "Arabkir", m.Node.Name, "ties keep taxonomy order")
}

func TestResolver_CrossHierarchy(t *testing.T) {
	tx := embedded(t)
	r := New(tx, nil, DefaultConfig())
	shirak := tx.Lookup("Shirak", taxonomy.LevelProvince, nil)
	kotayk := tx.Lookup("Kotayk", taxonomy.LevelProvince, nil)
	require.NotNil(t, shirak)

	m := r.Resolve("Arinj", taxonomy.LevelSettlement, shirak)
	require.True(t, m.Accepted())
	assert.Equal(t, "Arinj", m.Node.Name)
	assert.True(t, m.CrossHierarchy)

	m = r.Resolve("Arinj", taxonomy.LevelSettlement, kotayk)
	require.True(t, m.Accepted())
	assert.False(t, m.CrossHierarchy)

	m = r.Resolve("Qwertyuiop", taxonomy.LevelSettlement, shirak)
	assert.False(t, m.Accepted())
	assert.False(t, m.CrossHierarchy)
}

func TestResolver_ResolveWithin(t *testing.T) {
	tx := embedded(t)
	r := New(tx, nil, DefaultConfig())
	shirak := tx.Lookup("Shirak", taxonomy.LevelProvince, nil)
	arabkir := tx.Lookup("Arabkir", taxonomy.LevelAdministrativeUnit, nil)
	kentron := tx.Lookup("Kentron", taxonomy.LevelAdministrativeUnit, nil)
	require.NotNil(t, shirak)
	require.NotNil(t, arabkir)
	require.NotNil(t, kentron)

	assert.False(t, r.ResolveWithin("Arinj", taxonomy.LevelSettlement, shirak).Accepted(), "no cross-hierarchy retry")

	m := r.ResolveWithin("Komitas", taxonomy.LevelSettlement, arabkir)
	require.True(t, m.Accepted())
	assert.Equal(t, "Komitas", m.Node.Name)
	assert.False(t, m.CrossHierarchy)

	assert.False(t, r.ResolveWithin("Komitas", taxonomy.LevelSettlement, kentron).Accepted())
	assert.False(t, r.ResolveWithin(" ", taxonomy.LevelSettlement, kentron).Accepted())
}

func TestResolver_WordMatch(t *testing.T) {
	tx := embedded(t)

	m := New(tx, nil, DefaultConfig()).Resolve("Nor Nork district", taxonomy.LevelAdministrativeUnit, nil)
	require.True(t, m.Accepted())
	assert.Equal(t, "Nor Nork", m.Node.Name)
	assert.True(t, m.Exact)

	m = New(tx, nil, DefaultConfig()).Resolve("Yerevan, Kentron", taxonomy.LevelAdministrativeUnit, nil)
	require.True(t, m.Accepted())
	assert.Equal(t, "Kentron", m.Node.Name)

	cfg := DefaultConfig()
	cfg.WordMatch = false
	m = New(tx, nil, cfg).Resolve("Nor Nork district", taxonomy.LevelAdministrativeUnit, nil)
	assert.False(t, m.Exact)
}

func TestResolver_AmbiguousExact(t *testing.T) {
	src := `{"Kotayk": {"Abovyan": ["Arinj"]}, "Lori": {"Alaverdi": ["Arinj"]}}`
	tx, err := taxonomy.Load(strings.NewReader(src))
	require.NoError(t, err)
	r := New(tx, nil, DefaultConfig())

	m := r.Resolve("Arinj", taxonomy.LevelSettlement, nil)
	assert.False(t, m.Accepted())
	assert.True(t, m.Ambiguous)
	assert.Equal(t, 1.0, m.Score)
	assert.Len(t, m.Candidates, 2)

	lori := tx.Lookup("Lori", taxonomy.LevelProvince, nil)
	m = r.Resolve("Arinj", taxonomy.LevelSettlement, lori)
	require.True(t, m.Accepted())
	assert.Equal(t, "Lori", m.Node.Ancestor(taxonomy.LevelProvince).Name)
}

func TestResolver_EmptyFragment(t *testing.T) {
	m := New(embedded(t), nil, DefaultConfig()).Resolve(" ,, ", taxonomy.LevelProvince, nil)
	assert.False(t, m.Accepted())
	assert.Zero(t, m.Score)
	assert.False(t, m.Ambiguous)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.Threshold = 1.5
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.MinMargin = -0.1
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.ReviewFloor = 0.95
	assert.Error(t, bad.Validate())
}

func TestResolver_WithTaxonomy(t *testing.T) {
	tx := embedded(t)
	cfg := DefaultConfig()
	cfg.Threshold = 0.8
	r := New(tx, ScorerFunc(Blended), cfg)

	src := `{"Lori": {"Alaverdi": ["Akhtala"]}}`
	small, err := taxonomy.Load(strings.NewReader(src))
	require.NoError(t, err)

	r2 := r.WithTaxonomy(small)
	assert.Same(t, small, r2.Taxonomy())
	assert.Equal(t, cfg, r2.Config())
	assert.Same(t, tx, r.Taxonomy(), "original untouched")
	assert.True(t, r2.Resolve("Akhtala", taxonomy.LevelSettlement, nil).Accepted())
}
