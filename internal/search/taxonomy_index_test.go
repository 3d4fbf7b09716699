package search

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/address-normalizer/app/models"
	"github.com/address-normalizer/internal/taxonomy"
)

func TestFilterLevelParent(t *testing.T) {
	tests := []struct {
		level, parent, want string
	}{
		{"", "", ""},
		{"province", "", `level = "province"`},
		{"settlement", "armenia.kotayk.abovyan", `level = "settlement" AND parent_id = "armenia.kotayk.abovyan"`},
		{"", "armenia.lori", `parent_id = "armenia.lori"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FilterLevelParent(tt.level, tt.parent))
	}
}

func TestDocuments(t *testing.T) {
	tx, err := taxonomy.LoadEmbedded()
	require.NoError(t, err)

	docs := documents(tx.Records())
	require.Len(t, docs, tx.Size())
	seen := map[string]bool{}
	for _, d := range docs {
		id := d["id"].(string)
		assert.Regexp(t, `^[A-Za-z0-9_-]+$`, id)
		assert.False(t, seen[id], "duplicate document id %s", id)
		seen[id] = true
	}
}

func TestParseHit(t *testing.T) {
	u, score, ok := parseHit(map[string]interface{}{
		"admin_id":      "armenia.kotayk.abovyan.kaghsi",
		"parent_id":     "armenia.kotayk.abovyan",
		"level":         "settlement",
		"name":          "Kaghsi",
		"kind":          "village",
		"alternates":    []interface{}{"Քաղսի", 3},
		"path":          []interface{}{"Armenia", "Kotayk", "Abovyan", "Kaghsi"},
		"_rankingScore": 0.93,
	})
	require.True(t, ok)
	assert.Equal(t, "Kaghsi", u.Name)
	assert.Equal(t, []string{"Քաղսի"}, u.Alternates)
	assert.Len(t, u.Path, 4)
	assert.InDelta(t, 0.93, score, 1e-9)

	_, _, ok = parseHit(map[string]interface{}{"name": "no id"})
	assert.False(t, ok)
	_, _, ok = parseHit("garbage")
	assert.False(t, ok)
}

func TestSynonymsFrom(t *testing.T) {
	names := map[string]string{"armenia.kotayk.abovyan.kaghsi": "Kaghsi"}
	syn := synonymsFrom([]models.LearnedAlias{
		{Fragment: "Qaghsee", AdminID: "armenia.kotayk.abovyan.kaghsi"},
		{Fragment: "qaghsee", AdminID: "armenia.kotayk.abovyan.kaghsi"},
		{Fragment: "Kaghsi", AdminID: "armenia.kotayk.abovyan.kaghsi"},
		{Fragment: "Nowhere", AdminID: "armenia.none"},
	}, names)

	assert.Equal(t, map[string][]string{
		"qaghsee": {"kaghsi"},
		"kaghsi":  {"qaghsee"},
	}, syn)
}

func TestTaxonomyIndex_Live(t *testing.T) {
	url := os.Getenv("ADDRNORM_TEST_MEILI_URL")
	if url == "" {
		t.Skip("ADDRNORM_TEST_MEILI_URL not set")
	}
	ti, err := NewTaxonomyIndex(SearchConfig{
		Host:      url,
		APIKey:    os.Getenv("ADDRNORM_TEST_MEILI_KEY"),
		IndexName: "admin_units_test",
		Timeout:   10 * time.Second,
	}, nil)
	require.NoError(t, err)

	tx, err := taxonomy.LoadEmbedded()
	require.NoError(t, err)
	require.NoError(t, ti.Configure())
	n, err := ti.Seed(tx.Records())
	require.NoError(t, err)
	assert.Equal(t, tx.Size(), n)

	// Indexing is asynchronous.
	require.Eventually(t, func() bool {
		s, err := ti.Suggest(context.Background(), "Kaghsi", models.LevelNameSettlement, "", 5)
		return err == nil && len(s) > 0 && s[0].Name == "Kaghsi"
	}, 30*time.Second, 500*time.Millisecond)
}
