// Package search indexes the taxonomy in Meilisearch and serves name
// suggestions to reviewers.
package search

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/address-normalizer/app/models"
)

// FilterLevelParent builds a filter on level and, when set, parent_id.
func FilterLevelParent(level, parentID string) string {
	var parts []string
	if level != "" {
		parts = append(parts, fmt.Sprintf("level = %q", level))
	}
	if parentID != "" {
		parts = append(parts, fmt.Sprintf("parent_id = %q", parentID))
	}
	return strings.Join(parts, " AND ")
}

var reDocID = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// documentID turns a dotted admin id into a valid Meilisearch primary key.
func documentID(adminID string) string {
	return reDocID.ReplaceAllString(adminID, "_")
}

func documents(units []models.AdminUnit) []map[string]interface{} {
	docs := make([]map[string]interface{}, 0, len(units))
	for _, u := range units {
		docs = append(docs, map[string]interface{}{
			"id":               documentID(u.AdminID),
			"admin_id":         u.AdminID,
			"parent_id":        u.ParentID,
			"level":            u.Level,
			"name":             u.Name,
			"normalized_name":  u.NormalizedName,
			"kind":             u.Kind,
			"city":             u.City,
			"alternates":       u.Alternates,
			"path":             u.Path,
			"taxonomy_version": u.TaxonomyVersion,
		})
	}
	return docs
}

func stringsOf(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, x := range raw {
		if s, ok := x.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// parseHit reads one search hit back into a unit and its ranking score.
func parseHit(hit interface{}) (models.AdminUnit, float64, bool) {
	m, ok := hit.(map[string]interface{})
	if !ok {
		return models.AdminUnit{}, 0, false
	}
	var u models.AdminUnit
	u.AdminID, _ = m["admin_id"].(string)
	if u.AdminID == "" {
		return models.AdminUnit{}, 0, false
	}
	u.ParentID, _ = m["parent_id"].(string)
	u.Level, _ = m["level"].(string)
	u.Name, _ = m["name"].(string)
	u.NormalizedName, _ = m["normalized_name"].(string)
	u.Kind, _ = m["kind"].(string)
	u.City, _ = m["city"].(bool)
	u.TaxonomyVersion, _ = m["taxonomy_version"].(string)
	u.Alternates = stringsOf(m["alternates"])
	u.Path = stringsOf(m["path"])

	score := 0.5
	if s, ok := m["_rankingScore"].(float64); ok {
		score = s
	}
	return u, score, true
}

// synonymsFrom maps every learned fragment to the canonical name of its node
// and back.
func synonymsFrom(aliases []models.LearnedAlias, names map[string]string) map[string][]string {
	out := make(map[string][]string)
	add := func(from, to string) {
		from, to = strings.ToLower(from), strings.ToLower(to)
		if from == to {
			return
		}
		for _, x := range out[from] {
			if x == to {
				return
			}
		}
		out[from] = append(out[from], to)
	}
	for _, a := range aliases {
		name, ok := names[a.AdminID]
		if !ok || strings.TrimSpace(a.Fragment) == "" {
			continue
		}
		add(a.Fragment, name)
		add(name, a.Fragment)
	}
	return out
}
