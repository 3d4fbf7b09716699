package taxonomy

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/address-normalizer/app/models"
)

//go:embed data/armenia.yaml
var armeniaYAML []byte

// DefaultCountry names the root of region-shaped datasets.
const DefaultCountry = "Armenia"

type nodeDoc struct {
	ID         string    `yaml:"id,omitempty"`
	Name       string    `yaml:"name"`
	Level      string    `yaml:"level,omitempty"`
	Kind       string    `yaml:"kind,omitempty"`
	City       bool      `yaml:"city,omitempty"`
	Alternates []string  `yaml:"alternates,omitempty"`
	Children   []nodeDoc `yaml:"children,omitempty"`
}

type document struct {
	Country *nodeDoc `yaml:"country"`
}

// LoadEmbedded loads the Armenia dataset compiled into the binary.
func LoadEmbedded() (*Taxonomy, error) {
	return Load(bytes.NewReader(armeniaYAML))
}

// LoadFile loads a YAML or JSON dataset from path.
func LoadFile(path string) (*Taxonomy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Kind: KindMalformed, Node: path, Msg: "open", Err: err}
	}
	defer f.Close()
	return Load(f)
}

// Load reads either the nested form (a top-level "country" node with
// children) or the region form ({province: [districts]} or
// {province: {municipality: {locality: kind}}}). JSON is accepted as YAML.
func Load(r io.Reader) (*Taxonomy, error) {
	return LoadRegion(r, DefaultCountry)
}

// LoadRegion is Load with an explicit root name for region-shaped input.
func LoadRegion(r io.Reader, country string) (*Taxonomy, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, loadErr(KindMalformed, "", "empty dataset")
		}
		return nil, &LoadError{Kind: KindMalformed, Msg: "decode", Err: err}
	}
	if len(doc.Content) == 0 {
		return nil, loadErr(KindMalformed, "", "empty dataset")
	}
	top := doc.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, loadErr(KindMalformed, "", "top level must be a mapping")
	}

	if mappingValue(top, "country") != nil {
		var d document
		if err := top.Decode(&d); err != nil {
			return nil, &LoadError{Kind: KindMalformed, Msg: "decode", Err: err}
		}
		root, err := fromDoc(d.Country, LevelCountry, nil)
		if err != nil {
			return nil, err
		}
		return newTaxonomy(root)
	}

	root, err := fromRegion(top, country)
	if err != nil {
		return nil, err
	}
	return newTaxonomy(root)
}

func fromDoc(d *nodeDoc, depth Level, parent *Node) (*Node, error) {
	if d == nil {
		return nil, loadErr(KindMissingLevel, "", "no country root")
	}
	level := depth
	if d.Level != "" {
		l, err := ParseLevel(d.Level)
		if err != nil {
			return nil, &LoadError{Kind: KindMalformed, Node: d.Name, Err: err}
		}
		level = l
	}
	n := &Node{
		ID:         d.ID,
		Name:       strings.TrimSpace(d.Name),
		Level:      level,
		Kind:       strings.ToLower(d.Kind),
		City:       d.City,
		Alternates: trimAll(d.Alternates),
		Parent:     parent,
	}
	for i := range d.Children {
		c, err := fromDoc(&d.Children[i], level+1, n)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, c)
	}
	return n, nil
}

func fromRegion(top *yaml.Node, country string) (*Node, error) {
	root := &Node{Name: country, Level: LevelCountry}
	for i := 0; i+1 < len(top.Content); i += 2 {
		province := &Node{Name: strings.TrimSpace(top.Content[i].Value), Level: LevelProvince, Parent: root}
		val := top.Content[i+1]
		switch val.Kind {
		case yaml.SequenceNode:
			// city provinces list their districts
			province.City = true
			for _, d := range val.Content {
				if d.Kind != yaml.ScalarNode {
					return nil, loadErr(KindMalformed, province.Name, "district entries must be names")
				}
				province.Children = append(province.Children, &Node{
					Name: strings.TrimSpace(d.Value), Level: LevelAdministrativeUnit, Parent: province,
				})
			}
		case yaml.MappingNode:
			for j := 0; j+1 < len(val.Content); j += 2 {
				unit := &Node{Name: strings.TrimSpace(val.Content[j].Value), Level: LevelAdministrativeUnit, Parent: province}
				settlements, err := regionSettlements(val.Content[j+1], unit)
				if err != nil {
					return nil, err
				}
				unit.Children = settlements
				province.Children = append(province.Children, unit)
			}
		case yaml.ScalarNode:
			if val.ShortTag() != "!!null" {
				return nil, loadErr(KindMalformed, province.Name, "unexpected scalar %q", val.Value)
			}
		default:
			return nil, loadErr(KindMalformed, province.Name, "unsupported node")
		}
		root.Children = append(root.Children, province)
	}
	return root, nil
}

func regionSettlements(val *yaml.Node, unit *Node) ([]*Node, error) {
	var out []*Node
	add := func(name, kind string) {
		out = append(out, &Node{
			Name:   strings.TrimSpace(name),
			Level:  LevelSettlement,
			Kind:   settlementKind(kind),
			Parent: unit,
		})
	}
	switch val.Kind {
	case yaml.MappingNode:
		for k := 0; k+1 < len(val.Content); k += 2 {
			name, v := val.Content[k].Value, val.Content[k+1]
			switch v.Kind {
			case yaml.ScalarNode:
				add(name, v.Value)
			case yaml.MappingNode:
				kind := ""
				if kv := mappingValue(v, "kind"); kv != nil {
					kind = kv.Value
				} else if tv := mappingValue(v, "type"); tv != nil {
					kind = tv.Value
				}
				add(name, kind)
			default:
				add(name, "")
			}
		}
	case yaml.SequenceNode:
		for _, s := range val.Content {
			add(s.Value, "")
		}
	case yaml.ScalarNode:
		if val.ShortTag() != "!!null" && strings.TrimSpace(val.Value) != "" {
			return nil, loadErr(KindMalformed, unit.Name, "unexpected scalar %q", val.Value)
		}
	default:
		return nil, loadErr(KindMalformed, unit.Name, "unsupported node")
	}
	return out, nil
}

func settlementKind(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "town", "city", "urban":
		return models.KindTown
	}
	return models.KindVillage
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// FromRecords rebuilds a taxonomy from flat records, as stored in MongoDB.
// Children keep record order.
func FromRecords(units []models.AdminUnit) (*Taxonomy, error) {
	nodes := make(map[string]*Node, len(units))
	parents := make(map[string]string, len(units))
	order := make([]string, 0, len(units))

	for _, u := range units {
		if u.AdminID == "" {
			return nil, loadErr(KindMalformed, u.Name, "record without admin_id")
		}
		if _, dup := nodes[u.AdminID]; dup {
			return nil, loadErr(KindMalformed, u.AdminID, "duplicate admin_id")
		}
		level, err := ParseLevel(u.Level)
		if err != nil {
			return nil, &LoadError{Kind: KindMalformed, Node: u.AdminID, Err: err}
		}
		nodes[u.AdminID] = &Node{
			ID:         u.AdminID,
			Name:       strings.TrimSpace(u.Name),
			Level:      level,
			Kind:       u.Kind,
			City:       u.City,
			Alternates: trimAll(u.Alternates),
		}
		parents[u.AdminID] = u.ParentID
		order = append(order, u.AdminID)
	}

	var root *Node
	for _, id := range order {
		pid := parents[id]
		if pid == "" {
			if nodes[id].Level != LevelCountry {
				return nil, loadErr(KindMissingLevel, id, "%s without a parent", nodes[id].Level)
			}
			if root != nil {
				return nil, loadErr(KindMalformed, id, "second country root (first %q)", root.ID)
			}
			root = nodes[id]
			continue
		}
		if _, ok := nodes[pid]; !ok {
			return nil, loadErr(KindUnknownParent, id, "parent %q not found", pid)
		}
	}

	for _, id := range order {
		seen := map[string]bool{id: true}
		for p := parents[id]; p != ""; p = parents[p] {
			if seen[p] {
				return nil, loadErr(KindCycle, id, "parent chain returns to %q", p)
			}
			seen[p] = true
		}
	}

	if root == nil {
		return nil, loadErr(KindMissingLevel, "", "no country root")
	}
	for _, id := range order {
		if pid := parents[id]; pid != "" {
			child, parent := nodes[id], nodes[pid]
			child.Parent = parent
			parent.Children = append(parent.Children, child)
		}
	}
	t, err := newTaxonomy(root)
	if err != nil {
		return nil, fmt.Errorf("from records: %w", err)
	}
	return t, nil
}
