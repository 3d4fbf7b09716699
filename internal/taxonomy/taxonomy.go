package taxonomy

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/address-normalizer/app/models"
	"github.com/address-normalizer/internal/normalizer"
)

// Level is one rank of the place hierarchy.
type Level int

const (
	LevelCountry Level = iota
	LevelProvince
	LevelAdministrativeUnit
	LevelSettlement
)

// Levels below the root, top-down.
var Levels = []Level{LevelProvince, LevelAdministrativeUnit, LevelSettlement}

func (l Level) String() string {
	switch l {
	case LevelCountry:
		return models.LevelNameCountry
	case LevelProvince:
		return models.LevelNameProvince
	case LevelAdministrativeUnit:
		return models.LevelNameAdministrativeUnit
	case LevelSettlement:
		return models.LevelNameSettlement
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel maps a level name back to its Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case models.LevelNameCountry:
		return LevelCountry, nil
	case models.LevelNameProvince:
		return LevelProvince, nil
	case models.LevelNameAdministrativeUnit, "admin_unit", "municipality", "district":
		return LevelAdministrativeUnit, nil
	case models.LevelNameSettlement, "locality":
		return LevelSettlement, nil
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

// Node is one place. Children are owned by the node; Parent is a lookup-only
// back reference.
type Node struct {
	ID         string
	Name       string
	Level      Level
	Kind       string // town, village or neighbourhood, settlements only
	City       bool   // a province that is a city (Yerevan)
	Alternates []string
	Parent     *Node
	Children   []*Node
}

// Names returns the canonical name followed by the alternates.
func (n *Node) Names() []string {
	out := make([]string, 0, 1+len(n.Alternates))
	out = append(out, n.Name)
	return append(out, n.Alternates...)
}

// IsAncestorOf reports whether n is a strict ancestor of m.
func (n *Node) IsAncestorOf(m *Node) bool {
	if n == nil || m == nil {
		return false
	}
	for p := m.Parent; p != nil; p = p.Parent {
		if p == n {
			return true
		}
	}
	return false
}

// Ancestor returns the node on n's chain at level, n itself included.
func (n *Node) Ancestor(level Level) *Node {
	for p := n; p != nil; p = p.Parent {
		if p.Level == level {
			return p
		}
	}
	return nil
}

// Path lists the names from the root down to n.
func (n *Node) Path() []string {
	var path []string
	for p := n; p != nil; p = p.Parent {
		path = append(path, p.Name)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func (n *Node) String() string {
	return strings.Join(n.Path(), " > ")
}

// Taxonomy is an immutable, loaded place hierarchy. It is safe for
// concurrent reads.
type Taxonomy struct {
	root    *Node
	byID    map[string]*Node
	byLevel map[Level][]*Node
	index   map[Level]map[string][]*Node
	version string
	learned int
}

// Root returns the country node.
func (t *Taxonomy) Root() *Node { return t.root }

// Version is a content hash of the loaded dataset; it changes whenever a
// name, alternate or edge of the dataset changes. Learned aliases keep the
// version of the taxonomy they were added to, so results cached under it
// stay valid.
func (t *Taxonomy) Version() string { return t.version }

// Learned counts the alternates added by WithAliases.
func (t *Taxonomy) Learned() int { return t.learned }

// ByID returns the node with id or nil.
func (t *Taxonomy) ByID(id string) *Node { return t.byID[id] }

// Size counts all nodes, the root included.
func (t *Taxonomy) Size() int { return len(t.byID) }

// ChildrenOf returns a copy of node's children.
func (t *Taxonomy) ChildrenOf(node *Node) []*Node {
	if node == nil {
		return nil
	}
	out := make([]*Node, len(node.Children))
	copy(out, node.Children)
	return out
}

// AtLevel returns every node at level in depth-first order.
func (t *Taxonomy) AtLevel(level Level) []*Node {
	nodes := t.byLevel[level]
	out := make([]*Node, len(nodes))
	copy(out, nodes)
	return out
}

// Descendants returns the nodes at level below node. A nil node means the
// whole level.
func (t *Taxonomy) Descendants(node *Node, level Level) []*Node {
	if node == nil {
		return t.AtLevel(level)
	}
	var out []*Node
	for _, c := range t.byLevel[level] {
		if node.IsAncestorOf(c) {
			out = append(out, c)
		}
	}
	return out
}

// Chain returns the nodes from the root down to node.
func (t *Taxonomy) Chain(node *Node) []*Node {
	var chain []*Node
	for p := node; p != nil; p = p.Parent {
		chain = append(chain, p)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Lookup finds a node by exact canonical or alternate name at level. Matching
// ignores case, diacritics, punctuation and script. With a parent, only its
// descendants are considered.
func (t *Taxonomy) Lookup(name string, level Level, parent *Node) *Node {
	if all := t.LookupAll(name, level, parent); len(all) > 0 {
		return all[0]
	}
	return nil
}

// LookupAll is Lookup returning every match in depth-first order.
func (t *Taxonomy) LookupAll(name string, level Level, parent *Node) []*Node {
	key := normalizer.Fold(name)
	if key == "" {
		return nil
	}
	hits := t.index[level][key]
	if parent == nil {
		return append([]*Node(nil), hits...)
	}
	var out []*Node
	for _, n := range hits {
		if parent.IsAncestorOf(n) {
			out = append(out, n)
		}
	}
	return out
}

// Records flattens the tree into storable records, depth-first.
func (t *Taxonomy) Records() []models.AdminUnit {
	out := make([]models.AdminUnit, 0, len(t.byID))
	walk(t.root, func(n *Node) {
		rec := models.AdminUnit{
			AdminID:         n.ID,
			Level:           n.Level.String(),
			Name:            n.Name,
			NormalizedName:  normalizer.Fold(n.Name),
			Kind:            n.Kind,
			City:            n.City,
			Alternates:      append([]string(nil), n.Alternates...),
			Path:            n.Path(),
			TaxonomyVersion: t.version,
		}
		if n.Parent != nil {
			rec.ParentID = n.Parent.ID
		}
		out = append(out, rec)
	})
	return out
}

// WithAliases returns a new taxonomy in which every alias fragment is an
// extra alternate of its node. Aliases naming unknown nodes are skipped and
// returned. The result keeps t's Version.
func (t *Taxonomy) WithAliases(aliases []models.LearnedAlias) (*Taxonomy, []models.LearnedAlias, error) {
	root := cloneTree(t.root, nil)
	byID := make(map[string]*Node)
	walk(root, func(n *Node) { byID[n.ID] = n })

	var (
		skipped []models.LearnedAlias
		added   int
	)
	for _, a := range aliases {
		n, ok := byID[a.AdminID]
		if !ok || strings.TrimSpace(a.Fragment) == "" {
			skipped = append(skipped, a)
			continue
		}
		if hasName(n, a.Fragment) {
			continue
		}
		n.Alternates = append(n.Alternates, strings.TrimSpace(a.Fragment))
		added++
	}
	out, err := newTaxonomy(root)
	if err != nil {
		return nil, skipped, err
	}
	out.version = t.version
	out.learned = t.learned + added
	return out, skipped, nil
}

func hasName(n *Node, name string) bool {
	key := normalizer.Fold(name)
	for _, v := range n.Names() {
		if normalizer.Fold(v) == key {
			return true
		}
	}
	return false
}

func cloneTree(n, parent *Node) *Node {
	c := &Node{
		ID:         n.ID,
		Name:       n.Name,
		Level:      n.Level,
		Kind:       n.Kind,
		City:       n.City,
		Alternates: append([]string(nil), n.Alternates...),
		Parent:     parent,
	}
	for _, child := range n.Children {
		c.Children = append(c.Children, cloneTree(child, c))
	}
	return c
}

func walk(n *Node, fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		walk(c, fn)
	}
}

// newTaxonomy validates a linked tree and builds the lookup indexes.
func newTaxonomy(root *Node) (*Taxonomy, error) {
	if root == nil {
		return nil, loadErr(KindMissingLevel, "", "no country root")
	}
	if root.Level != LevelCountry {
		return nil, loadErr(KindMissingLevel, root.Name, "root is a %s, want country", root.Level)
	}
	if len(root.Children) == 0 {
		return nil, loadErr(KindMissingLevel, root.Name, "country has no provinces")
	}

	t := &Taxonomy{
		root:    root,
		byID:    make(map[string]*Node),
		byLevel: make(map[Level][]*Node),
		index:   make(map[Level]map[string][]*Node),
	}
	hash := sha256.New()

	var visit func(n *Node) error
	visit = func(n *Node) error {
		if strings.TrimSpace(n.Name) == "" {
			return loadErr(KindMalformed, pathOf(n.Parent), "%s without a name", n.Level)
		}
		if n.ID == "" {
			n.ID = deriveID(n)
		}
		if _, dup := t.byID[n.ID]; dup {
			return loadErr(KindMalformed, n.String(), "duplicate id %q", n.ID)
		}
		if n.Level == LevelSettlement {
			switch n.Kind {
			case "":
				n.Kind = models.KindVillage
			case models.KindTown, models.KindVillage:
			case models.KindNeighbourhood:
				if p := n.Ancestor(LevelProvince); p == nil || !p.City {
					return loadErr(KindMalformed, n.String(), "neighbourhood outside a city")
				}
			default:
				return loadErr(KindMalformed, n.String(), "unknown settlement kind %q", n.Kind)
			}
		}
		t.byID[n.ID] = n
		t.byLevel[n.Level] = append(t.byLevel[n.Level], n)

		idx := t.index[n.Level]
		if idx == nil {
			idx = make(map[string][]*Node)
			t.index[n.Level] = idx
		}
		seen := make(map[string]bool)
		for _, name := range n.Names() {
			key := normalizer.Fold(name)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			idx[key] = append(idx[key], n)
		}

		fmt.Fprintf(hash, "%s|%s|%d|%s|%t|%s\n", n.ID, n.Name, n.Level, n.Kind, n.City, strings.Join(n.Alternates, ";"))

		siblings := make(map[string]string, len(n.Children))
		for _, c := range n.Children {
			if c.Level != n.Level+1 {
				return loadErr(KindMissingLevel, c.String(), "%s directly under %s", c.Level, n.Level)
			}
			if c.Parent != n {
				c.Parent = n
			}
			key := normalizer.Fold(c.Name)
			if prev, dup := siblings[key]; dup {
				return loadErr(KindDuplicateSibling, n.String(), "%q and %q", prev, c.Name)
			}
			siblings[key] = c.Name
			if err := visit(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(root); err != nil {
		return nil, err
	}
	t.version = fmt.Sprintf("%x", hash.Sum(nil))[:12]
	return t, nil
}

func deriveID(n *Node) string {
	slug := strings.ReplaceAll(normalizer.Fold(n.Name), " ", "-")
	if n.Parent == nil {
		return slug
	}
	return n.Parent.ID + "." + slug
}

func pathOf(n *Node) string {
	if n == nil {
		return ""
	}
	return n.String()
}

// SortByName orders nodes by canonical name; used for stable listings.
func SortByName(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
}
