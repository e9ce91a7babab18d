package unitconv

import (
	"maps"
	"slices"
)

// graph maps unit -> neighbour -> factor. An edge a -> b with factor f is
// always paired with b -> a at 1/f.
type graph struct {
	productID int // 0 for the generic graph
	edges     map[int]map[int]float64
}

func newGraph(productID int) *graph {
	return &graph{
		productID: productID,
		edges:     make(map[int]map[int]float64),
	}
}

func (g *graph) addNode(id int) {
	if g.edges[id] == nil {
		g.edges[id] = make(map[int]float64)
	}
}

func (g *graph) set(from, to int, factor float64) {
	g.addNode(from)
	g.addNode(to)
	g.edges[from][to] = factor
	g.edges[to][from] = 1.0 / factor
}

func (g *graph) factor(from, to int) (float64, bool) {
	f, ok := g.edges[from][to]
	return f, ok
}

func (g *graph) neighbours(id int) []int {
	return slices.Sorted(maps.Keys(g.edges[id]))
}

func (g *graph) clone(productID int) *graph {
	c := newGraph(productID)
	for id, nodePaths := range g.edges {
		c.edges[id] = maps.Clone(nodePaths)
	}
	return c
}

type unitPair struct {
	a, b int
}

func pairOf(from, to int) unitPair {
	if from > to {
		from, to = to, from
	}
	return unitPair{from, to}
}

// applyFacts adds one edge per unordered pair; the first valid fact for a
// pair wins and replaces whatever edge the graph held before.
func applyFacts(g *graph, facts []ConversionFact, report func(Anomaly)) {
	seen := make(map[unitPair]struct{}, len(facts))
	for _, f := range facts {
		if !f.Valid() {
			report(Anomaly{Kind: AnomalyMalformedFact, FromUnitID: f.FromUnitID, ToUnitID: f.ToUnitID, Fact: f})
			continue
		}
		p := pairOf(f.FromUnitID, f.ToUnitID)
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		g.set(f.FromUnitID, f.ToUnitID, f.Factor)
	}
}

// buildGraph builds the generic graph from generic units and facts.
func buildGraph(units []Unit, facts []ConversionFact, report func(Anomaly)) *graph {
	g := newGraph(0)
	for _, u := range units {
		g.addNode(u.ID)
	}
	applyFacts(g, facts, report)
	return g
}

// overlayGraph copies base and merges one product's units and facts onto
// it. Product facts override generic ones for the same pair.
//
// A product unit left without edges inherits the edges of the generic unit
// with the same name, if there is one. This name convention is how catalogs
// declare "scoop (4 cc)" for one product to behave like the generic scoop
// and it breaks silently when names drift.
func overlayGraph(base *graph, productID int, units []Unit, facts []ConversionFact, aliases map[string]int, report func(Anomaly)) *graph {
	g := base.clone(productID)
	for _, u := range units {
		g.addNode(u.ID)
	}
	applyFacts(g, facts, report)

	for _, u := range units {
		if u.Generic() || len(g.edges[u.ID]) > 0 {
			continue
		}
		genericID, ok := aliases[u.Name]
		if !ok || genericID == u.ID {
			continue
		}
		for _, n := range g.neighbours(genericID) {
			if n == u.ID {
				continue
			}
			if _, exists := g.edges[u.ID][n]; exists {
				continue
			}
			g.set(u.ID, n, g.edges[genericID][n])
		}
	}
	return g
}

// nameIndex maps generic unit names to ids; the first unit with a name wins.
func nameIndex(units []Unit) map[string]int {
	idx := make(map[string]int, len(units))
	for _, u := range units {
		if !u.Generic() {
			continue
		}
		if _, ok := idx[u.Name]; !ok {
			idx[u.Name] = u.ID
		}
	}
	return idx
}
