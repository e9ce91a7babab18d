package unitconv

import (
	"slices"
	"strconv"
	"strings"
)

// scope is a normalised set of product ids. The zero value is the generic scope.
type scope struct {
	productIDs []int
	key        string
}

func newScope(productIDs []int) scope {
	ids := make([]int, 0, len(productIDs))
	for _, id := range productIDs {
		if id != 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return scope{productIDs: ids, key: strings.Join(parts, ",")}
}

func (s scope) generic() bool {
	return len(s.productIDs) == 0
}

type pathKey struct {
	From  int
	To    int
	Scope string
}

// resolvedPath is a cached search result. Via holds, per hop, the product
// whose layer supplied the edge (0 for the generic graph). A result with
// Found false is cached like any other.
type resolvedPath struct {
	Units []int
	Via   []int
	Found bool
}

type searchState struct {
	unit  int
	layer int
}

type searchStep struct {
	prev     searchState
	hopLayer int
	start    bool
}

// findPath runs a breadth-first search over one graph per product layer,
// counting hops only. Moving between layers is free but only allowed at
// bridge units.
func findPath(layers []*graph, from, to int, isBridge func(int) bool) resolvedPath {
	if from == to {
		return resolvedPath{Found: true}
	}

	steps := make(map[searchState]searchStep)
	var queue []searchState
	visit := func(s searchState, step searchStep) {
		if _, ok := steps[s]; ok {
			return
		}
		steps[s] = step
		queue = append(queue, s)
	}

	for i, g := range layers {
		if _, ok := g.edges[from]; ok {
			visit(searchState{from, i}, searchStep{start: true})
		}
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.unit == to {
			return tracePath(layers, steps, cur)
		}
		for _, n := range layers[cur.layer].neighbours(cur.unit) {
			step := searchStep{prev: cur, hopLayer: cur.layer}
			visit(searchState{n, cur.layer}, step)
			if len(layers) > 1 && isBridge(n) {
				for j := range layers {
					visit(searchState{n, j}, step)
				}
			}
		}
	}
	return resolvedPath{}
}

func tracePath(layers []*graph, steps map[searchState]searchStep, end searchState) resolvedPath {
	var units, via []int
	for cur := end; ; {
		units = append(units, cur.unit)
		step := steps[cur]
		if step.start {
			break
		}
		via = append(via, layers[step.hopLayer].productID)
		cur = step.prev
	}
	slices.Reverse(units)
	slices.Reverse(via)
	return resolvedPath{Units: units, Via: via, Found: true}
}
