// Package hierarchy organizes a flat reconciled entity list into a
// parent-child forest for display.
//
// Parent references may come from either side of a reconciliation (a
// remote glossary node URN or a "local:<id>" reference); the organizer
// resolves them uniformly against the reconciled set and treats anything
// unresolvable as a root.
package hierarchy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/catalogops/metasync/internal/entity"
)

// Node wraps one entity plus its ordered children.
type Node struct {
	Entity   *entity.Entity `json:"entity"`
	Children []*Node        `json:"children,omitempty"`
}

// Organize builds a forest from a flat reconciled list.
//
// Every item is keyed by URN, falling back to "local:<id>" for
// not-yet-deployed local-only items. An item whose ParentRef resolves
// within the set becomes a child of that parent; otherwise it is a root.
// Children and roots are sorted case-insensitively by name.
//
// Circular parent chains are rejected with a validation error instead of
// looping: a cycle means the stored parent references are corrupt.
func Organize(items []*entity.Entity) ([]*Node, error) {
	nodes := make(map[string]*Node, len(items))
	order := make([]string, 0, len(items))

	for _, e := range items {
		key := keyOf(e)
		if _, dup := nodes[key]; dup {
			// Reconciliation guarantees key uniqueness; a duplicate here
			// means the caller bypassed it.
			return nil, fmt.Errorf("%w: duplicate hierarchy key %s", entity.ErrValidation, key)
		}
		nodes[key] = &Node{Entity: e}
		order = append(order, key)
	}

	if err := checkCycles(nodes); err != nil {
		return nil, err
	}

	var roots []*Node
	for _, key := range order {
		n := nodes[key]
		parent := resolveParent(nodes, n.Entity)
		if parent == nil {
			roots = append(roots, n)
			continue
		}
		parent.Children = append(parent.Children, n)
	}

	for _, n := range nodes {
		sortNodes(n.Children)
	}
	sortNodes(roots)

	return roots, nil
}

// Flatten returns the forest's entities in depth-first order. Organize
// applied to the result reproduces the same structure.
func Flatten(roots []*Node) []*entity.Entity {
	var out []*entity.Entity
	var walk func(n *Node)
	walk = func(n *Node) {
		out = append(out, n.Entity)
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	return out
}

// keyOf returns the hierarchy key for an entity: its URN, or the local
// reference when it has not been deployed yet.
func keyOf(e *entity.Entity) string {
	if e.URN != "" {
		return e.URN
	}
	return e.LocalRef()
}

// resolveParent finds the parent node for e, or nil when e is a root.
func resolveParent(nodes map[string]*Node, e *entity.Entity) *Node {
	if e.ParentRef == "" {
		return nil
	}
	return nodes[e.ParentRef]
}

// checkCycles walks every parent chain and fails on the first cycle.
// Chains are bounded by the set size, so a longer walk is always a loop.
func checkCycles(nodes map[string]*Node) error {
	for start, n := range nodes {
		seen := map[string]bool{start: true}
		current := n
		for {
			parent := resolveParent(nodes, current.Entity)
			if parent == nil {
				break
			}
			pkey := keyOf(parent.Entity)
			if seen[pkey] {
				return fmt.Errorf("%w: circular parent chain involving %s", entity.ErrValidation, pkey)
			}
			seen[pkey] = true
			current = parent
		}
	}
	return nil
}

// sortNodes orders siblings case-insensitively by name.
func sortNodes(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return strings.ToLower(nodes[i].Entity.Name) < strings.ToLower(nodes[j].Entity.Name)
	})
}
