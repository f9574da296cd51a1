package spatial

import (
	"fmt"
	"strings"
)

// Quadrant order. Child 0 shares the node's top-right corner.
const (
	quadNE = 0
	quadSE = 1
	quadSW = 2
	quadNW = 3
)

// node is a single cell of the quad index. A node starts as a leaf and
// subdivides into four quadrant children once an insert finds it holding
// fullLimit objects. The transition is one-way: children are never merged
// back, even when later removals empty them.
//
// Every object on a node's own list has a footprint fully contained by the
// node's square. The square itself is not stored; callers derive it from the
// ancestor chain and pass it in.
type node[T Bounded] struct {
	objects   []T
	children  *[4]node[T]
	fullLimit int
}

// quadrant returns which child of sq the point (x, y) falls into. Ties
// resolve with >= on the node's center so every point maps to exactly one
// quadrant.
func quadrant(sq Square, x, y float32) int {
	if x >= sq.CX {
		if y >= sq.CY {
			return quadNE
		}
		return quadSE
	}
	if y < sq.CY {
		return quadSW
	}
	return quadNW
}

// childSquare returns the square of child q of sq: a quarter-size square
// sharing sq's center as one of its corners.
func childSquare(sq Square, q int) Square {
	h := sq.HalfSize / 2
	switch q {
	case quadNE:
		return Square{CX: sq.CX + h, CY: sq.CY + h, HalfSize: h}
	case quadSE:
		return Square{CX: sq.CX + h, CY: sq.CY - h, HalfSize: h}
	case quadSW:
		return Square{CX: sq.CX - h, CY: sq.CY - h, HalfSize: h}
	default:
		return Square{CX: sq.CX - h, CY: sq.CY + h, HalfSize: h}
	}
}

// insert stores o in the subtree rooted at n. The caller guarantees that o's
// footprint is fully contained by sq.
func (n *node[T]) insert(o T, sq Square) {
	if n.children == nil {
		if len(n.objects) < n.fullLimit {
			n.objects = append(n.objects, o)
			return
		}
		n.subdivide(sq)
	}

	p := o.Position()
	q := quadrant(sq, p.X, p.Y)
	if csq := childSquare(sq, q); csq.Contains(Footprint(o)) {
		n.children[q].insert(o, csq)
		return
	}
	n.objects = append(n.objects, o)
}

// subdivide allocates the four children and pushes every held object into
// whichever single child fully contains its footprint. Objects that fit no
// child stay on the node.
func (n *node[T]) subdivide(sq Square) {
	n.children = new([4]node[T])
	for q := range n.children {
		n.children[q].fullLimit = n.fullLimit
	}

	kept := n.objects[:0]
	for _, o := range n.objects {
		fp := Footprint(o)
		moved := false
		for q := range n.children {
			if csq := childSquare(sq, q); csq.Contains(fp) {
				n.children[q].insert(o, csq)
				moved = true
				break
			}
		}
		if !moved {
			kept = append(kept, o)
		}
	}
	n.objects = kept
}

// remove deletes o from the subtree rooted at n, routing through the same
// quadrant chain insert used. It reports whether o was found.
func (n *node[T]) remove(o T, sq Square) bool {
	if n.children != nil {
		p := o.Position()
		q := quadrant(sq, p.X, p.Y)
		if n.children[q].remove(o, childSquare(sq, q)) {
			return true
		}
	}
	return n.removeLocal(o)
}

// forceRemove deletes o from wherever it is in the subtree, ignoring
// quadrant routing. It is the recovery path for when routed removal misses
// an object that is present because rounding at a quadrant boundary made the
// removal-time routing disagree with the insertion-time one.
func (n *node[T]) forceRemove(o T) bool {
	if n.removeLocal(o) {
		return true
	}
	if n.children == nil {
		return false
	}
	for q := range n.children {
		if n.children[q].forceRemove(o) {
			return true
		}
	}
	return false
}

// removeLocal deletes o from the node's own list by identity.
func (n *node[T]) removeLocal(o T) bool {
	for i := range n.objects {
		if n.objects[i] == o {
			n.objects[i] = n.objects[len(n.objects)-1]
			n.objects = n.objects[:len(n.objects)-1]
			return true
		}
	}
	return false
}

// inSquare yields every object in the subtree whose footprint intersects
// query, skipping children whose square does not intersect it. It reports
// whether the traversal ran to completion.
func (n *node[T]) inSquare(query Square, sq Square, yield func(T) bool) bool {
	for _, o := range n.objects {
		if query.Intersects(Footprint(o)) && !yield(o) {
			return false
		}
	}
	if n.children == nil {
		return true
	}
	for q := range n.children {
		if csq := childSquare(sq, q); query.Intersects(csq) {
			if !n.children[q].inSquare(query, csq, yield) {
				return false
			}
		}
	}
	return true
}

func (n *node[T]) stats(depth int, s *Stats) {
	s.Nodes++
	s.TreeObjects += len(n.objects)
	if depth > s.Depth {
		s.Depth = depth
	}
	if n.children == nil {
		return
	}
	for q := range n.children {
		n.children[q].stats(depth+1, s)
	}
}

func (n *node[T]) dump(b *strings.Builder, sq Square, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(b, "%snode center=(%g,%g) half=%g objects=%d\n",
		indent, sq.CX, sq.CY, sq.HalfSize, len(n.objects))
	if n.children == nil {
		return
	}
	for q := range n.children {
		n.children[q].dump(b, childSquare(sq, q), depth+1)
	}
}
