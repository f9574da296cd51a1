// Package spatial implements a recursive quad-subdivision index over a
// bounded square region. It stores positioned, identity-compared objects and
// answers "all objects whose footprint intersects this square" queries in
// sub-linear time.
package spatial

import (
	"fmt"
	"iter"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// ErrTypeObjectNotFound is the error type returned by Remove when an object
// is absent from the index: removed twice, never inserted, or mutated while
// registered.
const ErrTypeObjectNotFound = "object_not_found"

// Bounded is the capability required of stored objects. Implementations must
// keep both values stable between Insert and the matching Remove; mutating
// them while registered breaks quadrant routing.
type Bounded interface {
	comparable

	// Returns the object's position in world space.
	Position() Vec3

	// Returns the object's bounding sphere, relative to its position.
	Bounds() Sphere
}

// Index holds positioned objects over a fixed square region. Objects are
// stored by identity: they are never copied or mutated, and removal matches
// with ==. Objects whose footprint exceeds the region are kept on a side
// list and still show up in queries.
//
// An Index is not safe for concurrent use.
type Index[T Bounded] struct {
	square Square
	root   node[T]
	outer  []T

	count     int
	recovered int
}

// NewIndex returns an empty index over the given region. The region's half
// size must be strictly positive; a non-positive one is a caller bug and
// panics. fullLimit is the number of objects a node holds before it
// subdivides; values below one are treated as one.
func NewIndex[T Bounded](region Square, fullLimit int) *Index[T] {
	if region.HalfSize <= 0 {
		panic(fmt.Sprintf("spatial: non-positive region half size %g", region.HalfSize))
	}
	if fullLimit < 1 {
		fullLimit = 1
	}
	return &Index[T]{
		square: region,
		root:   node[T]{fullLimit: fullLimit},
	}
}

// Square returns the managed region.
func (idx *Index[T]) Square() Square {
	return idx.square
}

// Len returns the number of registered objects, outer objects included.
func (idx *Index[T]) Len() int {
	return idx.count
}

// Insert registers o. It always succeeds, however large o's footprint is.
func (idx *Index[T]) Insert(o T) {
	fp := Footprint(o)
	if idx.square.Contains(fp) {
		idx.root.insert(o, idx.square)
	} else {
		idx.outer = append(idx.outer, o)
	}
	idx.count++
}

// Remove deregisters o. Routed removal recomputes o's quadrant chain from
// its current position and bounds; rounding at a quadrant boundary can make
// that disagree with the insertion-time routing, so a miss is logged and
// retried with an exhaustive search over the whole tree and the outer list
// before being reported as an error.
func (idx *Index[T]) Remove(o T) error {
	fp := Footprint(o)
	if idx.square.Contains(fp) {
		if idx.root.remove(o, idx.square) {
			idx.count--
			return nil
		}
	} else if idx.removeOuter(o) {
		idx.count--
		return nil
	}

	logs.WithTag("footprint", fp).
		Warn("routed removal missed, retrying with exhaustive search")

	if idx.root.forceRemove(o) || idx.removeOuter(o) {
		idx.count--
		idx.recovered++
		return nil
	}

	return errors.New("object is not in the index").
		WithType(ErrTypeObjectNotFound).
		WithTag("footprint", fp)
}

func (idx *Index[T]) removeOuter(o T) bool {
	for i := range idx.outer {
		if idx.outer[i] == o {
			idx.outer[i] = idx.outer[len(idx.outer)-1]
			idx.outer = idx.outer[:len(idx.outer)-1]
			return true
		}
	}
	return false
}

// ObjectsInSquare returns every registered object whose footprint intersects
// query. The sequence is lazy and finite, ranging over it again restarts the
// traversal, and the consumer may stop early at any point. Outer objects are
// always scanned, whatever the query square, since their footprint can
// overlap a query that lies outside the region. The index must not be
// mutated while a traversal is being consumed.
func (idx *Index[T]) ObjectsInSquare(query Square) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, o := range idx.outer {
			if query.Intersects(Footprint(o)) && !yield(o) {
				return
			}
		}
		if query.Intersects(idx.square) {
			idx.root.inSquare(query, idx.square, yield)
		}
	}
}

// Stats describes the shape of an index, for metrics and debugging.
type Stats struct {
	Objects     int
	TreeObjects int
	Outer       int
	Nodes       int
	Depth       int
	Recovered   int
}

func (idx *Index[T]) Stats() Stats {
	s := Stats{
		Objects:   idx.count,
		Outer:     len(idx.outer),
		Recovered: idx.recovered,
	}
	idx.root.stats(0, &s)
	return s
}

// Dump returns a human-readable description of the tree. The format is a
// diagnostic aid, not a stable interface.
func (idx *Index[T]) Dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "index objects=%d outer=%d\n", idx.count, len(idx.outer))
	idx.root.dump(&b, idx.square, 0)
	return b.String()
}
