package face

import (
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/coder/hnsw"
	"gonum.org/v1/gonum/floats"
)

// Index tuning for nearest-embedding queries.
const (
	nearestMaxNeighbors  = 16
	nearestMinCandidates = 32
)

// Collection is an immutable snapshot of one tenant's faces indexed by name
// and by identifier. Readers never observe it changing; a mutation of the
// tenant produces a new Collection. Faces go in and come out as deep copies,
// so neither the builder nor a reader can reach the stored slices.
type Collection struct {
	ordered []*Face
	byID    map[string]*Face
	byName  map[string][]*Face

	indexOnce sync.Once
	index     *hnsw.Graph[int]
	indexed   []int
	dim       int
}

// NewCollection indexes faces in a single pass. Duplicate names are kept; a
// repeated identifier replaces the earlier entry in the identifier index only.
func NewCollection(faces []Face) *Collection {
	c := &Collection{
		ordered: make([]*Face, 0, len(faces)),
		byID:    make(map[string]*Face, len(faces)),
		byName:  make(map[string][]*Face),
	}
	for i := range faces {
		f := faces[i].Clone()
		c.ordered = append(c.ordered, &f)
		c.byID[f.ID] = &f
		c.byName[f.Name] = append(c.byName[f.Name], &f)
	}
	return c
}

// FacesByName returns every face carrying name, in insertion order. The result
// is empty when the name is unknown.
func (c *Collection) FacesByName(name string) []Face {
	return deref(c.byName[name])
}

// FaceByID returns the face with the given identifier.
func (c *Collection) FaceByID(id string) (Face, bool) {
	f, ok := c.byID[id]
	if !ok {
		return Face{}, false
	}
	return f.Clone(), true
}

// All returns every face in insertion order.
func (c *Collection) All() []Face { return deref(c.ordered) }

// Len returns the number of faces in the collection.
func (c *Collection) Len() int { return len(c.ordered) }

// Names returns the distinct face names, sorted.
func (c *Collection) Names() []string {
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func deref(faces []*Face) []Face {
	out := make([]Face, len(faces))
	for i, f := range faces {
		out[i] = f.Clone()
	}
	return out
}

// Match is a face returned by a nearest-embedding query with its cosine
// distance to the query vector.
type Match struct {
	Face     Face
	Distance float64
}

// Nearest returns up to k faces whose embeddings are closest to vector by
// cosine distance, closest first. Only faces whose embedding dimension equals
// that of the first face are searchable.
func (c *Collection) Nearest(vector []float64, k int) ([]Match, error) {
	if k <= 0 {
		return nil, NewValidationError("k", "must be positive")
	}
	if len(c.ordered) == 0 {
		return []Match{}, nil
	}

	c.indexOnce.Do(c.buildIndex)
	if len(vector) != c.dim {
		return nil, ErrDimensionMismatch
	}
	if len(c.indexed) == 0 {
		return []Match{}, nil
	}

	limit := min(k, len(c.indexed))
	candidates := max(limit, nearestMinCandidates)
	nodes := c.index.Search(toFloat32(vector), min(candidates, len(c.indexed)))

	matches := make([]Match, 0, len(nodes))
	for _, n := range nodes {
		f := c.ordered[n.Key]
		matches = append(matches, Match{Face: f.Clone(), Distance: cosineDistance(vector, f.Embedding.Vector)})
	}
	slices.SortStableFunc(matches, func(a, b Match) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		default:
			return 0
		}
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (c *Collection) buildIndex() {
	c.dim = c.ordered[0].Embedding.Dim()

	g := hnsw.NewGraph[int]()
	g.M = nearestMaxNeighbors
	g.Ml = 1.0 / float64(nearestMaxNeighbors)
	g.Distance = hnsw.CosineDistance

	for i, f := range c.ordered {
		if f.Embedding.Dim() != c.dim || c.dim == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(i, toFloat32(f.Embedding.Vector)))
		c.indexed = append(c.indexed, i)
	}
	c.index = g
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func cosineDistance(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 1
	}
	d := 1 - floats.Dot(a, b)/(na*nb)
	return math.Max(d, 0)
}
