package flowsjson

import (
	"fmt"
	"strings"

	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
)

// TopologicalSorter orders vertices with Kahn's algorithm. Vertices are kept
// in insertion order so that equal-rank vertices come out deterministically.
type TopologicalSorter[K comparable] struct {
	order    []K
	inDegree map[K]int
	edges    map[K][]K
}

func NewTopologicalSorter[K comparable]() *TopologicalSorter[K] {
	return &TopologicalSorter[K]{
		inDegree: make(map[K]int),
		edges:    make(map[K][]K),
	}
}

// AddVertex registers v without any edge. Adding an existing vertex is a no-op.
func (s *TopologicalSorter[K]) AddVertex(v K) {
	if _, ok := s.inDegree[v]; ok {
		return
	}
	s.inDegree[v] = 0
	s.order = append(s.order, v)
}

// AddDependency records that from must be ordered before to.
func (s *TopologicalSorter[K]) AddDependency(from, to K) {
	s.AddVertex(from)
	s.AddVertex(to)
	for _, existing := range s.edges[from] {
		if existing == to {
			return
		}
	}
	s.edges[from] = append(s.edges[from], to)
	s.inDegree[to]++
}

// Len returns the number of vertices.
func (s *TopologicalSorter[K]) Len() int {
	return len(s.order)
}

// Sort returns every vertex with each dependency before its dependents.
// It fails with ErrGraphCycle when some vertices are part of a cycle.
func (s *TopologicalSorter[K]) Sort() ([]K, error) {
	inDegree := make(map[K]int, len(s.inDegree))
	for k, v := range s.inDegree {
		inDegree[k] = v
	}

	queue := make([]K, 0, len(s.order))
	for _, v := range s.order {
		if inDegree[v] == 0 {
			queue = append(queue, v)
		}
	}

	sorted := make([]K, 0, len(s.order))
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		sorted = append(sorted, v)
		for _, next := range s.edges[v] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(sorted) != len(s.order) {
		remaining := make([]string, 0, len(s.order)-len(sorted))
		for _, v := range s.order {
			if inDegree[v] > 0 {
				remaining = append(remaining, fmt.Sprint(v))
			}
		}
		return nil, fmt.Errorf("%w: unresolved vertices [%s]", rwerrors.ErrGraphCycle, strings.Join(remaining, ", "))
	}
	return sorted, nil
}

// DependencySort is Sort reversed: dependents come before their dependencies.
func (s *TopologicalSorter[K]) DependencySort() ([]K, error) {
	sorted, err := s.Sort()
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}
	return sorted, nil
}
