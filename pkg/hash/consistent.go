// Package hash maps cache keys onto server nodes with a consistent hash ring.
//
// Every node is placed on the ring many times (its points), so keys spread
// evenly and adding or removing a node only moves the keys between that node
// and its neighbours.
//
// Example usage:
//
//	ring := hash.NewRing(150)
//	ring.Add("cache1:11211")
//	ring.Add("cache2:11211")
//	node := ring.Locate("user:123")
package hash

import (
	"hash/crc32"
	"sort"
	"strconv"
	"sync"
)

// DefaultPoints is the number of ring points per node when none is given.
const DefaultPoints = 150

type point struct {
	hash uint32
	node string
}

// Ring is a consistent hash ring, safe for concurrent use.
type Ring struct {
	mu     sync.RWMutex
	points []point // sorted by hash, then node
	nodes  map[string]struct{}
	per    int
}

// NewRing creates an empty ring placing each node at pointsPerNode positions.
// A value <= 0 selects DefaultPoints.
func NewRing(pointsPerNode int) *Ring {
	if pointsPerNode <= 0 {
		pointsPerNode = DefaultPoints
	}
	return &Ring{nodes: make(map[string]struct{}), per: pointsPerNode}
}

// Add places node on the ring. Adding a node twice has no effect.
func (r *Ring) Add(node string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[node]; ok {
		return
	}
	r.nodes[node] = struct{}{}
	for i := 0; i < r.per; i++ {
		r.points = append(r.points, point{hash: pointHash(node, i), node: node})
	}
	sort.Slice(r.points, func(i, j int) bool {
		if r.points[i].hash != r.points[j].hash {
			return r.points[i].hash < r.points[j].hash
		}
		return r.points[i].node < r.points[j].node
	})
}

// Remove takes node off the ring. Its keys move to the following nodes.
func (r *Ring) Remove(node string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[node]; !ok {
		return
	}
	delete(r.nodes, node)

	kept := r.points[:0]
	for _, p := range r.points {
		if p.node != node {
			kept = append(kept, p)
		}
	}
	r.points = kept
}

// Locate returns the node owning key, or "" when the ring is empty.
func (r *Ring) Locate(key string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.points) == 0 {
		return ""
	}
	h := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(r.points), func(i int) bool {
		return r.points[i].hash >= h
	})
	if idx == len(r.points) {
		idx = 0
	}
	return r.points[idx].node
}

// Nodes returns the nodes on the ring in sorted order.
func (r *Ring) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]string, 0, len(r.nodes))
	for node := range r.nodes {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	return nodes
}

// Len returns the number of points on the ring.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.points)
}

func pointHash(node string, i int) uint32 {
	return crc32.ChecksumIEEE([]byte(node + "#" + strconv.Itoa(i)))
}
