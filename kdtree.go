package mi

import (
	"container/heap"
	"math"
	"sort"
)

// neighbor is a candidate point with its distance from the current query.
// Neighbors are ordered by (dist, index); the index tie-break keeps every
// selection deterministic when distances coincide.
type neighbor struct {
	dist  float64
	index int
}

func (a neighbor) before(b neighbor) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.index < b.index
}

// nnHeap is a bounded max-heap retaining the cap smallest neighbors seen so
// far. The root is the current worst of the retained set, so a search can
// prune against it.
type nnHeap struct {
	items []neighbor
	cap   int
}

func newNNHeap(cap int) *nnHeap {
	return &nnHeap{items: make([]neighbor, 0, cap), cap: cap}
}

func (h *nnHeap) Len() int           { return len(h.items) }
func (h *nnHeap) Less(i, j int) bool { return h.items[j].before(h.items[i]) }
func (h *nnHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *nnHeap) Push(x interface{}) { h.items = append(h.items, x.(neighbor)) }
func (h *nnHeap) Pop() interface{} {
	last := len(h.items) - 1
	out := h.items[last]
	h.items = h.items[:last]
	return out
}

func (h *nnHeap) reset() { h.items = h.items[:0] }

// worst returns the largest retained distance, or +Inf while the heap is
// not yet full.
func (h *nnHeap) worst() float64 {
	if len(h.items) < h.cap {
		return math.Inf(1)
	}
	return h.items[0].dist
}

// offer inserts the candidate if it ranks among the cap smallest.
func (h *nnHeap) offer(nb neighbor) {
	if len(h.items) < h.cap {
		heap.Push(h, nb)
		return
	}
	if nb.before(h.items[0]) {
		h.items[0] = nb
		heap.Fix(h, 0)
	}
}

// ranked returns the retained neighbors sorted ascending by (dist, index).
// Rank 0 is the query point itself whenever the query is a member of the
// searched set, since its self-distance 0 is the minimum.
func (h *nnHeap) ranked() []neighbor {
	out := make([]neighbor, len(h.items))
	copy(out, h.items)
	sort.Slice(out, func(i, j int) bool { return out[i].before(out[j]) })
	return out
}

// kdNode is one node of a Chebyshev kd-tree. Left children have a
// coordinate on the split axis <= the node's, right children >=.
type kdNode struct {
	point []float64
	index int
	axis  int
	left  *kdNode
	right *kdNode
}

// kdTree answers k-nearest-neighbor and open-ball counting queries under
// the Chebyshev metric in typically O(log n) per query for moderate
// dimensionality. The pruning test compares the absolute plane offset
// against the current search radius, which is only valid for a metric
// bounded below by every per-coordinate difference; the l-infinity metric
// is, so the tree is exact for Chebyshev and must not be used with other
// metrics.
type kdTree struct {
	root *kdNode
	n    int
}

// newKDTree builds a balanced tree over the rows of pts by recursive median
// splits on the axis of largest spread.
func newKDTree(pts [][]float64) *kdTree {
	idxs := make([]int, len(pts))
	for i := range idxs {
		idxs[i] = i
	}
	return &kdTree{root: buildKD(pts, idxs), n: len(pts)}
}

func buildKD(pts [][]float64, idxs []int) *kdNode {
	switch len(idxs) {
	case 0:
		return nil
	case 1:
		return &kdNode{point: pts[idxs[0]], index: idxs[0]}
	}
	axis := widestAxis(pts, idxs)
	sort.Slice(idxs, func(a, b int) bool {
		pa, pb := pts[idxs[a]][axis], pts[idxs[b]][axis]
		if pa != pb {
			return pa < pb
		}
		return idxs[a] < idxs[b]
	})
	mid := len(idxs) / 2
	return &kdNode{
		point: pts[idxs[mid]],
		index: idxs[mid],
		axis:  axis,
		left:  buildKD(pts, idxs[:mid]),
		right: buildKD(pts, idxs[mid+1:]),
	}
}

// widestAxis returns the coordinate with the largest spread among the
// indexed points.
func widestAxis(pts [][]float64, idxs []int) int {
	d := len(pts[idxs[0]])
	axis, widest := 0, -1.0
	for j := 0; j < d; j++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, i := range idxs {
			v := pts[i][j]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi-lo > widest {
			axis, widest = j, hi-lo
		}
	}
	return axis
}

// nearest fills h with the h.cap nearest neighbors of q, including q itself
// when q is a member of the tree.
func (t *kdTree) nearest(q []float64, h *nnHeap) {
	h.reset()
	t.search(t.root, q, h)
}

func (t *kdTree) search(n *kdNode, q []float64, h *nnHeap) {
	if n == nil {
		return
	}
	h.offer(neighbor{dist: chebyshev(q, n.point), index: n.index})
	off := q[n.axis] - n.point[n.axis]
	near, far := n.left, n.right
	if off > 0 {
		near, far = n.right, n.left
	}
	t.search(near, q, h)
	if math.Abs(off) <= h.worst() {
		t.search(far, q, h)
	}
}

// countWithin returns the number of points with a Chebyshev distance to q
// strictly below r.
func (t *kdTree) countWithin(q []float64, r float64) int {
	return countKD(t.root, q, r)
}

func countKD(n *kdNode, q []float64, r float64) int {
	if n == nil {
		return 0
	}
	var c int
	if chebyshev(q, n.point) < r {
		c = 1
	}
	off := q[n.axis] - n.point[n.axis]
	// A left point can be no closer than off, a right one no closer
	// than -off.
	if off < r {
		c += countKD(n.left, q, r)
	}
	if -off < r {
		c += countKD(n.right, q, r)
	}
	return c
}
