package mi

import (
	"math"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/mat"
)

// Metric identifies the distance function used within one marginal space.
// The metrics on the X and Y spaces are independent and may differ; the
// joint-space distance is always their element-wise maximum, which realizes
// the l-infinity combination of the marginals in the product space.
type Metric int

const (
	// UnsetMetric is the zero value. As MetricX it means Euclidean; as
	// MetricY it mirrors MetricX.
	UnsetMetric Metric = iota

	// Euclidean is the l2 distance.
	Euclidean

	// Manhattan is the l1 (city-block) distance.
	Manhattan

	// Chebyshev is the l-infinity distance, the maximum absolute
	// per-coordinate difference.
	Chebyshev
)

func (m Metric) String() string {
	switch m {
	case UnsetMetric:
		return "unset"
	case Euclidean:
		return "euclidean"
	case Manhattan:
		return "manhattan"
	case Chebyshev:
		return "chebyshev"
	}
	return "unknown"
}

// Distance returns the distance between a and b under m. The metric must be
// one of Euclidean, Manhattan or Chebyshev; estimator constructors validate
// this before any distance is computed.
func (m Metric) Distance(a, b []float64) float64 {
	switch m {
	case Euclidean:
		return vek.Distance(a, b)
	case Manhattan:
		return vek.ManhattanDistance(a, b)
	case Chebyshev:
		return chebyshev(a, b)
	}
	panic("mi: unknown metric")
}

func chebyshev(a, b []float64) float64 {
	var maxVal float64
	for i := range a {
		if d := math.Abs(a[i] - b[i]); d > maxVal {
			maxVal = d
		}
	}
	return maxVal
}

// distancesTo fills dst[j] with the distance from q to points[j]. The
// distance from a point to itself is exactly 0 for every metric.
func distancesTo(dst []float64, points [][]float64, q []float64, m Metric) {
	for j, p := range points {
		dst[j] = m.Distance(q, p)
	}
}

// Pairwise returns the full n×n distance matrix of the rows of x under m.
// The matrix is symmetric with a zero diagonal. Row-at-a-time distance
// vectors and full pairwise matrices are both valid access patterns; the
// brute-force estimator uses the former to keep memory linear in n.
func Pairwise(x mat.Matrix, m Metric) *mat.SymDense {
	rows := denseRows(x)
	n := len(rows)
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			out.SetSym(i, j, m.Distance(rows[i], rows[j]))
		}
	}
	return out
}
