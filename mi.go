// Package mi estimates the mutual information between two continuous,
// jointly sampled random vectors from a finite set of paired observations,
// without assuming a parametric form for the joint distribution.
//
// The estimators implemented here belong to the nearest-neighbor family of
// Kraskov, Stögbauer and Grassberger (KSG),
//
//	Estimating mutual information
//	A. Kraskov, H. Stögbauer, P. Grassberger, Phys. Rev. E 69, 066138
//
// which de-bias neighbor-count entropy estimates with digamma terms.
// KSGEnsemble computes the estimate by brute-force distance computation and
// averages over an ensemble of neighborhood sizes; KSGChebyshev answers the
// same queries through a kd-tree over the concatenated joint space and is
// usually faster when both marginal metrics are the Chebyshev (l-infinity)
// distance. All estimates are in nats and clamped to be non-negative.
package mi

import (
	"errors"
	"fmt"
	"runtime"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidNeighborhoods indicates an empty neighborhood set or a
	// neighborhood size smaller than 1.
	ErrInvalidNeighborhoods = errors.New("mi: neighborhoods must be a non-empty list of positive integers")

	// ErrLengthMismatch indicates paired point clouds of different lengths.
	ErrLengthMismatch = errors.New("mi: point clouds have different lengths")

	// ErrInsufficientSamples indicates that the largest requested
	// neighborhood size is not smaller than the number of samples.
	ErrInsufficientSamples = errors.New("mi: largest neighborhood is not smaller than the sample count")

	// ErrNotFitted indicates that predictions were requested before a
	// successful Fit.
	ErrNotFitted = errors.New("mi: estimator has not been fitted")

	// ErrConstantColumn indicates a zero-variance column that cannot be
	// rescaled to unit standard deviation.
	ErrConstantColumn = errors.New("mi: cannot standardize a zero-variance column")

	// ErrBadMetric indicates an unknown metric, or a metric a given
	// estimator does not support.
	ErrBadMetric = errors.New("mi: unsupported metric")
)

// Estimator is a mutual information point estimator over two paired point
// clouds. The clouds are n×dx and n×dy matrices whose i-th rows originate
// from the same draw; they are read-only inputs and are never mutated.
type Estimator interface {
	// Fit runs the estimation and stores a mapping from neighborhood size
	// to an MI estimate in nats. A failed Fit leaves prior state intact.
	Fit(x, y mat.Matrix) error

	// Estimate fits and returns the mean of the fitted mapping's values.
	Estimate(x, y mat.Matrix) (float64, error)

	// Predictions returns a copy of the fitted mapping, or ErrNotFitted
	// before the first successful Fit.
	Predictions() (map[int]float64, error)
}

// Options configures an estimator. The zero value requests the defaults:
// neighborhoods {5, 10}, standardization on, Euclidean metrics, and all
// available processors.
type Options struct {
	// Neighborhoods is the set of neighbor ranks the ensemble averages
	// over. Order is preserved and duplicates are permitted; the result
	// mapping is keyed by value. Nil means {5, 10}.
	Neighborhoods []int

	// NoStandardize disables the per-column zero-mean/unit-variance
	// rescaling applied independently to each marginal space before any
	// distance computation.
	NoStandardize bool

	// MetricX is the metric on the X space. UnsetMetric means Euclidean.
	MetricX Metric

	// MetricY is the metric on the Y space. UnsetMetric mirrors MetricX.
	MetricY Metric

	// Workers bounds the number of concurrent per-point distance
	// computations. Values <= 0 use all available processors.
	Workers int
}

var defaultNeighborhoods = []int{5, 10}

// config is a resolved, validated Options.
type config struct {
	neighborhoods    []int
	standardize      bool
	metricX, metricY Metric
	workers          int
}

func (o *Options) resolve() (config, error) {
	if o == nil {
		o = &Options{}
	}
	ks := o.Neighborhoods
	if ks == nil {
		ks = defaultNeighborhoods
	}
	ks, err := checkNeighborhoods(ks)
	if err != nil {
		return config{}, err
	}
	mx := o.MetricX
	if mx == UnsetMetric {
		mx = Euclidean
	}
	my := o.MetricY
	if my == UnsetMetric {
		my = mx
	}
	for _, m := range []Metric{mx, my} {
		switch m {
		case Euclidean, Manhattan, Chebyshev:
		default:
			return config{}, fmt.Errorf("%w: %d", ErrBadMetric, int(m))
		}
	}
	w := o.Workers
	if w <= 0 {
		w = runtime.GOMAXPROCS(0)
	}
	return config{
		neighborhoods: ks,
		standardize:   !o.NoStandardize,
		metricX:       mx,
		metricY:       my,
		workers:       w,
	}, nil
}

// checkNeighborhoods validates a neighborhood set and returns a private,
// order-preserving copy.
func checkNeighborhoods(ks []int) ([]int, error) {
	if len(ks) == 0 {
		return nil, ErrInvalidNeighborhoods
	}
	for _, k := range ks {
		if k < 1 {
			return nil, fmt.Errorf("%w: got %d", ErrInvalidNeighborhoods, k)
		}
	}
	out := make([]int, len(ks))
	copy(out, ks)
	return out, nil
}

// checkPaired validates the Fit preconditions shared by all estimators.
func checkPaired(x, y mat.Matrix, ks []int) error {
	nx, _ := x.Dims()
	ny, _ := y.Dims()
	if nx != ny {
		return fmt.Errorf("%w: %d != %d", ErrLengthMismatch, nx, ny)
	}
	if kmax := maxNeighborhood(ks); kmax >= nx {
		return fmt.Errorf("%w: k=%d with n=%d", ErrInsufficientSamples, kmax, nx)
	}
	return nil
}

func maxNeighborhood(ks []int) int {
	kmax := ks[0]
	for _, k := range ks[1:] {
		if k > kmax {
			kmax = k
		}
	}
	return kmax
}

// denseRows returns one slice per row of m. When m is a *mat.Dense the
// slices alias its backing array, so callers must treat them as read-only.
func denseRows(m mat.Matrix) [][]float64 {
	n, d := m.Dims()
	rows := make([][]float64, n)
	if dm, ok := m.(*mat.Dense); ok {
		for i := 0; i < n; i++ {
			rows[i] = dm.RawRowView(i)
		}
		return rows
	}
	for i := 0; i < n; i++ {
		rows[i] = make([]float64, d)
		mat.Row(rows[i], i, m)
	}
	return rows
}

func copyPredictions(src map[int]float64) map[int]float64 {
	out := make(map[int]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
