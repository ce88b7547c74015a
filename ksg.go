package mi

import (
	"math"

	"github.com/viterin/vek"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"
)

// KSGEnsemble estimates mutual information with the first KSG approximation
// (equation (8) in Kraskov et al.), averaged over an ensemble of
// neighborhood sizes. For each point it computes the distance to every
// other point in both marginal spaces, combines them with an element-wise
// maximum into the joint-space distance, finds the k-th joint neighbor by
// bounded partial selection, and counts the marginal neighbors strictly
// inside that radius. The per-point digamma contributions are accumulated
// by independent workers and merged after a join barrier.
//
// Cost is O(n²·d) in distances per Fit; when both metrics are Chebyshev,
// KSGChebyshev computes the same estimate through a spatial index instead.
type KSGEnsemble struct {
	cfg config

	fitted bool
	mi     map[int]float64
}

var _ Estimator = (*KSGEnsemble)(nil)

// NewKSGEnsemble returns a brute-force KSG ensemble estimator. A nil opts
// requests the defaults.
func NewKSGEnsemble(opts *Options) (*KSGEnsemble, error) {
	cfg, err := opts.resolve()
	if err != nil {
		return nil, err
	}
	return &KSGEnsemble{cfg: cfg}, nil
}

// Fit estimates the mutual information between the paired point clouds x
// and y for every configured neighborhood size. It fails with
// ErrLengthMismatch or ErrInsufficientSamples before touching any state;
// on success it replaces the fitted mapping atomically.
func (e *KSGEnsemble) Fit(x, y mat.Matrix) error {
	if err := checkPaired(x, y, e.cfg.neighborhoods); err != nil {
		return err
	}
	if e.cfg.standardize {
		var err error
		if x, err = standardize(x); err != nil {
			return err
		}
		if y, err = standardize(y); err != nil {
			return err
		}
	}
	xr, yr := denseRows(x), denseRows(y)

	sums, err := e.accumulate(xr, yr)
	if err != nil {
		return err
	}
	e.mi = finishEstimates(e.cfg.neighborhoods, sums, len(xr))
	e.fitted = true
	return nil
}

// accumulate fans the per-point digamma computation out over the configured
// number of workers and merges their partial sums. Each worker reads only
// the shared row slices and writes only its own accumulator, so no
// synchronization beyond the join is needed.
func (e *KSGEnsemble) accumulate(xr, yr [][]float64) ([]float64, error) {
	n := len(xr)
	ks := e.cfg.neighborhoods
	kmax := maxNeighborhood(ks)

	workers := e.cfg.workers
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	partials := make([][]float64, workers)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		acc := make([]float64, len(ks))
		partials[w] = acc
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			dx := make([]float64, n)
			dy := make([]float64, n)
			dz := make([]float64, n)
			sel := newNNHeap(kmax + 1)
			for i := lo; i < hi; i++ {
				distancesTo(dx, xr, xr[i], e.cfg.metricX)
				distancesTo(dy, yr, yr[i], e.cfg.metricY)
				// The joint-space distance is the l-infinity
				// combination of the marginals, whatever the
				// marginal metrics are.
				vek.Maximum_Into(dz, dx, dy)

				// Rank 0 of the selection is point i itself:
				// dz[i] == 0 is the unique minimum under
				// non-degenerate data.
				sel.reset()
				for j := 0; j < n; j++ {
					sel.offer(neighbor{dist: dz[j], index: j})
				}
				ranked := sel.ranked()

				for p, k := range ks {
					r := ranked[k].dist
					var nx, ny int
					for j := 0; j < n; j++ {
						if dx[j] < r {
							nx++
						}
						if dy[j] < r {
							ny++
						}
					}
					// The counts include point i itself
					// whenever r > 0; drop it.
					acc[p] += digammaPair(nx-1, ny-1)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sums := make([]float64, len(ks))
	for _, acc := range partials {
		floats.Add(sums, acc)
	}
	return sums, nil
}

// digammaPair is the per-point contribution ψ(n_x+1) + ψ(n_y+1).
func digammaPair(nx, ny int) float64 {
	return mathext.Digamma(float64(nx+1)) + mathext.Digamma(float64(ny+1))
}

// finishEstimates applies the KSG bias correction and the non-negativity
// clamp: I_k = ψ(k) - mean_i[ψ(n_x+1) + ψ(n_y+1)] + ψ(n), floored at 0.
func finishEstimates(ks []int, sums []float64, n int) map[int]float64 {
	out := make(map[int]float64, len(ks))
	for p, k := range ks {
		est := mathext.Digamma(float64(k)) - sums[p]/float64(n) +
			mathext.Digamma(float64(n))
		out[k] = math.Max(0, est)
	}
	return out
}

// Predictions returns a copy of the mapping produced by the last successful
// Fit.
func (e *KSGEnsemble) Predictions() (map[int]float64, error) {
	if !e.fitted {
		return nil, ErrNotFitted
	}
	return copyPredictions(e.mi), nil
}

// Estimate fits on x and y and returns the mean estimate across the
// neighborhood ensemble. It always re-fits.
func (e *KSGEnsemble) Estimate(x, y mat.Matrix) (float64, error) {
	if err := e.Fit(x, y); err != nil {
		return 0, err
	}
	return meanPredictions(e.mi), nil
}

func meanPredictions(preds map[int]float64) float64 {
	vals := make([]float64, 0, len(preds))
	for _, v := range preds {
		vals = append(vals, v)
	}
	return floats.Sum(vals) / float64(len(vals))
}
