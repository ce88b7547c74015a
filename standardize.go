package mi

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// standardize returns a copy of x in which every column has sample mean 0
// and unit sample standard deviation (unbiased estimator, matching both
// marginal spaces). The input is never mutated. There is no persistent
// scaler state: this is a stateless per-call transform.
//
// A zero-variance column cannot be rescaled and fails with
// ErrConstantColumn rather than propagating non-finite values into the
// distance computation.
func standardize(x mat.Matrix) (*mat.Dense, error) {
	n, d := x.Dims()
	out := mat.NewDense(n, d, nil)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, x)
		mu, sigma := stat.MeanStdDev(col, nil)
		if !(sigma > 0) {
			return nil, fmt.Errorf("%w: column %d", ErrConstantColumn, j)
		}
		for i := range col {
			col[i] = (col[i] - mu) / sigma
		}
		out.SetCol(j, col)
	}
	return out, nil
}
