package mi

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

// gaussianPair samples n paired observations from a bivariate normal with
// unit variances and correlation rho. The closed-form mutual information is
// -0.5*log(1-rho^2) nats.
func gaussianPair(t *testing.T, n int, rho float64, seed uint64) (x, y *mat.Dense) {
	t.Helper()
	cov := mat.NewSymDense(2, []float64{1, rho, rho, 1})
	dist, ok := distmv.NewNormal([]float64{0, 0}, cov, rand.NewPCG(seed, seed+1))
	require.True(t, ok)

	x = mat.NewDense(n, 1, nil)
	y = mat.NewDense(n, 1, nil)
	buf := make([]float64, 2)
	for i := 0; i < n; i++ {
		dist.Rand(buf)
		x.Set(i, 0, buf[0])
		y.Set(i, 0, buf[1])
	}
	return x, y
}

func gaussianMI(rho float64) float64 {
	return -0.5 * math.Log(1-rho*rho)
}

// withinTolerance checks the accuracy band used throughout: relative 0.15,
// absolute 0.12.
func withinTolerance(t *testing.T, want, got float64) {
	t.Helper()
	assert.InDelta(t, want, got, 0.12+0.15*math.Abs(want))
}

func TestNewKSGEnsembleValidation(t *testing.T) {
	cases := []struct {
		name string
		opts *Options
		err  error
	}{
		{"nil options", nil, nil},
		{"empty neighborhoods", &Options{Neighborhoods: []int{}}, ErrInvalidNeighborhoods},
		{"zero neighborhood", &Options{Neighborhoods: []int{0}}, ErrInvalidNeighborhoods},
		{"negative neighborhood", &Options{Neighborhoods: []int{5, -1}}, ErrInvalidNeighborhoods},
		{"unknown metric", &Options{MetricX: Metric(42)}, ErrBadMetric},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := NewKSGEnsemble(tc.opts)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, e)
		})
	}
}

func TestKSGEnsembleFitValidation(t *testing.T) {
	e, err := NewKSGEnsemble(nil)
	require.NoError(t, err)

	x := mat.NewDense(10, 1, nil)
	y := mat.NewDense(9, 1, nil)
	require.ErrorIs(t, e.Fit(x, y), ErrLengthMismatch)

	e50, err := NewKSGEnsemble(&Options{Neighborhoods: []int{50}})
	require.NoError(t, err)
	x10, y10 := gaussianPair(t, 10, 0.5, 1)
	require.ErrorIs(t, e50.Fit(x10, y10), ErrInsufficientSamples)
}

func TestKSGEnsembleUnfitted(t *testing.T) {
	e, err := NewKSGEnsemble(nil)
	require.NoError(t, err)
	_, err = e.Predictions()
	require.ErrorIs(t, err, ErrNotFitted)
}

func TestKSGEnsembleFailedFitKeepsState(t *testing.T) {
	e, err := NewKSGEnsemble(nil)
	require.NoError(t, err)

	x, y := gaussianPair(t, 100, 0.5, 2)
	require.NoError(t, e.Fit(x, y))
	before, err := e.Predictions()
	require.NoError(t, err)

	require.ErrorIs(t, e.Fit(x, mat.NewDense(99, 1, nil)), ErrLengthMismatch)
	after, err := e.Predictions()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestKSGEnsembleConstantColumn(t *testing.T) {
	e, err := NewKSGEnsemble(&Options{Neighborhoods: []int{1}})
	require.NoError(t, err)

	x := mat.NewDense(5, 1, []float64{1, 1, 1, 1, 1})
	y := mat.NewDense(5, 1, []float64{1, 2, 3, 4, 5})
	require.ErrorIs(t, e.Fit(x, y), ErrConstantColumn)
}

func TestKSGEnsembleDeterminism(t *testing.T) {
	x, y := gaussianPair(t, 300, 0.6, 3)

	e, err := NewKSGEnsemble(nil)
	require.NoError(t, err)
	require.NoError(t, e.Fit(x, y))
	first, err := e.Predictions()
	require.NoError(t, err)

	require.NoError(t, e.Fit(x, y))
	second, err := e.Predictions()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestKSGEnsembleMetricMirroring(t *testing.T) {
	x, y := gaussianPair(t, 250, 0.4, 4)

	implicit, err := NewKSGEnsemble(&Options{MetricX: Manhattan})
	require.NoError(t, err)
	explicit, err := NewKSGEnsemble(&Options{MetricX: Manhattan, MetricY: Manhattan})
	require.NoError(t, err)

	require.NoError(t, implicit.Fit(x, y))
	require.NoError(t, explicit.Fit(x, y))

	pi, err := implicit.Predictions()
	require.NoError(t, err)
	pe, err := explicit.Predictions()
	require.NoError(t, err)
	assert.Equal(t, pe, pi)
}

func TestKSGEnsembleWorkerInvariance(t *testing.T) {
	x, y := gaussianPair(t, 400, 0.7, 5)

	serial, err := NewKSGEnsemble(&Options{Workers: 1})
	require.NoError(t, err)
	parallel, err := NewKSGEnsemble(&Options{Workers: 4})
	require.NoError(t, err)

	require.NoError(t, serial.Fit(x, y))
	require.NoError(t, parallel.Fit(x, y))

	ps, err := serial.Predictions()
	require.NoError(t, err)
	pp, err := parallel.Predictions()
	require.NoError(t, err)
	require.Len(t, pp, len(ps))
	for k, v := range ps {
		assert.InDelta(t, v, pp[k], 1e-9, "k=%d", k)
	}
}

func TestKSGEnsembleNonNegative(t *testing.T) {
	// Independent data drives the raw estimator slightly negative; the
	// clamp must floor every value at zero.
	x, y := independentPair(t, 150, 6)
	e, err := NewKSGEnsemble(&Options{Neighborhoods: []int{1, 2, 3, 5, 8}})
	require.NoError(t, err)
	require.NoError(t, e.Fit(x, y))

	preds, err := e.Predictions()
	require.NoError(t, err)
	require.Len(t, preds, 5)
	for k, v := range preds {
		assert.GreaterOrEqual(t, v, 0.0, "k=%d", k)
	}
}

func TestKSGEnsemblePredictionsAreCopies(t *testing.T) {
	x, y := gaussianPair(t, 100, 0.3, 7)
	e, err := NewKSGEnsemble(nil)
	require.NoError(t, err)
	require.NoError(t, e.Fit(x, y))

	p1, err := e.Predictions()
	require.NoError(t, err)
	p1[5] = -1
	p2, err := e.Predictions()
	require.NoError(t, err)
	assert.NotEqual(t, p1[5], p2[5])
}

// independentPair samples X and Y from independent univariate normals.
func independentPair(t *testing.T, n int, seed uint64) (x, y *mat.Dense) {
	t.Helper()
	nx := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(seed, 1)}
	ny := distuv.Normal{Mu: 2, Sigma: 3, Src: rand.NewPCG(seed, 2)}
	x = mat.NewDense(n, 1, nil)
	y = mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, nx.Rand())
		y.Set(i, 0, ny.Rand())
	}
	return x, y
}

func TestKSGEnsembleGaussianAccuracy(t *testing.T) {
	if testing.Short() {
		t.Skip("accuracy test needs n=2000 brute-force fits")
	}
	for _, rho := range []float64{0, 0.5, 0.8} {
		x, y := gaussianPair(t, 2000, rho, 8)
		e, err := NewKSGEnsemble(nil)
		require.NoError(t, err)

		got, err := e.Estimate(x, y)
		require.NoError(t, err)
		withinTolerance(t, gaussianMI(rho), got)
	}
}

func TestKSGEnsembleIndependenceBaseline(t *testing.T) {
	if testing.Short() {
		t.Skip("accuracy test needs n=2000 brute-force fits")
	}
	x, y := independentPair(t, 2000, 9)
	e, err := NewKSGEnsemble(nil)
	require.NoError(t, err)

	got, err := e.Estimate(x, y)
	require.NoError(t, err)
	withinTolerance(t, 0, got)
}

func TestKSGEnsembleEstimateIsMeanOfPredictions(t *testing.T) {
	x, y := gaussianPair(t, 300, 0.5, 10)
	e, err := NewKSGEnsemble(&Options{Neighborhoods: []int{3, 7}})
	require.NoError(t, err)

	got, err := e.Estimate(x, y)
	require.NoError(t, err)

	preds, err := e.Predictions()
	require.NoError(t, err)
	assert.InDelta(t, (preds[3]+preds[7])/2, got, 1e-12)
}

func TestKSGEnsembleWithoutStandardization(t *testing.T) {
	// Standardization only rescales; for already comparable scales the
	// estimate should remain in the same ballpark.
	x, y := gaussianPair(t, 500, 0.8, 11)
	raw, err := NewKSGEnsemble(&Options{NoStandardize: true})
	require.NoError(t, err)
	scaled, err := NewKSGEnsemble(nil)
	require.NoError(t, err)

	gotRaw, err := raw.Estimate(x, y)
	require.NoError(t, err)
	gotScaled, err := scaled.Estimate(x, y)
	require.NoError(t, err)
	assert.InDelta(t, gotScaled, gotRaw, 0.2)
}

func TestKSGEnsembleDuplicateNeighborhoods(t *testing.T) {
	x, y := gaussianPair(t, 200, 0.5, 12)
	dup, err := NewKSGEnsemble(&Options{Neighborhoods: []int{5, 5, 10}})
	require.NoError(t, err)
	plain, err := NewKSGEnsemble(&Options{Neighborhoods: []int{5, 10}})
	require.NoError(t, err)

	require.NoError(t, dup.Fit(x, y))
	require.NoError(t, plain.Fit(x, y))

	pd, err := dup.Predictions()
	require.NoError(t, err)
	pp, err := plain.Predictions()
	require.NoError(t, err)
	assert.Equal(t, pp, pd)
}
