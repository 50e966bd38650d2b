// Package lmfit implements the Levenberg-Marquardt nonlinear least-squares
// solver (§4.F): the MINPACK lmdif/lmpar/qrfac family — column-pivoted QR
// factorization of the Jacobian, a trust-region radius updated by the
// actual/predicted reduction ratio, and an lmpar search for the damping
// parameter that drives the scaled step length to that radius — extended
// with box constraints, parameter pegging at an active bound, tied
// parameters expressed as a function of the free-parameter vector, and an
// optional MPFIT-style outlier damping of the residuals.
//
// This package is the one component of the engine built entirely on the
// standard library rather than a third-party numeric package — see
// the Libraries note of DESIGN.md's LM Solver section for gonum: none of the
// retrieved example repos ships source code using it (one repo's go.mod
// lists gonum.org/v1/gonum but the repo itself has zero source files in
// the retrieval pack), so there is nothing in the corpus to ground a
// gonum-based port against, and the solver is small enough — a handful of
// n×n linear solves per fit, n being the free-parameter count, typically
// under twenty — that hand-rolled linear algebra is the appropriate scale
// of tool. qrfac here uses pivoted modified Gram-Schmidt rather than
// MINPACK's Householder reflections (simpler to get right without a
// reference implementation to test against), and lmpar's inner damped
// solve uses the normal-equations form (R^T R + par D^2) by direct
// Gauss-Jordan elimination rather than MINPACK's qrsolv Givens-rotation
// retriangularization, since R^T R and the scaling diagonal are already in
// hand from qrfac and a direct n×n solve is simple to verify by reading at
// this solver's parameter-count scale. The search for par accepts par = 0
// when the Gauss-Newton step already fits the trust region, and otherwise
// bisects between a lower bound of zero and a scaled-gradient upper bound;
// MINPACK's Newton update of par is not used.
package lmfit

import (
	"fmt"
	"math"
)

// Status is the terminal state of a Fit call, keyed to MINPACK's lmdif
// "info" output: a stable integer contract callers can switch on directly
// rather than a package-private enumeration.
type Status int

const (
	StatusImproperInput Status = 0
	// StatusFTol: both the actual and predicted relative reduction in the
	// sum of squares are at most FTol.
	StatusFTol Status = 1
	// StatusXTol: the relative error between two consecutive iterates is
	// at most XTol.
	StatusXTol Status = 2
	// StatusBothTol: the conditions for StatusFTol and StatusXTol both hold.
	StatusBothTol Status = 3
	// StatusGTol: the cosine of the angle between the residual vector and
	// any column of the Jacobian is at most GTol in absolute value.
	StatusGTol Status = 4
	// StatusMaxFuncEvals: the number of residual-function calls has
	// reached or exceeded the configured maximum, or MaxIterations outer
	// iterations ran without any other termination condition holding.
	StatusMaxFuncEvals Status = 5
	StatusFTolTooSmall Status = 6
	StatusXTolTooSmall Status = 7
	StatusGTolTooSmall Status = 8
	// StatusNonFinite is an MPFIT-style extension to the MINPACK contract:
	// a residual or Jacobian evaluation produced a NaN or an infinity.
	StatusNonFinite Status = -16
)

func (s Status) String() string {
	switch s {
	case StatusImproperInput:
		return "improper input parameters"
	case StatusFTol:
		return "both actual and predicted relative reduction in the sum of squares are at most ftol"
	case StatusXTol:
		return "relative error between consecutive iterates is at most xtol"
	case StatusBothTol:
		return "ftol and xtol conditions both satisfied"
	case StatusGTol:
		return "residual is orthogonal to the jacobian columns to within gtol"
	case StatusMaxFuncEvals:
		return "maximum number of function evaluations or iterations reached"
	case StatusFTolTooSmall:
		return "ftol is too small: no further reduction in the sum of squares is possible"
	case StatusXTolTooSmall:
		return "xtol is too small: no further improvement in the solution is possible"
	case StatusGTolTooSmall:
		return "gtol is too small: residual already orthogonal to the jacobian to machine precision"
	case StatusNonFinite:
		return "encountered a non-finite residual or jacobian value"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// success reports whether s is one of the convergence statuses (as opposed
// to a failure or an early-termination warning).
func (s Status) success() bool {
	switch s {
	case StatusFTol, StatusXTol, StatusBothTol, StatusGTol:
		return true
	default:
		return false
	}
}

// Bounds is an inclusive box constraint on one parameter. Use
// math.Inf(-1)/math.Inf(1) for an unbounded side.
type Bounds struct {
	Lower float64
	Upper float64
}

// ResidualFunc computes the residual vector (observed - model) at a
// parameter vector. Its length need not match len(params).
type ResidualFunc func(params []float64) ([]float64, error)

// TieFunc computes a tied parameter's value as a function of the full
// parameter vector (which may itself reference other, already-resolved
// tied parameters at lower indices).
type TieFunc func(params []float64) float64

// Options configures a Fit call. Zero-valued fields fall back to the
// defaults DefaultOptions returns.
type Options struct {
	MaxIterations          int
	MaxFunctionEvaluations int
	FTol                   float64
	XTol                   float64
	GTol                   float64
	InitialLambda          float64

	// Damp, if positive, applies MPFIT-style outlier damping: every
	// residual r is replaced with Damp*tanh(r/Damp) before it reaches the
	// solver, softening the influence of points far from the model.
	Damp float64

	// Bounds, if non-nil, must have one entry per parameter.
	Bounds []Bounds

	// Tied holds, per parameter index, a function computing that
	// parameter's value from the rest of the vector; a nil entry (or an
	// index past the end of Tied) means the parameter is free. A tied
	// parameter is excluded from the fit's free-parameter vector and is
	// re-evaluated from its TieFunc after every accepted step.
	Tied []TieFunc

	// Fixed marks parameters excluded from the fit entirely, held at
	// their initial value.
	Fixed []bool
}

// DefaultOptions returns the package's default convergence tolerances.
func DefaultOptions() Options {
	return Options{
		MaxIterations: 200,
		FTol:          1e-10,
		XTol:          1e-10,
		GTol:          1e-10,
		InitialLambda: 1e-3,
	}
}

// Result is the outcome of a Fit call, shaped to the §4.F output contract.
type Result struct {
	Params     []float64
	Residuals  []float64
	ChiSquare  float64
	// Perror is the 1-sigma parameter uncertainty, sqrt(Covariance[i][i]);
	// zero for fixed, tied, and pegged parameters.
	Perror []float64
	// Fnorm is the Euclidean norm of Residuals at Params.
	Fnorm      float64
	Iterations int
	// Nfev counts every call made to the residual function, including
	// finite-difference Jacobian perturbations and rejected trial steps.
	Nfev   int
	Status Status
	// Errmsg is a human-readable message for a non-converged Status, empty
	// on success.
	Errmsg     string
	Covariance [][]float64
	// Pegged lists the parameter indices clamped to an active bound in
	// the final accepted step.
	Pegged []int
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxIterations > 0 {
		d.MaxIterations = o.MaxIterations
	}
	if o.FTol > 0 {
		d.FTol = o.FTol
	}
	if o.XTol > 0 {
		d.XTol = o.XTol
	}
	if o.GTol > 0 {
		d.GTol = o.GTol
	}
	if o.InitialLambda > 0 {
		d.InitialLambda = o.InitialLambda
	}
	d.MaxFunctionEvaluations = o.MaxFunctionEvaluations
	d.Damp = o.Damp
	d.Bounds = o.Bounds
	d.Tied = o.Tied
	d.Fixed = o.Fixed
	return d
}

// enorm computes the Euclidean norm of v, following MINPACK's enorm in
// spirit (guard against overflow/underflow on extreme magnitudes) without
// its multi-scale bookkeeping, since Go's float64 range makes the naive
// sum-of-squares adequate for the parameter counts this solver targets.
func enorm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func isFiniteSlice(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// freeIndices returns the indices of params that are neither fixed nor
// tied to an expression.
func freeIndices(n int, opts Options) []int {
	var free []int
	for i := 0; i < n; i++ {
		if opts.Fixed != nil && i < len(opts.Fixed) && opts.Fixed[i] {
			continue
		}
		if opts.Tied != nil && i < len(opts.Tied) && opts.Tied[i] != nil {
			continue
		}
		free = append(free, i)
	}
	return free
}

// applyTied re-evaluates every tied parameter's TieFunc against the
// current vector, in ascending index order, so a tie expression may refer
// to another tied parameter at a lower index.
func applyTied(params []float64, opts Options) {
	for i, f := range opts.Tied {
		if f != nil && i < len(params) {
			params[i] = f(params)
		}
	}
}

// clampToBounds projects params into opts.Bounds in place, returning the
// indices that were pegged (moved to an active bound).
func clampToBounds(params []float64, opts Options) []int {
	if opts.Bounds == nil {
		return nil
	}
	var pegged []int
	for i, b := range opts.Bounds {
		if i >= len(params) {
			break
		}
		if params[i] < b.Lower {
			params[i] = b.Lower
			pegged = append(pegged, i)
		} else if params[i] > b.Upper {
			params[i] = b.Upper
			pegged = append(pegged, i)
		}
	}
	return pegged
}

// activeBounds returns the indices of params sitting exactly on one of
// opts.Bounds' limits — the pegging boundedStepScale produces by
// construction, which clampToBounds's strict inequality check would miss
// since a bound-scaled step lands on the limit rather than past it.
func activeBounds(params []float64, bounds []Bounds) []int {
	if bounds == nil {
		return nil
	}
	var active []int
	for i, b := range bounds {
		if i >= len(params) {
			break
		}
		if (!math.IsInf(b.Lower, -1) && params[i] <= b.Lower) || (!math.IsInf(b.Upper, 1) && params[i] >= b.Upper) {
			active = append(active, i)
		}
	}
	return active
}

// boundedStepScale returns alpha in [0, 1], the largest scalar by which
// stepFree (indexed in free-parameter order) can be multiplied without
// carrying any free parameter past its bound. alpha is 0 when a parameter
// already sitting on a bound would be pushed further outward.
func boundedStepScale(params []float64, stepFree []float64, free []int, bounds []Bounds) float64 {
	if bounds == nil {
		return 1
	}
	alpha := 1.0
	for j, idx := range free {
		if idx >= len(bounds) || stepFree[j] == 0 {
			continue
		}
		b := bounds[idx]
		next := params[idx] + stepFree[j]
		switch {
		case next < b.Lower && !math.IsInf(b.Lower, -1):
			if a := (b.Lower - params[idx]) / stepFree[j]; a < alpha {
				alpha = a
			}
		case next > b.Upper && !math.IsInf(b.Upper, 1):
			if a := (b.Upper - params[idx]) / stepFree[j]; a < alpha {
				alpha = a
			}
		}
	}
	if alpha < 0 {
		alpha = 0
	}
	return alpha
}

// dampResiduals applies MPFIT-style soft clamping to r in place: each
// residual x becomes damp*tanh(x/damp), bounding the influence any single
// outlier can have on the step.
func dampResiduals(r []float64, damp float64) {
	if damp <= 0 {
		return
	}
	for i, x := range r {
		r[i] = damp * math.Tanh(x/damp)
	}
}

// jacobian computes the forward-difference Jacobian of call at params,
// restricted to the free parameter indices, evaluated from the residual
// vector r0 := call(params).
func jacobian(call ResidualFunc, params []float64, r0 []float64, free []int) ([][]float64, error) {
	m := len(r0)
	jac := make([][]float64, m)
	for i := range jac {
		jac[i] = make([]float64, len(free))
	}
	for col, idx := range free {
		h := 1e-6 * math.Max(1.0, math.Abs(params[idx]))
		perturbed := append([]float64(nil), params...)
		perturbed[idx] += h
		r1, err := call(perturbed)
		if err != nil {
			return nil, err
		}
		for row := 0; row < m && row < len(r1); row++ {
			jac[row][col] = (r1[row] - r0[row]) / h
		}
	}
	return jac, nil
}

// solveLinearSystem solves a·x = b via Gauss-Jordan elimination with
// partial pivoting, returning false if a is numerically singular.
func solveLinearSystem(a [][]float64, b []float64) ([]float64, bool) {
	n := len(b)
	aug := make([][]float64, n)
	for i := range aug {
		aug[i] = append(append([]float64(nil), a[i]...), b[i])
	}

	for col := 0; col < n; col++ {
		pivot := col
		maxAbs := math.Abs(aug[col][col])
		for row := col + 1; row < n; row++ {
			if v := math.Abs(aug[row][col]); v > maxAbs {
				pivot, maxAbs = row, v
			}
		}
		if maxAbs < 1e-14 {
			return nil, false
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]

		pv := aug[col][col]
		for k := col; k <= n; k++ {
			aug[col][k] /= pv
		}
		for row := 0; row < n; row++ {
			if row == col {
				continue
			}
			factor := aug[row][col]
			for k := col; k <= n; k++ {
				aug[row][k] -= factor * aug[col][k]
			}
		}
	}

	x := make([]float64, n)
	for i := range x {
		x[i] = aug[i][n]
	}
	return x, true
}

// qrfac factors the m x k matrix a (m >= k) as a pivoted, column-normalized
// Q*R: Q (m x k) has orthonormal columns, R (k x k) is upper triangular,
// and ipvt records the column permutation: at each step the remaining
// column with the largest norm, after removing its components along the
// earlier Q columns, is moved into place. acnorm holds the norms of the
// original columns in their original order. Computed here via pivoted
// modified Gram-Schmidt rather than Householder reflections.
func qrfac(a [][]float64) (q, r [][]float64, ipvt []int, acnorm []float64, err error) {
	m := len(a)
	if m == 0 {
		return nil, nil, nil, nil, fmt.Errorf("lmfit: qrfac: empty jacobian")
	}
	k := len(a[0])
	if k > m {
		return nil, nil, nil, nil, fmt.Errorf("lmfit: fewer residuals (%d) than free parameters (%d)", m, k)
	}

	cols := make([][]float64, k)
	for j := 0; j < k; j++ {
		cols[j] = make([]float64, m)
		for i := 0; i < m; i++ {
			cols[j][i] = a[i][j]
		}
	}
	acnorm = make([]float64, k)
	for j := range cols {
		acnorm[j] = enorm(cols[j])
	}
	colNorms := append([]float64(nil), acnorm...)

	ipvt = make([]int, k)
	for j := range ipvt {
		ipvt[j] = j
	}

	r = make([][]float64, k)
	for i := range r {
		r[i] = make([]float64, k)
	}
	qCols := make([][]float64, k)

	for j := 0; j < k; j++ {
		maxCol, maxNorm := j, colNorms[j]
		for c := j + 1; c < k; c++ {
			if colNorms[c] > maxNorm {
				maxCol, maxNorm = c, colNorms[c]
			}
		}
		if maxCol != j {
			cols[j], cols[maxCol] = cols[maxCol], cols[j]
			ipvt[j], ipvt[maxCol] = ipvt[maxCol], ipvt[j]
			colNorms[j], colNorms[maxCol] = colNorms[maxCol], colNorms[j]
		}

		v := append([]float64(nil), cols[j]...)
		for p := 0; p < j; p++ {
			proj := dot(qCols[p], cols[j])
			r[p][j] = proj
			for i := range v {
				v[i] -= proj * qCols[p][i]
			}
		}
		norm := enorm(v)
		r[j][j] = norm
		if norm > 1e-300 {
			for i := range v {
				v[i] /= norm
			}
		}
		qCols[j] = v

		for c := j + 1; c < k; c++ {
			proj := dot(qCols[j], cols[c])
			for i := range cols[c] {
				cols[c][i] -= proj * qCols[j][i]
			}
			colNorms[c] = enorm(cols[c])
		}
	}

	q = make([][]float64, m)
	for i := range q {
		q[i] = make([]float64, k)
	}
	for j := 0; j < k; j++ {
		for i := 0; i < m; i++ {
			q[i][j] = qCols[j][i]
		}
	}
	return q, r, ipvt, acnorm, nil
}

// unpivot maps v (indexed in qrfac's pivoted column order) back to
// original free-parameter order.
func unpivot(v []float64, ipvt []int) []float64 {
	out := make([]float64, len(v))
	for j, orig := range ipvt {
		out[orig] = v[j]
	}
	return out
}

// lmpar searches for the Levenberg-Marquardt parameter par such that the
// scaled step x(par) solving (R^T R + par D^2) x = R^T qtb satisfies
// ||D x(par)|| within 10% of delta. par = 0 is returned when the
// Gauss-Newton solution already satisfies ||D x|| <= 1.1*delta; otherwise
// par is bisected, for at most 10 rounds, between a lower bound of zero
// and an upper bound from the scaled gradient norm. Returns par and x in
// free-parameter order (already unpivoted); the caller negates x to get
// the descent step.
func lmpar(r [][]float64, ipvt []int, diag []float64, qtb []float64, delta, parGuess float64) (par float64, step []float64) {
	k := len(qtb)
	diagPerm := make([]float64, k)
	for j := range diagPerm {
		diagPerm[j] = diag[ipvt[j]]
	}

	rtr := make([][]float64, k)
	for i := range rtr {
		rtr[i] = make([]float64, k)
		for j := 0; j < k; j++ {
			sum := 0.0
			for p := 0; p <= i && p <= j; p++ {
				sum += r[p][i] * r[p][j]
			}
			rtr[i][j] = sum
		}
	}
	rtb := make([]float64, k)
	for i := 0; i < k; i++ {
		sum := 0.0
		for p := 0; p <= i; p++ {
			sum += r[p][i] * qtb[p]
		}
		rtb[i] = sum
	}

	solveDamped := func(p float64) ([]float64, bool) {
		m := make([][]float64, k)
		for i := range m {
			m[i] = append([]float64(nil), rtr[i]...)
			m[i][i] += p * diagPerm[i] * diagPerm[i]
		}
		return solveLinearSystem(m, rtb)
	}

	if gn, ok := solveDamped(0); ok {
		scaled := make([]float64, k)
		for j := range scaled {
			scaled[j] = diagPerm[j] * gn[j]
		}
		if enorm(scaled) <= 1.1*delta {
			return 0, unpivot(gn, ipvt)
		}
	}

	grad := make([]float64, k)
	for j := 0; j < k; j++ {
		if diagPerm[j] != 0 {
			grad[j] = rtb[j] / diagPerm[j]
		}
	}
	paru := enorm(grad) / math.Max(delta, 1e-300)
	if paru <= 0 {
		paru = 1
	}
	parl := 0.0

	par = parGuess
	if par <= 0 {
		par = 0.5 * paru
	}

	best := make([]float64, k)
	for iter := 0; iter < 10; iter++ {
		x, ok := solveDamped(par)
		if !ok {
			par *= 10
			continue
		}
		best = x

		scaled := make([]float64, k)
		for j := range scaled {
			scaled[j] = diagPerm[j] * x[j]
		}
		dxnorm := enorm(scaled)
		fp := dxnorm - delta
		if math.Abs(fp) <= 0.1*delta {
			break
		}
		if fp > 0 {
			if par > parl {
				parl = par
			}
		} else {
			if par < paru {
				paru = par
			}
		}
		if paru <= parl {
			break
		}
		par = 0.5 * (parl + paru)
	}
	return par, unpivot(best, ipvt)
}

const lmFactor = 100.0

// Fit runs Levenberg-Marquardt trust-region iteration starting from
// initial, returning the converged (or best-effort) parameter vector and
// diagnostics.
func Fit(fn ResidualFunc, initial []float64, options Options) (*Result, error) {
	opts := options.withDefaults()
	n := len(initial)
	if n == 0 {
		return nil, fmt.Errorf("lmfit: no parameters to fit")
	}

	nfev := 0
	call := func(p []float64) ([]float64, error) {
		r, err := fn(p)
		if err != nil {
			return nil, err
		}
		nfev++
		dampResiduals(r, opts.Damp)
		return r, nil
	}

	params := append([]float64(nil), initial...)
	applyTied(params, opts)
	clampToBounds(params, opts)

	free := freeIndices(n, opts)
	k := len(free)
	if k == 0 {
		return nil, fmt.Errorf("lmfit: no free parameters to fit")
	}

	maxfev := opts.MaxFunctionEvaluations
	if maxfev <= 0 {
		maxfev = 200 * (k + 1)
	}

	residuals, err := call(params)
	if err != nil {
		return nil, fmt.Errorf("lmfit: initial residual evaluation: %w", err)
	}
	if !isFiniteSlice(residuals) {
		return finish(params, residuals, nil, 0, nfev, StatusNonFinite, opts, fitOutcome{n: n})
	}
	fnorm := enorm(residuals)

	diag := make([]float64, k)
	delta := 0.0
	par := opts.InitialLambda
	status := StatusMaxFuncEvals
	var pegged []int
	iterations := 0

outer:
	for iter := 0; iter < opts.MaxIterations; iter++ {
		iterations = iter + 1
		if nfev >= maxfev {
			status = StatusMaxFuncEvals
			break
		}

		jac, err := jacobian(call, params, residuals, free)
		if err != nil {
			return nil, fmt.Errorf("lmfit: jacobian evaluation: %w", err)
		}
		q, r, ipvt, acnorm, err := qrfac(jac)
		if err != nil {
			return nil, err
		}

		if iter == 0 {
			for j := 0; j < k; j++ {
				diag[j] = acnorm[j]
				if diag[j] == 0 {
					diag[j] = 1
				}
			}
			scaled := make([]float64, k)
			for j, idx := range free {
				scaled[j] = diag[j] * params[idx]
			}
			xnorm := enorm(scaled)
			delta = lmFactor * xnorm
			if delta == 0 {
				delta = lmFactor
			}
		}

		qtf := make([]float64, k)
		for j := 0; j < k; j++ {
			sum := 0.0
			for i := 0; i < len(residuals); i++ {
				sum += q[i][j] * residuals[i]
			}
			qtf[j] = sum
		}

		gnorm := 0.0
		if fnorm != 0 {
			for j := 0; j < k; j++ {
				l := ipvt[j]
				if acnorm[l] == 0 {
					continue
				}
				sum := 0.0
				for i := 0; i <= j; i++ {
					sum += r[i][j] * qtf[i]
				}
				if g := math.Abs(sum/fnorm) / acnorm[l]; g > gnorm {
					gnorm = g
				}
			}
		}
		if gnorm <= opts.GTol {
			status = StatusGTol
			break
		}

		for j := 0; j < k; j++ {
			diag[j] = math.Max(diag[j], acnorm[j])
		}

		ratio := 0.0
		for attempt := 0; attempt < 20 && ratio < 1e-4; attempt++ {
			if nfev >= maxfev {
				status = StatusMaxFuncEvals
				break outer
			}

			var stepFree []float64
			par, stepFree = lmpar(r, ipvt, diag, qtf, delta, par)
			// lmpar solves for x with J x ≈ r; the step that reduces the
			// residuals is its negation.
			for j := range stepFree {
				stepFree[j] = -stepFree[j]
			}

			alpha := boundedStepScale(params, stepFree, free, opts.Bounds)
			candidate := append([]float64(nil), params...)
			for j, idx := range free {
				candidate[idx] += alpha * stepFree[j]
			}
			applyTied(candidate, opts)
			clampToBounds(candidate, opts)
			candPegged := activeBounds(candidate, opts.Bounds)

			scaledStep := make([]float64, k)
			for j, idx := range free {
				scaledStep[j] = diag[j] * (candidate[idx] - params[idx])
			}
			pnorm := enorm(scaledStep)
			if iter == 0 {
				delta = math.Min(delta, pnorm)
			}

			candResiduals, err := call(candidate)
			if err != nil || !isFiniteSlice(candResiduals) {
				par *= 10
				continue
			}
			fnorm1 := enorm(candResiduals)

			actred := -1.0
			if fnorm1 < fnorm {
				rr := fnorm1 / fnorm
				actred = 1 - rr*rr
			}

			stepPivoted := make([]float64, k)
			for j, orig := range ipvt {
				stepPivoted[j] = stepFree[orig]
			}
			rp := make([]float64, k)
			for i := 0; i < k; i++ {
				sum := 0.0
				for j := i; j < k; j++ {
					sum += r[i][j] * stepPivoted[j]
				}
				rp[i] = sum
			}
			var prered, dirder float64
			if fnorm != 0 {
				temp1 := enorm(rp) / fnorm
				temp2 := math.Sqrt(par) * pnorm / fnorm
				prered = temp1*temp1 + temp2*temp2/0.5
				dirder = -(temp1*temp1 + temp2*temp2)
			}

			if prered != 0 {
				ratio = actred / prered
			} else {
				ratio = 0
			}

			if ratio <= 0.25 {
				var tmp float64
				if actred >= 0 {
					tmp = 0.5
				} else if dirder != 0 {
					tmp = 0.5 * dirder / (dirder + 0.5*actred)
				} else {
					tmp = 0.1
				}
				if 0.1*fnorm1 >= fnorm || tmp < 0.1 {
					tmp = 0.1
				}
				delta = tmp * math.Min(delta, pnorm/0.1)
				par /= tmp
			} else if par == 0 || ratio >= 0.75 {
				delta = pnorm / 0.5
				par *= 0.5
			}

			if ratio >= 1e-4 {
				params = candidate
				residuals = candResiduals
				pegged = candPegged
				fnorm = fnorm1

				ftolOK := math.Abs(actred) <= opts.FTol && prered <= opts.FTol && 0.5*ratio <= 1
				xtolOK := delta <= opts.XTol*enorm(scaledParams(params, diag, free))
				switch {
				case ftolOK && xtolOK:
					status = StatusBothTol
					break outer
				case ftolOK:
					status = StatusFTol
					break outer
				case xtolOK:
					status = StatusXTol
					break outer
				}
			}

			const epsmch = 2.220446049250313e-16
			if math.Abs(actred) <= epsmch && prered <= epsmch && 0.5*ratio <= 1 {
				status = StatusFTolTooSmall
				break outer
			}
			if delta <= epsmch*enorm(scaledParams(params, diag, free)) {
				status = StatusXTolTooSmall
				break outer
			}
			if gnorm <= epsmch {
				status = StatusGTolTooSmall
				break outer
			}
		}
	}

	finalJac, jerr := jacobian(call, params, residuals, free)
	if jerr != nil {
		finalJac = nil
	}
	return finish(params, residuals, finalJac, fnorm, nfev, status, opts, fitOutcome{pegged: pegged, iterations: iterations, free: free, n: n})
}

func scaledParams(params, diag []float64, free []int) []float64 {
	out := make([]float64, len(free))
	for j, idx := range free {
		out[j] = diag[j] * params[idx]
	}
	return out
}

// normalEquations builds J^T J and J^T r for the free-parameter Jacobian.
func normalEquations(jac [][]float64, residuals []float64) ([][]float64, []float64) {
	if len(jac) == 0 {
		return nil, nil
	}
	k := len(jac[0])
	jtj := make([][]float64, k)
	for i := range jtj {
		jtj[i] = make([]float64, k)
	}
	jtr := make([]float64, k)

	for row := range jac {
		for i := 0; i < k; i++ {
			jtr[i] += jac[row][i] * residuals[row]
			for j := 0; j < k; j++ {
				jtj[i][j] += jac[row][i] * jac[row][j]
			}
		}
	}
	return jtj, jtr
}

// covariance inverts J^T J to approximate the parameter covariance
// matrix, expanded back to full (n x n) parameter space with zero rows
// and columns for fixed/tied parameters.
func covariance(jtj [][]float64, n int, free []int) [][]float64 {
	full := make([][]float64, n)
	for i := range full {
		full[i] = make([]float64, n)
	}
	if jtj == nil {
		return full
	}
	k := len(free)
	identity := make([][]float64, k)
	for i := range identity {
		identity[i] = make([]float64, k)
		identity[i][i] = 1
	}
	inv := make([][]float64, k)
	for col := 0; col < k; col++ {
		x, ok := solveLinearSystem(jtj, identity[col])
		if !ok {
			return full
		}
		for row := 0; row < k; row++ {
			if inv[row] == nil {
				inv[row] = make([]float64, k)
			}
			inv[row][col] = x[row]
		}
	}
	for i, gi := range free {
		for j, gj := range free {
			full[gi][gj] = inv[i][j]
		}
	}
	return full
}

// fitOutcome carries the bookkeeping finish needs beyond the residual
// function's own return values: which parameters were pegged and how many
// outer iterations ran, plus the free-parameter index set used to expand
// the covariance back to full parameter space.
type fitOutcome struct {
	pegged     []int
	iterations int
	free       []int
	n          int
}

// finish assembles the §4.F output contract from a completed (or
// abandoned) fit: the covariance, its derived per-parameter uncertainty
// (zeroed for fixed, tied, and pegged parameters), and a human-readable
// error message for any non-converged status.
func finish(params, residuals []float64, finalJac [][]float64, fnorm float64, nfev int, status Status, opts Options, outcome fitOutcome) (*Result, error) {
	pegged := outcome.pegged
	iterations := outcome.iterations
	free := outcome.free
	n := outcome.n
	if n == 0 {
		n = len(params)
	}

	var cov [][]float64
	if finalJac != nil && free != nil {
		jtj, _ := normalEquations(finalJac, residuals)
		cov = covariance(jtj, n, free)
	} else {
		cov = make([][]float64, n)
		for i := range cov {
			cov[i] = make([]float64, n)
		}
	}

	pinnedSet := map[int]bool{}
	if opts.Fixed != nil {
		for i, f := range opts.Fixed {
			if f {
				pinnedSet[i] = true
			}
		}
	}
	if opts.Tied != nil {
		for i, f := range opts.Tied {
			if f != nil {
				pinnedSet[i] = true
			}
		}
	}
	for _, idx := range pegged {
		pinnedSet[idx] = true
	}

	perror := make([]float64, n)
	for i := 0; i < n && i < len(cov); i++ {
		if pinnedSet[i] {
			continue
		}
		if cov[i][i] > 0 {
			perror[i] = math.Sqrt(cov[i][i])
		}
	}

	errmsg := ""
	if !status.success() {
		errmsg = status.String()
	}

	return &Result{
		Params:     params,
		Residuals:  residuals,
		ChiSquare:  fnorm * fnorm,
		Perror:     perror,
		Fnorm:      fnorm,
		Iterations: iterations,
		Nfev:       nfev,
		Status:     status,
		Errmsg:     errmsg,
		Covariance: cov,
		Pegged:     pegged,
	}, nil
}
