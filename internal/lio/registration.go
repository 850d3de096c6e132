package lio

import (
	"gonum.org/v1/gonum/mat"
)

// Registration solver limits. Iteration stops early once the squared step
// norms for translation and rotation both fall under convergenceEpsilon.
const (
	maxRegistrationIterations = 30
	convergenceEpsilon        = 1e-7
	degeneracyRidge           = 0.5
)

// Register aligns an observed feature frame against the fused local map by
// iterative least squares and returns the 6-DoF correction relative to the
// local map's head frame.
//
// Spin line points match lines in the local map, spin and solid plane
// points match planes, and solid non-feature points match planes from the
// local non-feature cloud at a looser weight. A pathological input never
// panics; it degrades to returning the initial estimate.
func Register(observed, local FeatureFrame, degeneracyThreshold float64, initial Transform) Transform {
	adapSpin := newFeatureAdapter(local.Spin)
	adapSolid := newFeatureAdapter(local.Solid)

	est := initial
	for i := 0; i < maxRegistrationIterations; i++ {
		pose := est.Matrix()
		jac := eulerJacobian(est)

		var sys normalSystem
		accumLineResiduals(&sys, observed.Spin.Lines, adapSpin.lines, pose, jac, 1.0)
		accumPlaneResiduals(&sys, observed.Spin.Planes, adapSpin.planes, pose, jac, 1.0)
		accumPlaneResiduals(&sys, observed.Solid.Planes, adapSolid.planes, pose, jac, 1.0)
		accumPlaneResiduals(&sys, observed.Solid.Non, adapSolid.non, pose, jac, nonFeatureWeight)

		if sys.count == 0 {
			diagf("register: no correspondences at iteration %d, keeping current estimate", i)
			return est
		}

		ata := mat.NewDense(6, 6, sys.ata[:])
		if i == 0 {
			removeDegenerate(ata, degeneracyThreshold)
		}
		atb := mat.NewVecDense(6, sys.atb[:])

		var qr mat.QR
		qr.Factorize(ata)
		var delta mat.VecDense
		if err := qr.SolveVecTo(&delta, false, atb); err != nil {
			opsf("register: normal equations unsolvable at iteration %d: %v", i, err)
			return est
		}

		est.X += delta.AtVec(0)
		est.Y += delta.AtVec(1)
		est.Z += delta.AtVec(2)
		est.Roll += delta.AtVec(3)
		est.Pitch += delta.AtVec(4)
		est.Yaw += delta.AtVec(5)

		deltaXYZ := delta.AtVec(0)*delta.AtVec(0) + delta.AtVec(1)*delta.AtVec(1) + delta.AtVec(2)*delta.AtVec(2)
		deltaRPY := delta.AtVec(3)*delta.AtVec(3) + delta.AtVec(4)*delta.AtVec(4) + delta.AtVec(5)*delta.AtVec(5)
		if deltaXYZ < convergenceEpsilon && deltaRPY < convergenceEpsilon {
			return est
		}
	}
	return est
}

// removeDegenerate inspects the eigenvalues of AᵀA and, when any falls
// below the threshold, adds a Tikhonov ridge to every diagonal element.
// AᵀA is symmetric positive-semidefinite, so a symmetric eigensolver is
// exact here (imaginary parts are zero by construction). The ridge is
// applied on the first solver iteration only; subsequent iterations
// relinearize and start from a fresh system.
//
// Reports whether the ridge was applied.
func removeDegenerate(ata *mat.Dense, threshold float64) bool {
	sym := mat.NewSymDense(6, nil)
	for i := 0; i < 6; i++ {
		for j := i; j < 6; j++ {
			sym.SetSym(i, j, ata.At(i, j))
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(sym, false) {
		// Treat a failed factorization like a degenerate system.
		for i := 0; i < 6; i++ {
			ata.Set(i, i, ata.At(i, i)+degeneracyRidge)
		}
		return true
	}

	degenerate := false
	for _, v := range eig.Values(nil) {
		if v < threshold {
			degenerate = true
			break
		}
	}
	if degenerate {
		for i := 0; i < 6; i++ {
			ata.Set(i, i, ata.At(i, i)+degeneracyRidge)
		}
	}
	return degenerate
}
