// Package fit provides nonlinear least-squares fitting of Gaussian and
// squared-hyperbolic-secant peak models to 1D profiles and 2D frames, built
// on a Levenberg-Marquardt minimiser with numeric Jacobians and covariance
// based parameter uncertainties.
package fit

// Status is the termination code of a fit. The taxonomy is closed and shared
// by every consumer so that all call sites agree on what counts as a usable
// result.
type Status int

const (
	// StatusInvalidInput marks a fit that never ran: degenerate data or a
	// malformed seed.
	StatusInvalidInput Status = iota
	// StatusConverged is the only clean success.
	StatusConverged
	// StatusBudgetExhausted means the function-call or iteration budget ran
	// out before the tolerances were met. The best parameters found so far
	// are returned.
	StatusBudgetExhausted
	// StatusTolTooTight means the requested relative tolerance is below what
	// the working precision can deliver; no further improvement is possible.
	StatusTolTooTight
	// StatusStalledJacobian means several consecutive Jacobian rebuilds
	// produced no downhill step.
	StatusStalledJacobian
	// StatusStalledIteration means iterations kept being accepted but
	// cumulative progress over the recent window was negligible.
	StatusStalledIteration
	// StatusUnknown is the sentinel for failures outside the taxonomy.
	StatusUnknown
)

// Converged reports a clean success.
func (s Status) Converged() bool { return s == StatusConverged }

// SolutionFound reports whether downstream consumers may use the fitted
// parameters: a clean convergence, an exhausted budget, an unreachable
// tolerance, or a Jacobian stall all leave a usable minimum behind.
// Invalid input, an iteration stall, and unknown failures do not.
func (s Status) SolutionFound() bool {
	return s >= StatusConverged && s <= StatusStalledJacobian
}

func (s Status) String() string {
	switch s {
	case StatusInvalidInput:
		return "invalid-input"
	case StatusConverged:
		return "converged"
	case StatusBudgetExhausted:
		return "budget-exhausted"
	case StatusTolTooTight:
		return "tolerance-too-tight"
	case StatusStalledJacobian:
		return "stalled-jacobian"
	case StatusStalledIteration:
		return "stalled-iteration"
	default:
		return "unknown"
	}
}
