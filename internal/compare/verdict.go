package compare

// Decision is the accept/reject verdict for a candidate.
type Decision string

const (
	DecisionStrongAccept Decision = "accept_strong"
	DecisionWeakAccept   Decision = "accept_weak"
	DecisionKeepBaseline Decision = "reject_keep_baseline"
	DecisionRegression   Decision = "reject_regression"
)

// Decision thresholds on total improvement. These are fixed policy.
const (
	StrongAcceptThreshold = 0.10
	RegressionThreshold   = -0.05
)

// Weights of the total improvement.
const (
	ScoreWeight       = 0.7
	PerformanceWeight = 0.3
)

// Decide maps a total improvement onto a decision:
// > 0.10 strong accept, (0, 0.10] weak accept, (-0.05, 0] keep baseline, <= -0.05 regression.
func Decide(total float64) Decision {
	switch {
	case total > StrongAcceptThreshold:
		return DecisionStrongAccept
	case total > 0:
		return DecisionWeakAccept
	case total > RegressionThreshold:
		return DecisionKeepBaseline
	default:
		return DecisionRegression
	}
}

// Accepted reports whether the candidate should replace the baseline.
func (d Decision) Accepted() bool {
	return d == DecisionStrongAccept || d == DecisionWeakAccept
}

// Recommendation is the human-readable form of the decision.
func (d Decision) Recommendation() string {
	switch d {
	case DecisionStrongAccept:
		return "ACCEPT: significant improvement"
	case DecisionWeakAccept:
		return "ACCEPT: marginal improvement"
	case DecisionKeepBaseline:
		return "REJECT: no improvement, keep baseline"
	case DecisionRegression:
		return "REJECT: regression detected"
	default:
		return "UNKNOWN"
	}
}
