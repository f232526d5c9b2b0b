package compare

// Stats counts evaluation outcomes.
type Stats struct {
	Evaluations      int     `json:"evaluations"`
	StrongAccepts    int     `json:"strong_accepts"`
	WeakAccepts      int     `json:"weak_accepts"`
	KeptBaseline     int     `json:"kept_baseline"`
	Regressions      int     `json:"regressions"`
	Indeterminate    int     `json:"indeterminate"`
	TotalImprovement float64 `json:"total_improvement"` // sum over evaluations
}

// Record returns s updated with one evaluation.
func (s Stats) Record(ev Evaluation) Stats {
	s.Evaluations++
	switch ev.Decision {
	case DecisionStrongAccept:
		s.StrongAccepts++
	case DecisionWeakAccept:
		s.WeakAccepts++
	case DecisionKeepBaseline:
		s.KeptBaseline++
	case DecisionRegression:
		s.Regressions++
	}
	if ev.Indeterminate {
		s.Indeterminate++
	}
	s.TotalImprovement += ev.TotalImprovement
	return s
}

// Accepted returns the number of accepted candidates.
func (s Stats) Accepted() int {
	return s.StrongAccepts + s.WeakAccepts
}

// MeanImprovement returns the average total improvement, 0 with no evaluations.
func (s Stats) MeanImprovement() float64 {
	if s.Evaluations == 0 {
		return 0
	}
	return s.TotalImprovement / float64(s.Evaluations)
}
