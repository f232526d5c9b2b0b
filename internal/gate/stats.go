package gate

// Stats counts pipeline outcomes.
type Stats struct {
	Attempts                int `json:"attempts"`
	Accepted                int `json:"accepted"`
	Rejected                int `json:"rejected"`
	Unsafe                  int `json:"unsafe"`
	KnownRejections         int `json:"known_rejections"`
	CodeImprovements        int `json:"code_improvements"`
	PerformanceImprovements int `json:"performance_improvements"`
}

// Record returns s updated with one outcome.
func (s Stats) Record(o Outcome) Stats {
	s.Attempts++
	switch {
	case o.Accepted:
		s.Accepted++
		if o.Evaluation != nil {
			if o.Evaluation.TotalImprovement > 0 {
				s.CodeImprovements++
			}
			if o.Evaluation.PerformanceImprovement > 0 {
				s.PerformanceImprovements++
			}
		}
	case o.Unsafe:
		s.Unsafe++
	case o.Known:
		s.KnownRejections++
	default:
		s.Rejected++
	}
	return s
}

// SuccessRate is accepted over attempts, 0 with no attempts.
func (s Stats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Accepted) / float64(s.Attempts)
}
