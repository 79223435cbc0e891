package compliance

// Score bands.
const (
	BandCompliant    = "compliant"
	BandModerate     = "moderate deviation"
	BandNonCompliant = "non-compliant - recommend suspension"
)

// Score derives the bounded compliance score from running violation and
// warning totals: max(0, 100 - 10v - 2w). Totals only grow within a run,
// so the score is monotonically non-increasing.
func Score(violations, warnings int) int {
	s := 100 - 10*violations - 2*warnings
	if s < 0 {
		return 0
	}
	return s
}

// Band maps a score to its policy band.
func Band(score int) string {
	switch {
	case score >= 90:
		return BandCompliant
	case score >= 70:
		return BandModerate
	default:
		return BandNonCompliant
	}
}
