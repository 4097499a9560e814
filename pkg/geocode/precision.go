package geocode

// precisionRank orders precision tags: ROOFTOP > RANGE_INTERPOLATED >
// GEOMETRIC_CENTER > APPROXIMATE > UNKNOWN > absent.
func precisionRank(p Precision) int {
	switch p {
	case PrecisionRooftop:
		return 5
	case PrecisionRange:
		return 4
	case PrecisionCenter:
		return 3
	case PrecisionApproximate:
		return 2
	case PrecisionUnknown:
		return 1
	default:
		return 0
	}
}

// Better reports whether candidate should replace best. A candidate wins only
// when it is OK and either best is not OK or the candidate's precision ranks
// strictly higher. Equal precision keeps the incumbent, so provider
// preference order decides ties.
func Better(candidate, best Result) bool {
	if candidate.Status != StatusOK {
		return false
	}
	if best.Status != StatusOK {
		return true
	}
	return precisionRank(candidate.Precision) > precisionRank(best.Precision)
}
