package conflict

// QuorumResult reports whether enough eligible participants took part in a
// vote for its outcome to be valid.
type QuorumResult struct {
	Met               bool    `json:"met"`
	ParticipationRate float64 `json:"participation_rate"`
	Required          float64 `json:"required"`
	Actual            int     `json:"actual"`
	TotalEligible     int     `json:"total_eligible"`
	// RetryRecommended is set when the vote fell short: the decision must not
	// be accepted from a minority, the vote should be rerun instead.
	RetryRecommended bool `json:"retry_recommended"`
}

// CheckQuorum computes the participation rate of actual voters against the
// total eligible and compares it to the required fraction.
func CheckQuorum(actual, totalEligible int, required float64) QuorumResult {
	result := QuorumResult{Required: required, Actual: actual, TotalEligible: totalEligible}
	if totalEligible <= 0 {
		result.RetryRecommended = true
		return result
	}
	result.ParticipationRate = float64(actual) / float64(totalEligible)
	result.Met = result.ParticipationRate >= required
	result.RetryRecommended = !result.Met
	return result
}
