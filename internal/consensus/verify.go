package consensus

// Verdict is the judgement on a change proposal.
type Verdict string

const (
	// VerdictApprove clears the change for application.
	VerdictApprove Verdict = "approve"
	// VerdictReview sends the change to a human.
	VerdictReview Verdict = "review"
	// VerdictHold parks the change pending more evidence.
	VerdictHold Verdict = "hold"
	// VerdictReject discards the change.
	VerdictReject Verdict = "reject"
)

// ChangeProposal describes a code change up for verification.
type ChangeProposal struct {
	Path       string  `json:"path"`
	Diff       string  `json:"diff"`
	Rationale  string  `json:"rationale"`
	Confidence float64 `json:"confidence"`
}

// VerifyChange maps the proposal's confidence onto a verdict. The
// thresholds are 0.9 approve, 0.7 review, 0.5 hold; anything lower is
// rejected, as is a proposal without a path or diff.
func VerifyChange(p ChangeProposal) Verdict {
	if p.Path == "" || p.Diff == "" {
		return VerdictReject
	}
	switch {
	case p.Confidence >= 0.9:
		return VerdictApprove
	case p.Confidence >= 0.7:
		return VerdictReview
	case p.Confidence >= 0.5:
		return VerdictHold
	default:
		return VerdictReject
	}
}
