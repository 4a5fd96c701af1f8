package triage

// safeOutcome is the constant outcome of handle_safe.
func safeOutcome() *Outcome {
	return &Outcome{IsVulnerable: false, Vulnerability: nil, SuggestedFix: ""}
}

// buildFixOutcome maps a validated fix-stage result into the response shape.
func buildFixOutcome(fix *FixResult) *Outcome {
	out := &Outcome{IsVulnerable: *fix.IsVulnerable}
	if fix.Vulnerability != nil {
		v := *fix.Vulnerability
		out.Vulnerability = &v
	}
	if fix.SuggestedFix != nil {
		out.SuggestedFix = *fix.SuggestedFix
	}
	return out
}

// Verdict names the outcome shape for logs and metrics.
func (o *Outcome) Verdict() string {
	switch {
	case o == nil:
		return "none"
	case o.IsVulnerable:
		return "vulnerable"
	case o.SuggestedFix != "" || o.Vulnerability != nil:
		return "std_upgrade"
	default:
		return "safe"
	}
}
