package types

import "time"

// RuleResult records the final outcome of one rule in an executor pass.
type RuleResult struct {
	Label    string
	Halting  bool
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// BuildReport is the ordered record of one executor pass. It always covers
// every compiled rule, even when the pass halted early.
type BuildReport struct {
	Tool    ToolKind
	Results []RuleResult
	Halted  bool
}

// Fatal reports whether any halting rule failed. Deployment is refused
// while this holds.
func (r BuildReport) Fatal() bool {
	for _, res := range r.Results {
		if res.Halting && res.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}

// Applied counts rules that actually changed state this pass.
func (r BuildReport) Applied() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == OutcomeApplied {
			n++
		}
	}
	return n
}

// Failed counts rules that reported an error, halting or not.
func (r BuildReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			n++
		}
	}
	return n
}
