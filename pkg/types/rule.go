package types

import "context"

// Outcome is the final state of one rule after an executor pass.
type Outcome string

const (
	// OutcomePending means the rule has not been looked at yet.
	OutcomePending Outcome = "pending"
	// OutcomeSkipped means the rule was a no-op: either describe mode, or
	// the closure found the target state already satisfied.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeApplied means the rule ran its action and changed state.
	OutcomeApplied Outcome = "applied"
	// OutcomeFailed means the rule ran and reported an error.
	OutcomeFailed Outcome = "failed"
	// OutcomeNotRun means a preceding halting rule failed before this rule
	// had a chance to run. Distinct from skipped.
	OutcomeNotRun Outcome = "not-run"
)

// RuleFunc is the side-effecting action of a rule. Implementations must be
// idempotent: when the target state already holds they return
// OutcomeSkipped without acting.
type RuleFunc func(ctx context.Context) (Outcome, error)

// Rule is one atomic, named build or deploy step. A Rule is stateless once
// constructed; the compiler closes its Run func over everything it needs.
type Rule struct {
	// Label is the human-readable name shown in describe output and reports.
	Label string

	// Halting marks a rule whose failure stops the rest of the sequence.
	Halting bool

	// Argv is the equivalent external command, used by describe mode.
	// Empty for pure-Go rules; Detail then carries the description.
	Argv []string

	// Detail describes pure-Go rules in describe output.
	Detail string

	// Run performs the action. Never called in describe mode.
	Run RuleFunc
}
