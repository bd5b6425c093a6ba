// Package executor runs a compiled rule sequence.
//
// Execution is strictly sequential: one rule finishes before the next
// starts. The package managers the rules drive serialize on shared install
// trees, so there is nothing to gain and plenty to race on by running
// rules concurrently.
package executor

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sciencebuild/buildrules/pkg/logging"
	"github.com/sciencebuild/buildrules/pkg/types"
)

// Mode selects between printing the plan and running it.
type Mode string

const (
	// ModeDescribe renders every rule without calling its action.
	ModeDescribe Mode = "describe"
	// ModeBuild runs every rule's action in sequence.
	ModeBuild Mode = "build"
)

// ParseMode converts a CLI argument into a Mode.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeDescribe, ModeBuild:
		return Mode(s), true
	}
	return "", false
}

// Options configures an Executor.
type Options struct {
	// Timeout is the per-rule wall-clock limit. Zero means no limit.
	Timeout time.Duration

	Logger zerolog.Logger
}

// Executor runs rule sequences and produces build reports.
type Executor struct {
	timeout time.Duration
	logger  zerolog.Logger
}

// New creates an executor.
func New(opts Options) *Executor {
	logger := opts.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = logging.GetLogger("executor")
	}
	return &Executor{
		timeout: opts.Timeout,
		logger:  logger,
	}
}

// Run executes or describes the rule sequence and returns a report
// covering every rule in sequence order. After a halting rule fails, the
// remaining rules are recorded as not-run.
func (e *Executor) Run(ctx context.Context, tool types.ToolKind, rules []types.Rule, mode Mode) types.BuildReport {
	report := types.BuildReport{
		Tool:    tool,
		Results: make([]types.RuleResult, 0, len(rules)),
	}

	for _, rule := range rules {
		if report.Halted {
			report.Results = append(report.Results, types.RuleResult{
				Label:   rule.Label,
				Halting: rule.Halting,
				Outcome: types.OutcomeNotRun,
			})
			continue
		}

		switch mode {
		case ModeDescribe:
			report.Results = append(report.Results, e.describeRule(rule))
		default:
			result := e.runRule(ctx, rule)
			report.Results = append(report.Results, result)
			if result.Outcome == types.OutcomeFailed && rule.Halting {
				e.logger.Error().
					Str("rule", rule.Label).
					Msg("Halting rule failed, stopping execution")
				report.Halted = true
			}
		}
	}

	return report
}

// describeRule renders a rule's label, equivalent command and halting
// policy without side effects.
func (e *Executor) describeRule(rule types.Rule) types.RuleResult {
	event := e.logger.Info().
		Str("rule", rule.Label).
		Bool("halting", rule.Halting)
	if len(rule.Argv) > 0 {
		event = event.Str("command", strings.Join(rule.Argv, " "))
	}
	if rule.Detail != "" {
		event = event.Str("detail", rule.Detail)
	}
	event.Msg("Would run")

	return types.RuleResult{
		Label:   rule.Label,
		Halting: rule.Halting,
		Outcome: types.OutcomeSkipped,
	}
}

func (e *Executor) runRule(ctx context.Context, rule types.Rule) types.RuleResult {
	start := time.Now()

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	e.logger.Info().
		Str("rule", rule.Label).
		Bool("halting", rule.Halting).
		Msg("Running rule")

	outcome, err := rule.Run(runCtx)
	if err != nil {
		outcome = types.OutcomeFailed
		if rule.Halting {
			e.logger.Error().Err(err).Str("rule", rule.Label).Msg("Rule failed")
		} else {
			e.logger.Warn().Err(err).Str("rule", rule.Label).Msg("Rule failed, continuing")
		}
	} else {
		e.logger.Info().
			Str("rule", rule.Label).
			Str("outcome", string(outcome)).
			Dur("duration", time.Since(start)).
			Msg("Rule finished")
	}

	return types.RuleResult{
		Label:    rule.Label,
		Halting:  rule.Halting,
		Outcome:  outcome,
		Err:      err,
		Duration: time.Since(start),
	}
}
