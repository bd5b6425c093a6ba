// Package display renders describe plans and build reports for the
// terminal.
package display

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/sciencebuild/buildrules/pkg/shell"
	"github.com/sciencebuild/buildrules/pkg/types"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	haltingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	commandStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	mutedStyle   = lipgloss.NewStyle().Faint(true)

	outcomeStyles = map[types.Outcome]lipgloss.Style{
		types.OutcomeApplied: lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		types.OutcomeSkipped: mutedStyle,
		types.OutcomeFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		types.OutcomeNotRun:  lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	}
)

// RenderPlan renders the describe-mode view of a rule sequence: label,
// equivalent command and halting policy for every rule.
func RenderPlan(tool types.ToolKind, rules []types.Rule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", titleStyle.Render(fmt.Sprintf("Build plan for %s (%d rules)", tool, len(rules))))

	for i, rule := range rules {
		marker := "  "
		if rule.Halting {
			marker = haltingStyle.Render("! ")
		}
		fmt.Fprintf(&b, "%s%2d. %s\n", marker, i+1, rule.Label)
		if len(rule.Argv) > 0 {
			fmt.Fprintf(&b, "      %s\n", commandStyle.Render(strings.Join(rule.Argv, " ")))
		}
		if rule.Detail != "" {
			fmt.Fprintf(&b, "      %s\n", mutedStyle.Render(rule.Detail))
		}
	}

	fmt.Fprintf(&b, "%s\n", mutedStyle.Render("rules marked ! halt the build on failure"))
	return b.String()
}

// RenderDeployPlan appends the deployment commands to a describe view.
func RenderDeployPlan(cmds []shell.Command) string {
	if len(cmds) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", titleStyle.Render("Deployment"))
	for _, cmd := range cmds {
		fmt.Fprintf(&b, "      %s\n", commandStyle.Render(cmd.String()))
	}
	return b.String()
}

// RenderReport renders the outcome of a build pass.
func RenderReport(report types.BuildReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", titleStyle.Render(fmt.Sprintf("Build report for %s", report.Tool)))

	for _, res := range report.Results {
		style, ok := outcomeStyles[res.Outcome]
		if !ok {
			style = mutedStyle
		}
		fmt.Fprintf(&b, "  %-8s %s\n", style.Render(string(res.Outcome)), res.Label)
		if res.Err != nil {
			fmt.Fprintf(&b, "           %s\n", mutedStyle.Render(res.Err.Error()))
		}
	}

	summary := fmt.Sprintf("%d applied, %d failed, %d total", report.Applied(), report.Failed(), len(report.Results))
	if report.Halted {
		summary += " (halted)"
	}
	fmt.Fprintf(&b, "%s\n", mutedStyle.Render(summary))
	return b.String()
}
