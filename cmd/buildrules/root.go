package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sciencebuild/buildrules/pkg/config"
	"github.com/sciencebuild/buildrules/pkg/deploy"
	"github.com/sciencebuild/buildrules/pkg/display"
	"github.com/sciencebuild/buildrules/pkg/errors"
	"github.com/sciencebuild/buildrules/pkg/executor"
	"github.com/sciencebuild/buildrules/pkg/logging"
	"github.com/sciencebuild/buildrules/pkg/rules"
	"github.com/sciencebuild/buildrules/pkg/shell"
	"github.com/sciencebuild/buildrules/pkg/types"
)

// Set via ldflags at release time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var verbosity int

// NewRootCmd builds the CLI: buildrules <tool> <command> <config_dir>.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "buildrules",
		Short: "Configuration-driven build and deploy orchestrator",
		Long: `buildrules compiles YAML build configurations into ordered, idempotent
rule sequences, executes or describes them, and deploys the resulting
artifact trees to remote hosts.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetupLogger(verbosity)
			log.Debug().Str("command", cmd.Name()).Msg("Command started")
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v DEBUG, -vv TRACE)")

	for _, tool := range types.ToolKinds() {
		rootCmd.AddCommand(newToolCmd(tool))
	}
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "buildrules version %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func newToolCmd(tool types.ToolKind) *cobra.Command {
	toolCmd := &cobra.Command{
		Use:   tool.String(),
		Short: fmt.Sprintf("Build targets driven by %s", tool),
	}
	toolCmd.AddCommand(
		newModeCmd(tool, executor.ModeDescribe,
			"Print the compiled rule sequence without executing anything"),
		newModeCmd(tool, executor.ModeBuild,
			"Execute the compiled rule sequence and deploy on success"),
	)
	return toolCmd
}

func newModeCmd(tool types.ToolKind, mode executor.Mode, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(mode) + " <config_dir>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, tool, mode, args[0])
		},
	}
}

func run(cmd *cobra.Command, tool types.ToolKind, mode executor.Mode, configDir string) error {
	logger := logging.GetLogger("cmd")

	info, err := os.Stat(configDir)
	if err != nil || !info.IsDir() {
		return errors.Newf(errors.ErrInvalidInput, "invalid configuration folder: %s", configDir)
	}

	cfg, err := config.LoadTargetConfig(configDir, tool)
	if err != nil {
		return err
	}
	settings, err := config.LoadSettings(configDir, tool)
	if err != nil {
		return err
	}
	deployTargets, err := config.LoadDeployTargets(configDir, tool)
	if err != nil {
		return err
	}

	runner := shell.NewRunner()
	compiler, err := rules.New(tool, configDir, settings, runner)
	if err != nil {
		return err
	}
	ruleSeq, err := compiler.Compile(cfg)
	if err != nil {
		return err
	}

	logger.Info().
		Str("tool", tool.String()).
		Str("target", cfg.Target).
		Str("mode", string(mode)).
		Int("rules", len(ruleSeq)).
		Msg("Compiled rule sequence")

	exec := executor.New(executor.Options{Timeout: settings.Timeout()})
	deployer := deploy.New(runner)

	if mode == executor.ModeDescribe {
		exec.Run(cmd.Context(), tool, ruleSeq, executor.ModeDescribe)
		fmt.Fprint(cmd.OutOrStdout(), display.RenderPlan(tool, ruleSeq))
		deployCmds, err := deployer.Commands(deployTargets)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), display.RenderDeployPlan(deployCmds))
		return nil
	}

	report := exec.Run(cmd.Context(), tool, ruleSeq, executor.ModeBuild)
	fmt.Fprint(cmd.OutOrStdout(), display.RenderReport(report))

	if report.Fatal() {
		return errors.Newf(errors.ErrRuleCommandFailed, "build halted: %d rule(s) failed", report.Failed())
	}

	if len(deployTargets) > 0 {
		if err := deployer.Deploy(cmd.Context(), deployTargets, report); err != nil {
			return err
		}
		logger.Info().Int("targets", len(deployTargets)).Msg("Deployment finished")
	}

	return nil
}
