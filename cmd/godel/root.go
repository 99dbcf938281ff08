package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aristath/godel/internal/config"
)

// app is the state shared by all subcommands once the root has loaded the
// configuration.
type app struct {
	v           *viper.Viper
	cfg         *config.Config
	logger      *slog.Logger
	globalPath  string
	projectPath string
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	a.v.SetEnvPrefix("GODEL")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "godel",
		Short: "Multi-agent task orchestration",
		Long: `godel decomposes a task into subtasks, orders them into dependency
levels and runs every level concurrently on a fleet of agents.

Configuration is layered: built-in defaults, then ~/.godel/config.json,
then .godel/config.json. Flags and GODEL_* environment variables override
both files (GODEL_MAX_CONCURRENCY=8 is the same as --max-concurrency 8).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	root.PersistentFlags().BoolP("verbose", "v", false, "Log debug output to stderr")
	root.PersistentFlags().String("config", config.ProjectPath(), "Project configuration file")
	root.PersistentFlags().String("db", "", "SQLite database path (overrides storage.path)")

	root.AddCommand(
		newDecomposeCmd(a),
		newPlanCmd(a),
		newRunCmd(a),
		newAgentsCmd(a),
		newRunsCmd(a),
	)
	return root
}

// load binds the executing command's flags, sets up logging and reads the
// layered configuration with flag and environment overrides applied.
func (a *app) load(cmd *cobra.Command) error {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	level := slog.LevelInfo
	if a.v.GetBool("verbose") {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)

	globalPath, err := config.GlobalPath()
	if err != nil {
		return err
	}
	a.globalPath = globalPath
	a.projectPath = a.v.GetString("config")

	cfg, err := config.Load(a.globalPath, a.projectPath)
	if err != nil {
		return err
	}
	a.applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg
	a.logger.Debug("configuration loaded", "global", a.globalPath, "project", a.projectPath, "agents", len(cfg.Agents))
	return nil
}

// applyOverrides copies explicitly set flags and GODEL_* variables onto cfg.
func (a *app) applyOverrides(cfg *config.Config) {
	v := a.v
	if v.IsSet("db") {
		cfg.Storage.Path = v.GetString("db")
	}

	// Engine
	if v.IsSet("max-concurrency") {
		cfg.Engine.MaxConcurrency = v.GetInt("max-concurrency")
	}
	if v.IsSet("continue-on-failure") {
		cfg.Engine.ContinueOnFailure = v.GetBool("continue-on-failure")
	}
	if v.IsSet("retry-attempts") {
		cfg.Engine.RetryAttempts = v.GetInt("retry-attempts")
	}
	if v.IsSet("retry-delay") {
		cfg.Engine.RetryDelayMS = v.GetDuration("retry-delay").Milliseconds()
	}
	if v.IsSet("level-timeout") {
		cfg.Engine.LevelTimeoutMS = v.GetDuration("level-timeout").Milliseconds()
	}
	if v.IsSet("total-timeout") {
		cfg.Engine.TotalTimeoutMS = v.GetDuration("total-timeout").Milliseconds()
	}
	if v.IsSet("breaker-threshold") {
		cfg.Engine.BreakerThreshold = v.GetInt("breaker-threshold")
	}

	// Decomposition
	if v.IsSet("strategy") {
		cfg.Decompose.Strategy = v.GetString("strategy")
	}
	if v.IsSet("max-parallelism") {
		cfg.Decompose.MaxParallelism = v.GetInt("max-parallelism")
	}
	if v.IsSet("min-subtask-size") {
		cfg.Decompose.MinSubtaskSize = v.GetInt("min-subtask-size")
	}
	if v.IsSet("use-llm") {
		cfg.Decompose.UseLLM = v.GetBool("use-llm")
	}
}

// workDir is the directory agents run in.
func workDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
