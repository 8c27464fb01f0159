package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/taskflow/internal/agent"
	"github.com/aristath/taskflow/internal/config"
)

// app holds state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.TaskflowConfig
	logger *slog.Logger
	procs  *agent.ProcessManager
}

func newApp() *app {
	return &app{procs: agent.NewProcessManager()}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "taskflow",
		Short: "Run task workflows with evaluation and correction",
		Long: `taskflow executes workflows of dependent tasks. Each task is handed to
the agent configured for its role, the result is evaluated, and rejected
results are retried with the evaluator's feedback.

Configuration is read from ~/.taskflow/config.json and .taskflow/config.json.
Workflows come from built-in templates, .taskflow/templates or a YAML file.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (replaces the default lookup)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(runCmd(a))
	rootCmd.AddCommand(validateCmd(a))
	rootCmd.AddCommand(templatesCmd(a))
	rootCmd.AddCommand(historyCmd(a))
	rootCmd.AddCommand(configCmd(a))

	return rootCmd
}

// setup loads the configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

func (a *app) loadConfig() (*config.TaskflowConfig, error) {
	if a.configPath == "" {
		return config.LoadDefault()
	}
	if _, err := os.Stat(a.configPath); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	return config.Load("", a.configPath)
}
