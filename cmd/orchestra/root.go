package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/orchestra/internal/config"
	"github.com/ShayCichocki/orchestra/internal/decompose"
	"github.com/ShayCichocki/orchestra/internal/orchestrator"
	"github.com/ShayCichocki/orchestra/internal/state"
)

var (
	configPath string
	logLevel   string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "orchestra",
	Short: "Task and agent orchestration engine",
	Long: `Orchestra decomposes a query into subtasks with a dependency graph,
assigns ready subtasks to available agents and tracks each plan until it
completes, partially completes or fails.

Plans and agents are stored in a local sqlite database so separate
invocations share state. 'orchestra serve' exposes the same engine over HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user config + .orchestra.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads and validates configuration, honoring --config and --log-level.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Exit codes.
const (
	exitFailure  = 1
	exitUsage    = 2
	exitNotFound = 3
)

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrPlanNotFound), errors.Is(err, state.ErrAgentNotFound):
		return exitNotFound
	case errors.Is(err, orchestrator.ErrInvalidPlan),
		errors.Is(err, orchestrator.ErrInvalidAgent),
		errors.Is(err, decompose.ErrUnknownStrategy),
		errors.Is(err, decompose.ErrInvalidDefinition),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, config.ErrUnknownKey),
		errors.Is(err, errStorageDisabled),
		errors.Is(err, errEventsDisabled):
		return exitUsage
	default:
		return exitFailure
	}
}
