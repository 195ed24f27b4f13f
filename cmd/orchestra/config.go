package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/orchestra/internal/config"
)

var configProject bool

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify orchestra configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/orchestra/config.yaml
Project-specific overrides can be placed in .orchestra.yaml (--project).
Every key can be overridden with an ORCHESTRA_* environment variable,
e.g. server.addr -> ORCHESTRA_SERVER_ADDR.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configProject, "project", false, "Write to the project config instead of the user config")
}

func runConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if len(args) == 2 {
		path := config.GetUserConfigPath()
		if configProject {
			path = config.GetProjectConfigPath()
			if path == "" {
				path = config.ProjectConfigName
			}
		}
		if configPath != "" {
			path = configPath
		}
		if err := config.SetInFile(path, args[0], args[1]); err != nil {
			return err
		}
		printStatus(out, "✓", fmt.Sprintf("Set %s = %s in %s", args[0], args[1], path), color.FgGreen)
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if len(args) == 1 {
		value, err := config.Get(cfg, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, value)
		return nil
	}

	for _, key := range config.Keys() {
		value, _ := config.Get(cfg, key)
		line := fmt.Sprintf("%s: %s", key, value)
		switch config.SourceOf(cfg, key) {
		case config.SourceEnv:
			line += color.CyanString("  (%s)", config.EnvName(key))
		case config.SourceConfig:
			line += color.HiBlackString("  (config)")
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
