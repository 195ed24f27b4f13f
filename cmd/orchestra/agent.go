package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/orchestra/internal/agentfile"
	"github.com/ShayCichocki/orchestra/internal/orchestrator"
	"github.com/ShayCichocki/orchestra/internal/state"
	"github.com/ShayCichocki/orchestra/pkg/models"
)

var (
	agentName   string
	agentSkills []string
	agentStatus string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage the agent pool",
	Long: `Manage the agents plans are assigned to.

Agents added here are stored in the database. Agents listed in the file
named by agents.file are loaded as well and take precedence on ID clashes.`,
}

var agentAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Add or update an agent",
	Long: `Add or update an agent.

Status is one of offline, available or busy (aliases: active, idle, assigned).

Examples:
  orchestra agent add w1 --name "Worker 1" --skills go,sql
  orchestra agent add w2 --status offline`,
	Args: cobra.ExactArgs(1),
	RunE: runAgentAdd,
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents in selection order",
	Args:  cobra.NoArgs,
	RunE:  runAgentList,
}

var agentRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a stored agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentRemove,
}

func init() {
	agentAddCmd.Flags().StringVar(&agentName, "name", "", "Display name")
	agentAddCmd.Flags().StringSliceVar(&agentSkills, "skills", nil, "Comma-separated skills")
	agentAddCmd.Flags().StringVar(&agentStatus, "status", "available", "Agent status")

	agentCmd.AddCommand(agentAddCmd, agentListCmd, agentRemoveCmd)
}

func runAgentAdd(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, runtimeOptions{}, func(ctx context.Context, rt *runtime) error {
		store, err := rt.requireStore()
		if err != nil {
			return err
		}
		status, err := models.ParseAgentStatus(agentStatus)
		if err != nil {
			return fmt.Errorf("%w: %v", orchestrator.ErrInvalidAgent, err)
		}
		a := models.Agent{ID: args[0], Name: agentName, Status: status, Skills: agentSkills}
		if err := a.Validate(); err != nil {
			return fmt.Errorf("%w: %v", orchestrator.ErrInvalidAgent, err)
		}

		_, getErr := store.Get(ctx, a.ID)
		if err := store.SaveAgent(ctx, a); err != nil {
			return err
		}
		verb := "Updated"
		if getErr != nil {
			verb = "Added"
		}
		printStatus(cmd.OutOrStdout(), "✓", fmt.Sprintf("%s agent %s (%s)", verb, a.ID, a.Status), color.FgGreen)
		return nil
	})
}

func runAgentList(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, runtimeOptions{}, func(ctx context.Context, rt *runtime) error {
		fromFile := make(map[string]bool)
		if rt.cfg.Agents.File != "" {
			agents, err := agentfile.Load(rt.cfg.Agents.File)
			if err != nil {
				rt.log.WithError(err).Warn("read agent file")
			}
			for _, a := range agents {
				fromFile[a.ID] = true
			}
		}

		out := cmd.OutOrStdout()
		agents := rt.engine.Agents()
		if len(agents) == 0 {
			fmt.Fprintln(out, "No agents. Add one with 'orchestra agent add <id>'.")
			return nil
		}
		for _, a := range agents {
			source := ""
			if fromFile[a.ID] {
				source = "file"
			}
			printAgent(out, a, source)
		}
		return nil
	})
}

func runAgentRemove(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, runtimeOptions{}, func(ctx context.Context, rt *runtime) error {
		store, err := rt.requireStore()
		if err != nil {
			return err
		}
		removed, err := store.DeleteAgent(ctx, args[0])
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%w: %s", state.ErrAgentNotFound, args[0])
		}
		printStatus(cmd.OutOrStdout(), "✓", "Removed agent "+args[0], color.FgGreen)
		return nil
	})
}
