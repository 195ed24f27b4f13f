package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/orchestra/internal/decompose"
	"github.com/ShayCichocki/orchestra/internal/orchestrator"
	"github.com/ShayCichocki/orchestra/internal/state"
	"github.com/ShayCichocki/orchestra/internal/tui"
	"github.com/ShayCichocki/orchestra/pkg/models"
)

var (
	planStrategy   string
	planFile       string
	planMetadata   map[string]string
	planTUI        bool
	planShowOutput bool
	planListLimit  int
	planListStatus []string
	planPurgeAge   time.Duration
	planStaleAfter time.Duration
	planClean      bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Create, execute and inspect plans",
}

var planCreateCmd = &cobra.Command{
	Use:   "create <query>",
	Short: "Decompose a query into a new plan",
	Long: `Decompose a query into subtasks and store the plan without running it.

Strategies: sequential (default), parallel, hierarchical.

With --file, the subtasks come from a YAML definition instead:

  query: Release the service
  subtasks:
    - name: Build
    - name: Test
      depends_on: [Build]
      skills: [go]

Examples:
  orchestra plan create "Fetch the data. Clean it. Publish a report"
  orchestra plan create --strategy parallel "Lint, test and build"
  orchestra plan create --file release.yaml`,
	RunE: runPlanCreate,
}

var planExecuteCmd = &cobra.Command{
	Use:   "execute <id>",
	Short: "Run a stored plan until no subtask is ready",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanExecute,
}

var planRunCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Create and execute a plan in one step",
	RunE:  runPlanRun,
}

var planStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show a plan and its results",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanStatus,
}

var planCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel an active plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanCancel,
}

var planListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored plans, newest first",
	Args:  cobra.NoArgs,
	RunE:  runPlanList,
}

var planPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete finished plans older than --older-than",
	Args:  cobra.NoArgs,
	RunE:  runPlanPurge,
}

var planRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "List plans left in progress by an interrupted run",
	Long: `List in-progress plans that have not been updated for --stale.

Resume one with 'orchestra plan execute <id>', or pass --clean to cancel
all of them.`,
	Args: cobra.NoArgs,
	RunE: runPlanRecover,
}

func init() {
	for _, c := range []*cobra.Command{planCreateCmd, planRunCmd} {
		c.Flags().StringVarP(&planStrategy, "strategy", "s", "", "Decomposition strategy (default: engine.default_strategy)")
		c.Flags().StringVarP(&planFile, "file", "f", "", "Load subtasks from a YAML plan definition")
		c.Flags().StringToStringVar(&planMetadata, "meta", nil, "Plan metadata as key=value pairs")
	}
	for _, c := range []*cobra.Command{planExecuteCmd, planRunCmd} {
		c.Flags().BoolVar(&planTUI, "tui", false, "Watch execution in a terminal UI")
	}
	for _, c := range []*cobra.Command{planExecuteCmd, planRunCmd, planStatusCmd} {
		c.Flags().BoolVarP(&planShowOutput, "output", "o", false, "Show subtask output")
	}
	planListCmd.Flags().IntVarP(&planListLimit, "limit", "n", 20, "Maximum plans to show (0 for all)")
	planListCmd.Flags().StringSliceVar(&planListStatus, "status", nil, "Only show plans with these statuses")
	planPurgeCmd.Flags().DurationVar(&planPurgeAge, "older-than", 30*24*time.Hour, "Age of finished plans to delete")
	planRecoverCmd.Flags().DurationVar(&planStaleAfter, "stale", 10*time.Minute, "Minimum time since the last update")
	planRecoverCmd.Flags().BoolVar(&planClean, "clean", false, "Cancel the interrupted plans")

	planCmd.AddCommand(planCreateCmd, planExecuteCmd, planRunCmd, planStatusCmd,
		planCancelCmd, planListCmd, planPurgeCmd, planRecoverCmd)
}

// withRuntime loads config, builds a runtime and runs fn with it.
func withRuntime(cmd *cobra.Command, ro runtimeOptions, fn func(ctx context.Context, rt *runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cfg, ro)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func runPlanCreate(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, runtimeOptions{}, func(ctx context.Context, rt *runtime) error {
		plan, err := createPlan(ctx, rt, args)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printStatus(out, "✓", fmt.Sprintf("Created plan %s (%d subtasks)", plan.ID, len(plan.Subtasks)), color.FgGreen)
		fmt.Fprintln(out)
		printPlan(out, plan, false)
		return nil
	})
}

// createPlan builds a plan from the query arguments or --file.
func createPlan(ctx context.Context, rt *runtime, args []string) (*models.ExecutionPlan, error) {
	query := strings.TrimSpace(strings.Join(args, " "))

	if planFile == "" {
		if query == "" {
			return nil, errors.New("a query or --file is required")
		}
		return rt.engine.CreatePlan(ctx, orchestrator.PlanRequest{
			Query:    query,
			Strategy: planStrategy,
			Metadata: planMetadata,
		})
	}

	data, err := os.ReadFile(planFile)
	if err != nil {
		return nil, fmt.Errorf("read plan definition: %w", err)
	}
	def, err := decompose.ParseDefinition(data)
	if err != nil {
		return nil, err
	}
	if query == "" {
		query = def.Query
	}
	if len(def.Subtasks) == 0 {
		strategy := planStrategy
		if strategy == "" {
			strategy = def.Strategy
		}
		return rt.engine.CreatePlan(ctx, orchestrator.PlanRequest{
			Query:    query,
			Strategy: strategy,
			Metadata: planMetadata,
		})
	}
	if len(planMetadata) > 0 {
		return nil, errors.New("--meta applies to decomposed queries, not to defined subtasks")
	}
	return rt.engine.CreatePlanFromDecomposition(ctx, query, def.Decomposition)
}

func runPlanExecute(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, runtimeOptions{quiet: planTUI}, func(ctx context.Context, rt *runtime) error {
		id, err := resolvePlanID(rt, args[0])
		if err != nil {
			return err
		}
		return executeAndReport(ctx, cmd, rt, id)
	})
}

func runPlanRun(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, runtimeOptions{quiet: planTUI}, func(ctx context.Context, rt *runtime) error {
		plan, err := createPlan(ctx, rt, args)
		if err != nil {
			return err
		}
		if plan.Status.Terminal() {
			printPlan(cmd.OutOrStdout(), plan, planShowOutput)
			return nil
		}
		return executeAndReport(ctx, cmd, rt, plan.ID)
	})
}

func executeAndReport(ctx context.Context, cmd *cobra.Command, rt *runtime, id string) error {
	out := cmd.OutOrStdout()
	if len(rt.engine.Agents()) == 0 {
		printStatus(out, "⚠", "No agents registered; every subtask will fail. Add one with 'orchestra agent add'.", color.FgYellow)
	}

	var (
		plan *models.ExecutionPlan
		err  error
	)
	if planTUI {
		plan, err = executeWithTUI(ctx, rt, id)
	} else {
		plan, err = rt.engine.ExecutePlan(ctx, id)
	}
	if errors.Is(err, context.Canceled) {
		printStatus(out, "⏸", fmt.Sprintf("Execution interrupted; resume with 'orchestra plan execute %s'", shortID(id)), color.FgYellow)
		return nil
	}
	if err != nil {
		return err
	}
	printPlan(out, plan, planShowOutput)
	return nil
}

type executeResult struct {
	plan *models.ExecutionPlan
	err  error
}

// executeWithTUI runs the plan while a bubbletea program renders its events.
// Quitting the view early stops execution at the next pass boundary.
func executeWithTUI(ctx context.Context, rt *runtime, id string) (*models.ExecutionPlan, error) {
	snapshot, err := rt.engine.GetStatus(ctx, id)
	if err != nil {
		return nil, err
	}

	program, _ := tui.NewExecuteProgram(snapshot)
	events, unsubscribe := rt.engine.Events().Subscribe()
	defer unsubscribe()

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go tui.Forward(execCtx, program, events)

	done := make(chan executeResult, 1)
	go func() {
		plan, err := rt.engine.ExecutePlan(execCtx, id)
		program.Send(tui.PlanDoneMsg{Plan: plan, Err: err})
		done <- executeResult{plan: plan, err: err}
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("run tui: %w", err)
	}

	select {
	case r := <-done:
		return r.plan, r.err
	default:
	}
	cancel()
	r := <-done
	return r.plan, r.err
}

func runPlanStatus(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, runtimeOptions{}, func(ctx context.Context, rt *runtime) error {
		id, err := resolvePlanID(rt, args[0])
		if err != nil {
			return err
		}
		plan, err := rt.engine.GetStatus(ctx, id)
		if err != nil {
			return err
		}
		printPlan(cmd.OutOrStdout(), plan, planShowOutput)
		return nil
	})
}

func runPlanCancel(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, runtimeOptions{}, func(ctx context.Context, rt *runtime) error {
		id, err := resolvePlanID(rt, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !rt.engine.Cancel(ctx, id) {
			plan, err := rt.engine.GetStatus(ctx, id)
			if err != nil {
				return err
			}
			printStatus(out, "-", fmt.Sprintf("Plan %s is already %s", shortID(id), plan.Status), color.FgHiBlack)
			return nil
		}
		printStatus(out, "✓", fmt.Sprintf("Cancelled plan %s", id), color.FgGreen)
		return nil
	})
}

func runPlanList(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, runtimeOptions{}, func(ctx context.Context, rt *runtime) error {
		store, err := rt.requireStore()
		if err != nil {
			return err
		}
		filter := orchestrator.PlanFilter{Limit: planListLimit}
		for _, s := range planListStatus {
			status := models.PlanStatus(strings.TrimSpace(s))
			if !status.Valid() {
				return fmt.Errorf("unknown plan status %q", s)
			}
			filter.Statuses = append(filter.Statuses, status)
		}

		plans, err := store.ListPlans(ctx, filter)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(plans) == 0 {
			fmt.Fprintln(out, "No plans. Create one with 'orchestra plan create <query>'.")
			return nil
		}
		for _, p := range plans {
			printPlanSummary(out, p)
		}
		return nil
	})
}

func runPlanPurge(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, runtimeOptions{}, func(ctx context.Context, rt *runtime) error {
		store, err := rt.requireStore()
		if err != nil {
			return err
		}
		n, err := store.PurgeOldPlans(ctx, planPurgeAge)
		if err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), "✓", fmt.Sprintf("Deleted %d plans finished more than %s ago", n, planPurgeAge), color.FgGreen)
		return nil
	})
}

func runPlanRecover(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, runtimeOptions{}, func(ctx context.Context, rt *runtime) error {
		store, err := rt.requireStore()
		if err != nil {
			return err
		}
		rm := state.NewRecoveryManager(store)
		interrupted, err := rm.CheckForInterrupted(ctx, planStaleAfter)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(interrupted) == 0 {
			fmt.Fprintln(out, "No interrupted plans.")
			return nil
		}
		for _, ip := range interrupted {
			if planClean {
				if err := rm.Clean(ctx, ip.PlanID); err != nil {
					return err
				}
				printStatus(out, "✓", fmt.Sprintf("Cancelled %s", ip.PlanID), color.FgGreen)
				continue
			}
			printStatus(out, "⏸", fmt.Sprintf("%s  %d done, %d pending after %d passes, last active %s ago  %s",
				shortID(ip.PlanID), ip.Completed, ip.Pending, ip.Passes,
				formatDuration(time.Since(ip.LastActivity)), truncate(ip.Query, 40)), color.FgYellow)
		}
		return nil
	})
}

// resolvePlanID accepts a full plan ID or a unique prefix of one.
func resolvePlanID(rt *runtime, ref string) (string, error) {
	var matches []string
	candidates := append(rt.engine.ActivePlans(), rt.engine.History(0)...)
	for _, p := range candidates {
		if p.ID == ref {
			return ref, nil
		}
		if strings.HasPrefix(p.ID, ref) {
			matches = append(matches, p.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", &orchestrator.PlanNotFoundError{ID: ref}
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("plan id %q is ambiguous (%d matches)", ref, len(matches))
	}
}
