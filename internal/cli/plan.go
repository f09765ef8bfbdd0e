package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strata-io/strata/internal/engine"
)

var planTargets []string

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what an apply would change",
	Long: `Diffs the declared resources against last-applied state and prints
the create, update, replace, and destroy operations an apply would run,
without touching any provider.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringArrayVar(&planTargets, "target", nil,
		"Limit planning to a resource and its dependencies (repeatable)")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.close()

	planner := &engine.Planner{Registry: ws.registry, Store: ws.store, Targets: planTargets}
	plan, err := planner.Plan(ctx, ws.cfg)
	if err != nil {
		return err
	}

	if plan.Empty() {
		fmt.Println("No changes. Infrastructure matches the configuration.")
		return nil
	}
	renderPlan(plan)
	return nil
}
