package cli

import (
	"github.com/spf13/cobra"

	"github.com/strata-io/strata/internal/engine"
)

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Destroy every resource tracked in state",
	Long: `Plans the removal of everything in state, in reverse dependency
order, and applies it after confirmation.`,
	RunE: runDestroy,
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.close()

	planner := &engine.Planner{Registry: ws.registry, Store: ws.store, Targets: applyTargets}
	plan, err := planner.PlanDestroy(ctx, ws.cfg)
	if err != nil {
		return err
	}
	return applyPlan(cmd, ws, plan)
}
