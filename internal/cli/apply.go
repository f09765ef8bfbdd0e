package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/strata-io/strata/internal/engine"
	"github.com/strata-io/strata/internal/ir"
)

const applyDurationUnit = 10 * time.Millisecond

var (
	applyParallelism int
	applyAutoApprove bool
	applyTargets     []string
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create, update, and destroy resources to match the configuration",
	RunE:  runApply,
}

func init() {
	applyCmd.Flags().IntVar(&applyParallelism, "parallelism", engine.DefaultParallelism, "Maximum concurrent operations")
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip the confirmation prompt")
	applyCmd.Flags().StringArrayVar(&applyTargets, "target", nil,
		"Limit the run to a resource and its dependencies (repeatable)")

	destroyCmd.Flags().IntVar(&applyParallelism, "parallelism", engine.DefaultParallelism, "Maximum concurrent operations")
	destroyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip the confirmation prompt")
	destroyCmd.Flags().StringArrayVar(&applyTargets, "target", nil,
		"Limit the run to a resource and its dependencies (repeatable)")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.close()

	planner := &engine.Planner{Registry: ws.registry, Store: ws.store, Targets: applyTargets}
	plan, err := planner.Plan(ctx, ws.cfg)
	if err != nil {
		return err
	}
	return applyPlan(cmd, ws, plan)
}

// applyPlan renders the plan, confirms, executes, and reports. Shared
// by apply and destroy.
func applyPlan(cmd *cobra.Command, ws *workspace, plan *ir.Plan) error {
	if plan.Empty() {
		fmt.Println("No changes. Infrastructure matches the configuration.")
		return nil
	}
	renderPlan(plan)

	if !applyAutoApprove {
		if !confirm("\nDo you want to perform these actions?") {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}
	fmt.Println()

	applier := &engine.Applier{
		Registry:    ws.registry,
		Store:       ws.store,
		Parallelism: applyParallelism,
		Callback: func(ev engine.ApplyEvent) {
			switch ev.Status {
			case "started":
				fmt.Printf("  %s: %s...\n", ev.OpID, ev.Action)
			case "applied":
				fmt.Printf("  %s: %s complete (%s)\n", ev.OpID, ev.Action, ev.Duration.Round(applyDurationUnit))
			}
		},
	}

	report, applyErr := applier.Apply(cmd.Context(), plan)
	fmt.Println()
	renderReport(report)

	if applyErr != nil {
		return applyErr
	}
	if err := saveOutputs(ws.stateDir, report.Outputs); err != nil {
		return fmt.Errorf("save outputs: %w", err)
	}
	renderOutputs(report.Outputs)
	return nil
}
