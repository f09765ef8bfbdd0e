package cli

import (
	"fmt"
	"sort"

	"github.com/strata-io/strata/internal/ir"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
)

func actionSymbol(c *ir.Change) (symbol, color string) {
	switch c.Action {
	case ir.ActionCreate:
		return "+", colorGreen
	case ir.ActionDestroy:
		return "-", colorRed
	case ir.ActionUpdate:
		return "~", colorYellow
	default:
		return " ", colorReset
	}
}

// renderPlan prints the change list and summary.
func renderPlan(plan *ir.Plan) {
	for _, c := range plan.Changes {
		if c.Action == ir.ActionNoOp {
			continue
		}
		symbol, color := actionSymbol(c)
		fmt.Printf("%s  %s %s (%s)%s\n", color, symbol, c.OpID(), c.Type, colorReset)
		if len(c.ChangedAttrs) > 0 {
			for _, attr := range c.ChangedAttrs {
				fmt.Printf("      ~ %s\n", attr)
			}
		}
	}

	fmt.Printf("\nPlan: %d to create, %d to update, %d to replace, %d to destroy, %d unchanged.\n",
		plan.Summary.Create, plan.Summary.Update, plan.Summary.Replace,
		plan.Summary.Destroy, plan.Summary.NoOp)
}

// renderReport prints per-instance outcomes and the final tally.
func renderReport(report *ir.Report) {
	for _, res := range report.Results {
		if res.Outcome == ir.OutcomeNoOp {
			continue
		}
		line := fmt.Sprintf("  %s: %s", res.OpID, res.Outcome)
		switch res.Outcome {
		case ir.OutcomeFailed:
			line = colorRed + line + colorReset
			if res.Err != nil {
				line += fmt.Sprintf("\n      %v", res.Err)
			}
		case ir.OutcomeSkipped, ir.OutcomePending:
			line = colorYellow + line + colorReset
		case ir.OutcomeApplied:
			line = colorGreen + line + colorReset
		}
		fmt.Println(line)
	}

	fmt.Printf("\nApply: %d applied, %d failed, %d skipped, %d not started.\n",
		report.Count(ir.OutcomeApplied), report.Count(ir.OutcomeFailed),
		report.Count(ir.OutcomeSkipped), report.Count(ir.OutcomePending))
}

func renderOutputs(outputs map[string]any) {
	if len(outputs) == 0 {
		return
	}
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("\nOutputs:")
	for _, name := range names {
		fmt.Printf("  %s = %v\n", name, outputs[name])
	}
}
