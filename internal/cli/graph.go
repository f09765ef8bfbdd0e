package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strata-io/strata/internal/config"
	"github.com/strata-io/strata/internal/engine"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the dependency graph in DOT format",
	RunE:  runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadDir(flagConfigDir)
	if err != nil {
		return err
	}

	instances, err := engine.Expand(cfg.Declarations)
	if err != nil {
		return err
	}
	deps, err := engine.Resolve(instances, cfg.Declarations)
	if err != nil {
		return err
	}
	graph, err := engine.BuildGraph(instances, deps)
	if err != nil {
		return err
	}

	fmt.Print(graph.DOT())
	return nil
}
