package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strata-io/strata/internal/config"
	"github.com/strata-io/strata/internal/engine"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	Long: `Parses the configuration and verifies that every reference resolves,
indices are in range, and the dependency graph is acyclic. No provider
or state is consulted.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
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
	if _, err := engine.BuildGraph(instances, deps); err != nil {
		return err
	}

	fmt.Printf("Configuration valid: %d resources, %d instances.\n",
		len(cfg.Declarations), len(instances))
	return nil
}
