package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var outputCmd = &cobra.Command{
	Use:   "output [name]",
	Short: "Print outputs recorded by the last successful apply",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runOutput,
}

func runOutput(cmd *cobra.Command, args []string) error {
	outputs, err := loadOutputs(resolvedStateDir())
	if err != nil {
		return err
	}

	if len(args) == 1 {
		v, ok := outputs[args[0]]
		if !ok {
			return fmt.Errorf("no output named %q", args[0])
		}
		fmt.Printf("%v\n", v)
		return nil
	}
	renderOutputs(outputs)
	return nil
}
