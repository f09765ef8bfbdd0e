// Package cli wires the commands: plan, apply, destroy, output, graph,
// validate, version.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/strata-io/strata/internal/logging"
)

var (
	flagConfigDir string
	flagStateDir  string
	flagBackend   string
	flagS3Bucket  string
	flagS3Prefix  string
	flagS3Region  string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "Declarative infrastructure provisioning",
	Long: `Strata reconciles declared infrastructure against last-applied state.

It plans the minimal set of create, update, replace, and destroy
operations, then applies them in dependency order with bounded
parallelism. State is tracked per resource instance so a partial
failure never loses track of what already exists.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(flagLogLevel, flagLogFormat)
	},
}

// Execute runs the root command under ctx.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfigDir, "chdir", "C", ".", "Directory containing *.strata.hcl files")
	pf.StringVar(&flagStateDir, "state-dir", ".strata", "Workspace directory for state and locks")
	pf.StringVar(&flagBackend, "backend", "local", "State backend: local, sqlite, s3, or memory")
	pf.StringVar(&flagS3Bucket, "s3-bucket", "", "Bucket for the s3 backend")
	pf.StringVar(&flagS3Prefix, "s3-prefix", "strata/state", "Key prefix for the s3 backend")
	pf.StringVar(&flagS3Region, "s3-region", "", "Region for the s3 backend")
	pf.StringVar(&flagLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&flagLogFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}
