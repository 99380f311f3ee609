// Command hub is the hub's CLI: dump, upload, build, diff, sync,
// index, and plugin subcommands, plus "hub daemon" which hosts the
// scheduler and the internal/hubrpc socket other invocations of this
// same binary can reach for instead of re-opening HubDB themselves.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// jsonOutput is set by the root command's PersistentPreRun from the
// --json flag, mirroring the teacher's global jsonOutput switch so
// every subcommand can honor it without threading a flag through every
// function signature.
var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:           "hub",
	Short:         "Operate a biohub data-integration instance",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		v, _ := cmd.Flags().GetBool("json")
		jsonOutput = v
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json", false, "emit machine-readable JSON instead of human-readable text")
	rootCmd.PersistentFlags().String("config", "", "path to hub.yaml (overrides the default search path)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sources", Title: "Source commands:"},
		&cobra.Group{ID: "release", Title: "Release commands:"},
		&cobra.Group{ID: "ops", Title: "Operational commands:"},
	)

	rootCmd.AddCommand(dumpCmd, uploadCmd, buildCmd)
	rootCmd.AddCommand(diffCmd, syncCmd, indexCmd)
	rootCmd.AddCommand(pluginCmd, statusCmd, daemonCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		reportFatal(err)
		os.Exit(exitCodeFor(err))
	}
}

// reportFatal prints err in the format --json demands, matching the
// human/JSON duality every subcommand already honors for success output.
func reportFatal(err error) {
	if jsonOutput {
		fmt.Fprintf(os.Stderr, "{\"success\":false,\"error\":%q}\n", err.Error())
		return
	}
	fmt.Fprintf(os.Stderr, "hub: %v\n", err)
}
