package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set with -ldflags "-X .../cmd.version=...".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Display the current version of the tradehost CLI.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tradehost version %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
