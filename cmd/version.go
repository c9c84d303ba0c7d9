package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"gitlab.com/glidex/control-plane/utils"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version of the GlideX control plane",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), utils.Version)
	},
}
