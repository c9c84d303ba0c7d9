package cmd

import (
	"github.com/spf13/cobra"

	"gitlab.com/glidex/control-plane/utils"
)

var rootCmd = &cobra.Command{
	Use:     "glidex",
	Short:   "GlideX microVM control plane",
	Long:    `GlideX manages Firecracker microVMs: lifecycle, serial consoles and console logs, over a local REST API.`,
	Version: utils.Version,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: false,
		HiddenDefaultCmd:  true,
	},
	SilenceErrors: true,
	SilenceUsage:  true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func Execute() {
	// CheckErr prints formatted error message, if there is any, and exits
	cobra.CheckErr(rootCmd.Execute())
}
