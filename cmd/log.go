package cmd

import (
	"net/http"

	"github.com/spf13/cobra"

	"gitlab.com/glidex/control-plane/utils"
)

func init() {
	rootCmd.AddCommand(logCmd)
}

var logCmd = &cobra.Command{
	Use:     "log <vm>",
	Short:   "Print a VM's console log",
	Long:    `Prints the full historical console output, whether or not the VM is running.`,
	Args:    cobra.ExactArgs(1),
	PreRunE: isServerRunning(),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := utils.MakeInternalRequest(http.MethodGet, "/vm/"+args[0]+"/log", nil)
		if err != nil {
			return err
		}
		cmd.OutOrStdout().Write(content)
		return nil
	},
}
