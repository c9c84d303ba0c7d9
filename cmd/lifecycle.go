package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"gitlab.com/glidex/control-plane/utils"
)

func init() {
	rootCmd.AddCommand(startCmd, stopCmd, pauseCmd, deleteCmd)
}

var startCmd = &cobra.Command{
	Use:     "start <vm>",
	Short:   "Start or resume a virtual machine",
	Long:    `Boots a created or stopped VM. A paused VM is resumed instead.`,
	Args:    cobra.ExactArgs(1),
	PreRunE: isServerRunning(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return lifecycleRequest(cmd, args[0], "start")
	},
}

var stopCmd = &cobra.Command{
	Use:     "stop <vm>",
	Short:   "Stop a running virtual machine",
	Long:    `Asks the guest to shut down and escalates to SIGKILL after the configured grace period.`,
	Args:    cobra.ExactArgs(1),
	PreRunE: isServerRunning(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return lifecycleRequest(cmd, args[0], "stop")
	},
}

var pauseCmd = &cobra.Command{
	Use:     "pause <vm>",
	Short:   "Pause a running virtual machine",
	Long:    `Freezes the guest's vCPUs. The process and console stay up; resume with "glidex start".`,
	Args:    cobra.ExactArgs(1),
	PreRunE: isServerRunning(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return lifecycleRequest(cmd, args[0], "pause")
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <vm>",
	Short:   "Delete a virtual machine",
	Long:    `Removes the VM record. A running VM is force-stopped first. The console log stays on disk.`,
	Args:    cobra.ExactArgs(1),
	PreRunE: isServerRunning(),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := utils.MakeInternalRequest(http.MethodDelete, "/vm/"+args[0], nil)
		if err != nil {
			return err
		}
		printServerMessage(cmd, resp)
		return nil
	},
}

func lifecycleRequest(cmd *cobra.Command, ref, action string) error {
	resp, err := utils.MakeInternalRequest(http.MethodPost, fmt.Sprintf("/vm/%s/%s", ref, action), nil)
	if err != nil {
		return err
	}
	printServerMessage(cmd, resp)
	return nil
}

func printServerMessage(cmd *cobra.Command, resp []byte) {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp, &payload); err == nil && payload.Message != "" {
		fmt.Fprintln(cmd.OutOrStdout(), payload.Message)
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), "OK")
}
