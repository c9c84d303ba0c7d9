package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"gitlab.com/glidex/control-plane/models"
	"gitlab.com/glidex/control-plane/utils"
)

func init() {
	rootCmd.AddCommand(getCmd)
}

var getCmd = &cobra.Command{
	Use:     "get <vm>",
	Short:   "Display one virtual machine by name or ID",
	Args:    cobra.ExactArgs(1),
	PreRunE: isServerRunning(),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := utils.MakeInternalRequest(http.MethodGet, "/vm/"+args[0], nil)
		if err != nil {
			return err
		}

		var rec models.VirtualMachine
		if err := json.Unmarshal(resp, &rec); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Name:        %s\n", rec.Name)
		fmt.Fprintf(out, "ID:          %s\n", rec.ID)
		fmt.Fprintf(out, "State:       %s\n", rec.State)
		fmt.Fprintf(out, "vCPUs:       %d\n", rec.VCPUCount)
		fmt.Fprintf(out, "Memory:      %s\n", humanize.IBytes(uint64(rec.MemSizeMib)*1024*1024))
		fmt.Fprintf(out, "Kernel:      %s\n", rec.KernelImagePath)
		fmt.Fprintf(out, "RootFS:      %s\n", rec.RootFSPath)
		fmt.Fprintf(out, "Kernel args: %s\n", rec.KernelArgs)
		fmt.Fprintf(out, "Console log: %s\n", rec.LogPath)
		fmt.Fprintf(out, "Created:     %s\n", humanize.Time(rec.CreatedAt))
		return nil
	},
}
