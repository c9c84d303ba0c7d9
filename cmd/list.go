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
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "Display all virtual machines",
	PreRunE: isServerRunning(),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := utils.MakeInternalRequest(http.MethodGet, "/vm", nil)
		if err != nil {
			return err
		}

		var recs []models.VirtualMachine
		if err := json.Unmarshal(resp, &recs); err != nil {
			return err
		}

		if len(recs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No VMs found. Create one with: glidex create")
			return nil
		}

		table := setupVMTable(cmd.OutOrStdout())
		for _, rec := range recs {
			table.Append([]string{
				rec.Name,
				rec.ID,
				string(rec.State),
				fmt.Sprintf("%d", rec.VCPUCount),
				humanize.IBytes(uint64(rec.MemSizeMib) * 1024 * 1024),
				humanize.Time(rec.CreatedAt),
			})
		}
		table.Render()
		return nil
	},
}
