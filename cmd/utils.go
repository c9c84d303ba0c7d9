package cmd

import (
	"fmt"
	"io"
	"net/http"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"gitlab.com/glidex/control-plane/utils"
)

// isServerRunning is intended to be used as a PreRunE hook and ensures the
// control plane daemon answers before command execution.
func isServerRunning() func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if _, err := utils.MakeInternalRequest(http.MethodGet, "/health", nil); err != nil {
			return fmt.Errorf("control plane is not reachable: %w\n\nSee: glidex run", err)
		}
		return nil
	}
}

func setupVMTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "ID", "State", "vCPUs", "Memory", "Created"})
	table.SetAutoWrapText(false)
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}
