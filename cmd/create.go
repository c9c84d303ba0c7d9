package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"gitlab.com/glidex/control-plane/models"
	"gitlab.com/glidex/control-plane/utils"
)

var (
	flagVCPUs      int
	flagMemory     int
	flagKernel     string
	flagRootFS     string
	flagKernelArgs string
)

func init() {
	createCmd.Flags().IntVar(&flagVCPUs, "vcpus", 1, "number of virtual CPUs")
	createCmd.Flags().IntVar(&flagMemory, "memory", 256, "guest memory in MiB")
	createCmd.Flags().StringVar(&flagKernel, "kernel", "", "path to an uncompressed kernel image")
	createCmd.Flags().StringVar(&flagRootFS, "rootfs", "", "path to the root filesystem image")
	createCmd.Flags().StringVar(&flagKernelArgs, "kernel-args", "", "kernel boot arguments")
	createCmd.MarkFlagRequired("kernel")
	createCmd.MarkFlagRequired("rootfs")
	rootCmd.AddCommand(createCmd)
}

var createCmd = &cobra.Command{
	Use:     "create <name>",
	Short:   "Create a new virtual machine",
	Long:    `Registers a VM with the given name and machine configuration. The VM is not started; see "glidex start".`,
	Args:    cobra.ExactArgs(1),
	PreRunE: isServerRunning(),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := json.Marshal(map[string]interface{}{
			"name":              args[0],
			"vcpu_count":        flagVCPUs,
			"mem_size_mib":      flagMemory,
			"kernel_image_path": flagKernel,
			"rootfs_path":       flagRootFS,
			"kernel_args":       flagKernelArgs,
		})
		if err != nil {
			return err
		}

		resp, err := utils.MakeInternalRequest(http.MethodPost, "/vm", body)
		if err != nil {
			return err
		}

		var rec models.VirtualMachine
		if err := json.Unmarshal(resp, &rec); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created VM %s (%s)\n", rec.Name, rec.ID)
		return nil
	},
}
