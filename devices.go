package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/ironsmile/vkframe/driver"
	"github.com/ironsmile/vkframe/driver/soft"
	"github.com/ironsmile/vkframe/driver/vulkan"
	"github.com/ironsmile/vkframe/internal/logging"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the adapters of every driver",
	Long: `Devices enumerates the adapters each driver can open. The index in
the first column is what --adapter selects.`,
	RunE: runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}

	reg := driver.NewRegistry(logging.WithComponent("registry"))
	reg.Register(vulkan.New(vulkan.Options{Logger: logging.WithComponent("vulkan")}))
	reg.Register(soft.New(soft.Options{}))

	adapters, err := reg.Adapters()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tDRIVER\tNAME\tTYPE\tAPI")
	for _, info := range adapters {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			info.Index, info.Driver, info.Name, info.Type, info.APIVersion)
	}
	return w.Flush()
}
