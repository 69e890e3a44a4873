package cmd

import (
	"fmt"

	"github.com/sergev/pulsesensor/source"
	"github.com/spf13/cobra"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Long:  "List serial ports with their USB identifiers and mark boards that can be auto-detected.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ports, err := source.ListPorts()
		if err != nil {
			cobra.CheckErr(err)
		}
		if len(ports) == 0 {
			fmt.Printf("No serial ports found.\n")
			return
		}
		for _, port := range ports {
			fmt.Printf("%-24s", port.Name)
			if port.VendorID != 0 || port.ProductID != 0 {
				fmt.Printf(" %04x:%04x", port.VendorID, port.ProductID)
			} else {
				fmt.Printf(" %9s", "-")
			}
			if port.Board != "" {
				fmt.Printf("  %s", port.Board)
			} else if port.Product != "" {
				fmt.Printf("  (%s)", port.Product)
			}
			if port.Serial != "" {
				fmt.Printf("  serial %s", port.Serial)
			}
			fmt.Printf("\n")
		}
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
