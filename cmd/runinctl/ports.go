package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/arloliu/go-runin/transport"
	"github.com/spf13/cobra"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List the serial ports present on the host",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ports, err := transport.ListPorts()
		if err != nil {
			return err
		}

		selected, _ := transport.FirstUSBPort(ports)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PORT\tUSB ID\tPRODUCT\tSERIAL\tDEFAULT")
		for _, p := range ports {
			usbID := "-"
			if p.IsUSB {
				usbID = p.VID + ":" + p.PID
			}
			mark := ""
			if p.Name == selected {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Name, usbID, p.Product, p.SerialNumber, mark)
		}

		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
