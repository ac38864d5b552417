package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.bug.st/serial"

	seriallink "github.com/luhtfiimanal/go-serial-link"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List serial ports and supported baud rates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()

		ports, err := serial.GetPortsList()
		if err != nil {
			return fmt.Errorf("list ports: %w", err)
		}
		if len(ports) == 0 {
			fmt.Fprintln(out, "No serial ports found")
		}
		for _, port := range ports {
			fmt.Fprintln(out, port)
		}

		fmt.Fprint(out, "\nSupported baud rates:")
		for _, baud := range seriallink.SupportedBaudRates() {
			fmt.Fprintf(out, " %d", baud)
		}
		fmt.Fprintln(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
