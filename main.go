package main

import (
	"os"

	"github.com/spf13/cobra"

	"mport/cmd/run"
)

var rootCmd = &cobra.Command{
	Use:   "mport",
	Short: "mport is a multimedia port runtime.",
	Long:  `mport wires component ports together and moves buffers between them, locally or across a network bridge.`,
}

func main() {
	rootCmd.AddCommand(run.Cmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
