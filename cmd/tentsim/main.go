// Command tentsim runs the grow-tent climate simulator.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tentsim",
		Short: "Grow-tent climate simulator",
		Long: `tentsim simulates the air, soil and CO2 inside a grow tent.

Devices (heater, cooler, lights, fans, humidifier, CO2) are switched through
an HTTP API; every tick the climate relaxes toward a target built from the
season, the outside weather and whatever is running.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newSeasonsCmd(),
		newSimulateCmd(),
		newServeCmd(),
	)
	return rootCmd
}
