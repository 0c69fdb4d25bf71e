package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lnsim",
		Short: "Payment channel network simulator",
		Long: `lnsim simulates a network of payment channel nodes on top of a
shared simulated blockchain.

It bootstraps or imports a topology, generates invoice traffic, routes
payments through multi-hop HTLCs and reports aggregate statistics.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "lnsim.toml", "Path to the TOML or YAML configuration")
	rootCmd.PersistentFlags().Bool("json", false, "Print reports as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newResumeCmd(),
		newImportCmd(),
		newConfigCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lnsim version %s\n", version)
		},
	}
}
