package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lnsim/core/types"
	"lnsim/network"
)

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "import",
		Short:   "Import a sim-ln graph and generate invoices over it",
		Example: `  lnsim import --file graph.json --root 02a1...ff --events 200`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			file, _ := cmd.Flags().GetString("file")
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			root, _ := cmd.Flags().GetString("root")
			if root == "" {
				return fmt.Errorf("--root is required")
			}
			w, err := readWorkload(cmd)
			if err != nil {
				return err
			}
			a, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.close()

			cfg := *a.cfg
			cfg.Profiles = nil
			net, err := network.New(cfg, a.logger)
			if err != nil {
				return err
			}
			imported, err := net.ImportTopologyFile(file, types.NodeID(root))
			if err != nil {
				return fmt.Errorf("import topology: %w", err)
			}
			report := runReport{Import: &imported}
			if err := a.simulate(ctx, net, w, &report); err != nil {
				return err
			}
			return printReport(cmd, report)
		},
	}
	cmd.Flags().String("file", "", "sim-ln graph JSON file")
	cmd.Flags().String("root", "", "Node id that learns every imported channel")
	addWorkloadFlags(cmd)
	return cmd
}
