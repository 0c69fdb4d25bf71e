package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lnsim/network"
)

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "resume",
		Short:   "Resume a saved network and generate more invoices",
		Example: `  lnsim resume --load ./status --events 100 --save ./status-2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			load, _ := cmd.Flags().GetString("load")
			if load == "" {
				return fmt.Errorf("--load is required")
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

			net, err := network.LoadStatus(load, a.logger)
			if err != nil {
				return fmt.Errorf("load status: %w", err)
			}
			a.logger.Info("network status loaded",
				"path", load,
				"nodes", len(net.Nodes()),
				"height", net.Chain().Height())

			var report runReport
			if err := a.simulate(ctx, net, w, &report); err != nil {
				return err
			}
			return printReport(cmd, report)
		},
	}
	cmd.Flags().String("load", "", "Directory holding a saved network status")
	addWorkloadFlags(cmd)
	return cmd
}
