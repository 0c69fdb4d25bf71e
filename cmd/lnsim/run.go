package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lnsim/network"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Bootstrap a network from the configured profiles and generate invoices",
		Example: `  lnsim run --config lnsim.toml --events 500
  lnsim run --rate 4 --blocks 20 --save ./status`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w, err := readWorkload(cmd)
			if err != nil {
				return err
			}
			a, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.close()

			net, err := network.New(*a.cfg, a.logger)
			if err != nil {
				return err
			}
			boot, err := net.BootstrapNetwork(ctx)
			if err != nil {
				return fmt.Errorf("bootstrap network: %w", err)
			}
			report := runReport{Bootstrap: &boot}
			if err := a.simulate(ctx, net, w, &report); err != nil {
				return err
			}
			return printReport(cmd, report)
		},
	}
	addWorkloadFlags(cmd)
	return cmd
}
