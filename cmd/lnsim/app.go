package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"lnsim/config"
	"lnsim/network"
	"lnsim/observability/logging"
	"lnsim/observability/otel"
	"lnsim/rpc"
)

// app bundles what every subcommand needs after startup.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	shutdown otel.ShutdownFunc
}

func setup(ctx context.Context, cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	opts := logging.Options{
		Service:    "lnsim",
		Env:        cfg.Logging.Env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	}
	// Reports go to stdout; logs stay off it.
	if cfg.Logging.File == "" {
		opts.Writer = cmd.ErrOrStderr()
	}
	logger := logging.Setup(opts)
	shutdown, err := otel.Init(ctx, otel.FromConfig("lnsim", cfg.Logging, cfg.Telemetry))
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	return &app{cfg: cfg, logger: logger, shutdown: shutdown}, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", "error", err)
	}
}

// workload describes the invoice traffic of a run.
type workload struct {
	events  int
	rate    float64
	blocks  uint64
	minAmt  int64
	maxAmt  int64
	maxFees int64
	save    string
}

func addWorkloadFlags(cmd *cobra.Command) {
	cmd.Flags().Int("events", 0, "Number of invoice events to generate (overrides --blocks)")
	cmd.Flags().Float64("rate", 1, "Invoice events per block")
	cmd.Flags().Uint64("blocks", 10, "Number of blocks to generate events over")
	cmd.Flags().Int64("min-amount", 1_000, "Minimum invoice amount in satoshis")
	cmd.Flags().Int64("max-amount", 100_000, "Maximum invoice amount in satoshis")
	cmd.Flags().Int64("max-fees", 1_000, "Fee budget per payment in satoshis")
	cmd.Flags().String("save", "", "Directory to save the final network status to")
}

func readWorkload(cmd *cobra.Command) (workload, error) {
	var w workload
	w.events, _ = cmd.Flags().GetInt("events")
	w.rate, _ = cmd.Flags().GetFloat64("rate")
	w.blocks, _ = cmd.Flags().GetUint64("blocks")
	w.minAmt, _ = cmd.Flags().GetInt64("min-amount")
	w.maxAmt, _ = cmd.Flags().GetInt64("max-amount")
	w.maxFees, _ = cmd.Flags().GetInt64("max-fees")
	w.save, _ = cmd.Flags().GetString("save")
	if w.rate <= 0 {
		return w, fmt.Errorf("--rate must be positive")
	}
	if w.events < 0 {
		return w, fmt.Errorf("--events must not be negative")
	}
	if w.events > 0 {
		w.blocks = uint64(math.Ceil(float64(w.events) / w.rate))
	}
	return w, nil
}

// runReport is what a subcommand prints once the workload is done.
type runReport struct {
	Bootstrap *network.BootstrapReport `json:"bootstrap,omitempty"`
	Import    *network.ImportReport    `json:"import,omitempty"`
	Invoices  *network.InvoiceReport   `json:"invoices,omitempty"`
	Stats     network.Stats            `json:"stats"`
}

// simulate starts the scheduler, serves introspection when configured,
// generates the workload and saves the network once it is stopped.
func (a *app) simulate(ctx context.Context, net *network.Network, w workload, report *runReport) error {
	if err := net.Start(ctx); err != nil {
		return err
	}
	defer net.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	if addr := a.cfg.Metrics.ListenAddress; addr != "" {
		g.Go(func() error {
			return rpc.Serve(gctx, addr, net, a.logger, rpc.OptionsFrom(a.cfg.Metrics))
		})
	}
	g.Go(func() error {
		defer cancel()
		if w.blocks == 0 || len(net.Nodes()) < 2 {
			return nil
		}
		inv, err := net.GenerateInvoiceEvents(gctx, w.rate, w.blocks, w.minAmt, w.maxAmt, w.maxFees)
		report.Invoices = &inv
		if err != nil {
			return fmt.Errorf("generate invoice events: %w", err)
		}
		a.logger.Info("workload complete",
			"events", inv.Events,
			"paid", inv.Paid,
			"failed", inv.Failed,
			"fees", inv.Fees)
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	net.Stop()

	if w.save != "" {
		if err := net.SaveStatus(context.Background(), w.save); err != nil {
			return fmt.Errorf("save status: %w", err)
		}
		a.logger.Info("network status saved", "path", w.save, "height", net.Chain().Height())
	}
	report.Stats = net.GetStats()
	return nil
}

func printReport(cmd *cobra.Command, report runReport) error {
	out := cmd.OutOrStdout()
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	writeReport(out, report)
	return nil
}

func writeReport(out io.Writer, report runReport) {
	if b := report.Bootstrap; b != nil {
		fmt.Fprintf(out, "bootstrap: %d nodes, %d channels proposed, %d opened, %d rejected\n",
			b.Nodes, b.Proposed, b.Opened, b.Rejected)
	}
	if im := report.Import; im != nil {
		fmt.Fprintf(out, "import: %d nodes, %d channels, %d skipped\n", im.Nodes, im.Channels, im.Skipped)
	}
	if inv := report.Invoices; inv != nil {
		fmt.Fprintf(out, "invoices: %d events, %d paid, %d failed, %d attempts\n",
			inv.Events, inv.Paid, inv.Failed, inv.Attempts)
	}
	s := report.Stats
	fmt.Fprintf(out, "chain: height %d, %d txs pending (%d bytes)\n", s.Height, s.MempoolTxs, s.MempoolBytes)
	fmt.Fprintf(out, "network: %d nodes, %d channels, capacity %s\n", s.Nodes, s.Channels, s.CapacityText)
	fmt.Fprintf(out, "payments: %d/%d succeeded (%.1f%%), sent %s, fees paid %d, earned %d\n",
		s.PaymentsSucceeded, s.PaymentsAttempted, s.SuccessRate*100, s.AmountSentText, s.FeesPaid, s.FeesEarned)
	fmt.Fprintf(out, "path length: mean %.2f sd %.2f median %.0f max %.0f\n",
		s.PathLength.Mean, s.PathLength.StdDev, s.PathLength.Median, s.PathLength.Max)
	for _, reason := range slices.Sorted(maps.Keys(s.AttemptFailures)) {
		fmt.Fprintf(out, "  failure %s: %d\n", reason, s.AttemptFailures[reason])
	}
	for _, cause := range slices.Sorted(maps.Keys(s.Discards)) {
		fmt.Fprintf(out, "  discard %s: %d\n", cause, s.Discards[cause])
	}
}
