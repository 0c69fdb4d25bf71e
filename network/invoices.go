package network

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"lnsim/core"
	"lnsim/core/types"
)

// InvoiceReport summarises a batch of generated invoice events.
type InvoiceReport struct {
	Events   int                         `json:"events"`
	Paid     int                         `json:"paid"`
	Failed   int                         `json:"failed"`
	Attempts int                         `json:"attempts"`
	Fees     int64                       `json:"fees"`
	Amount   int64                       `json:"amount"`
	Failures map[types.FailureReason]int `json:"failures"`
	Discards map[string]int              `json:"discards"`
}

func (r *InvoiceReport) add(res *core.PaymentResult) {
	r.Attempts += res.Attempts
	if res.Paid() {
		r.Paid++
		r.Fees += res.Fees
		r.Amount += res.Amount
	} else {
		r.Failed++
	}
	for _, reason := range res.Failures {
		r.Failures[reason]++
	}
	for cause, count := range res.Discards {
		r.Discards[cause] += count
	}
}

// GenerateInvoiceEvents creates rate*blocks invoices between random node pairs,
// paced at rate per block interval, and pays each from its payer on a bounded
// worker pool. Amounts are uniform in [minAmt, maxAmt]; maxFees is every
// payer's fee budget. It returns once every payment has resolved.
func (n *Network) GenerateInvoiceEvents(ctx context.Context, perBlock float64, blocks uint64, minAmt, maxAmt, maxFees int64) (InvoiceReport, error) {
	report := InvoiceReport{Failures: map[types.FailureReason]int{}, Discards: map[string]int{}}
	if !n.Running() {
		return report, ErrNotRunning
	}
	if perBlock <= 0 || minAmt <= 0 || maxAmt < minAmt || maxFees < 0 {
		return report, fmt.Errorf("network: invalid invoice workload rate=%v amounts=[%d,%d] fees=%d", perBlock, minAmt, maxAmt, maxFees)
	}
	nodes := n.Nodes()
	if len(nodes) < 2 {
		return report, ErrTooFewNodes
	}
	total := int(math.Round(perBlock * float64(blocks)))

	limit := rate.Inf
	if bt := n.cfg.Chain.BlockTime(); bt > 0 {
		limit = rate.Limit(perBlock / bt.Seconds())
	}
	limiter := rate.NewLimiter(limit, 1)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.cfg.Concurrency.InvoiceWorkers)
	for i := 0; i < total; i++ {
		if err := limiter.Wait(gctx); err != nil {
			break
		}
		var payer, payee *core.Node
		var amount int64
		n.Rand(func(r *rand.Rand) {
			a := r.IntN(len(nodes))
			b := r.IntN(len(nodes) - 1)
			if b >= a {
				b++
			}
			payer, payee = nodes[a], nodes[b]
			amount = minAmt + r.Int64N(maxAmt-minAmt+1)
		})
		inv, err := payee.CreateInvoice(amount, fmt.Sprintf("event-%d", i))
		if err != nil {
			return report, err
		}
		g.Go(func() error {
			res, err := payer.PayInvoice(gctx, inv, maxFees)
			if err != nil {
				return fmt.Errorf("pay %s from %s: %w", inv.PaymentHash, payer.ID(), err)
			}
			outcome := "failed"
			if res.Paid() {
				outcome = "paid"
			}
			n.metrics.invoices.WithLabelValues(outcome).Inc()
			mu.Lock()
			report.Events++
			report.add(res)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	n.logger.Info("invoice events finished",
		slog.Int("events", report.Events),
		slog.Int("paid", report.Paid),
		slog.Int("failed", report.Failed),
		slog.Int64("fees", report.Fees))
	return report, err
}
