package network

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"lnsim/config"
	"lnsim/core"
	"lnsim/core/types"
)

// BootstrapReport summarises a bootstrap run.
type BootstrapReport struct {
	Nodes    int `json:"nodes"`
	Proposed int `json:"proposed"`
	Opened   int `json:"opened"`
	Rejected int `json:"rejected"`
}

type openPlan struct {
	from     *core.Node
	to       types.NodeID
	capacity int64
	feeRate  int64
}

// BootstrapNetwork creates the nodes of every configured profile, proposes
// their channels on a bounded worker pool and waits until every opening has
// either confirmed or been rejected. A stopped network is driven step by step
// instead of by the scheduler.
func (n *Network) BootstrapNetwork(ctx context.Context) (BootstrapReport, error) {
	if err := n.createProfileNodes(); err != nil {
		return BootstrapReport{}, err
	}
	plan := n.planChannels()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.cfg.Concurrency.BootstrapWorkers)
	for _, p := range plan {
		p := p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := p.from.OpenChannel(p.to, p.capacity, p.feeRate)
			if core.IsProposalPending(err) {
				n.logger.Debug("skipping duplicate proposal", slog.String("from", string(p.from.ID())), slog.String("to", string(p.to)))
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return BootstrapReport{}, fmt.Errorf("bootstrap proposals: %w", err)
	}
	if err := n.awaitOpenings(ctx); err != nil {
		return BootstrapReport{}, err
	}

	report := BootstrapReport{Nodes: len(n.Nodes()), Proposed: len(plan), Opened: len(n.Channels())}
	for _, node := range n.Nodes() {
		report.Rejected += node.Stats().ChannelsRejected
	}
	n.logger.Info("bootstrap complete",
		slog.Int("nodes", report.Nodes),
		slog.Int("proposed", report.Proposed),
		slog.Int("opened", report.Opened),
		slog.Int("rejected", report.Rejected))
	return report, nil
}

func (n *Network) createProfileNodes() error {
	for _, profile := range n.cfg.Profiles {
		for i := 0; i < profile.Nodes; i++ {
			var policy types.Policy
			n.Rand(func(r *rand.Rand) { policy = profile.SamplePolicy(r) })
			id := types.NodeID(fmt.Sprintf("%s-%03d", profile.Name, i))
			if _, err := n.AddNode(types.NewIdentity(id, ""), profile.Name, policy); err != nil {
				return err
			}
		}
	}
	return nil
}

// planChannels draws every node's target channel count and peers from the
// master generator, so the plan is reproducible for a seed. Each unordered
// pair is proposed at most once.
func (n *Network) planChannels() []openPlan {
	nodes := n.Nodes()
	profiles := make(map[string]config.Profile, len(n.cfg.Profiles))
	for _, p := range n.cfg.Profiles {
		profiles[p.Name] = p
	}
	type pair struct{ a, b types.NodeID }
	planned := make(map[pair]struct{})
	key := func(a, b types.NodeID) pair {
		if b < a {
			a, b = b, a
		}
		return pair{a, b}
	}

	var plan []openPlan
	n.Rand(func(r *rand.Rand) {
		for _, node := range nodes {
			profile, ok := profiles[node.Profile()]
			if !ok {
				continue
			}
			target := int(profile.Channels.Sample(r))
			opened := 0
			for _, idx := range r.Perm(len(nodes)) {
				if opened >= target {
					break
				}
				peer := nodes[idx]
				if peer.ID() == node.ID() || node.HasChannelWith(peer.ID()) {
					continue
				}
				k := key(node.ID(), peer.ID())
				if _, dup := planned[k]; dup {
					continue
				}
				planned[k] = struct{}{}
				plan = append(plan, openPlan{
					from:     node,
					to:       peer.ID(),
					capacity: profile.ChannelSize.Sample(r),
					feeRate:  profile.FundingFeeRate.Sample(r),
				})
				opened++
			}
		}
	})
	return plan
}

// awaitOpenings returns once no node has an opening in progress and every
// inbox is empty.
func (n *Network) awaitOpenings(ctx context.Context) error {
	period := n.cfg.Simulation.NodeTick()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pending := 0
		for _, node := range n.Nodes() {
			pending += node.OpenProposals()
		}
		if pending == 0 && n.Idle() {
			return nil
		}
		if !n.Running() {
			if pending > 0 {
				if err := n.MineBlock(); err != nil {
					return err
				}
			}
			n.Step()
			if err := n.Drain(ctx); err != nil {
				return err
			}
			continue
		}
		if err := n.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(period):
		}
	}
}
