package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"lnsim/channel"
	"lnsim/core"
	"lnsim/core/types"
)

// ErrInvalidTopology is returned for malformed import files.
var ErrInvalidTopology = errors.New("network: invalid topology file")

// SimGraph is the sim-ln simulated network file format.
type SimGraph struct {
	Channels []SimChannel `json:"sim_network"`
}

// SimChannel is one channel of a sim-ln graph.
type SimChannel struct {
	SCID         uint64    `json:"scid"`
	CapacityMsat int64     `json:"capacity_msat"`
	Node1        SimPolicy `json:"node_1"`
	Node2        SimPolicy `json:"node_2"`
}

// SimPolicy is one endpoint and the policy it applies when forwarding.
type SimPolicy struct {
	PubKey          string `json:"pubkey"`
	Alias           string `json:"alias"`
	MaxHTLCCount    int    `json:"max_htlc_count"`
	MaxInFlightMsat int64  `json:"max_in_flight_msat"`
	MinHTLCSizeMsat int64  `json:"min_htlc_size_msat"`
	MaxHTLCSizeMsat int64  `json:"max_htlc_size_msat"`
	CLTVExpiryDelta uint32 `json:"cltv_expiry_delta"`
	BaseFee         int64  `json:"base_fee"`
	FeeRateProp     int64  `json:"fee_rate_prop"`
}

func (p SimPolicy) policy() types.Policy {
	return types.Policy{CLTVDelta: p.CLTVExpiryDelta, BaseFee: p.BaseFee, FeePPM: p.FeeRateProp}
}

// ShortChannelID renders a packed scid as block x tx x output.
func ShortChannelID(scid uint64) types.ChannelID {
	return types.ChannelID(fmt.Sprintf("%dx%dx%d", scid>>40, (scid>>16)&0xFFFFFF, scid&0xFFFF))
}

// ImportReport summarises an import.
type ImportReport struct {
	Nodes    int `json:"nodes"`
	Channels int `json:"channels"`
	Skipped  int `json:"skipped"`
}

// ImportTopologyFile reads a sim-ln graph from path.
func (n *Network) ImportTopologyFile(path string, root types.NodeID) (ImportReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImportReport{}, err
	}
	defer f.Close()
	return n.ImportTopology(f, root)
}

// ImportTopology loads a sim-ln graph. Nodes are keyed by pubkey. Every
// channel is confirmed immediately with its whole capacity on node_1, both
// policies are set, and the channel is inserted into both endpoints' views
// and into the view of root.
func (n *Network) ImportTopology(r io.Reader, root types.NodeID) (ImportReport, error) {
	var graph SimGraph
	dec := json.NewDecoder(r)
	if err := dec.Decode(&graph); err != nil {
		return ImportReport{}, fmt.Errorf("%w: %v", ErrInvalidTopology, err)
	}
	if len(graph.Channels) == 0 {
		return ImportReport{}, fmt.Errorf("%w: no channels", ErrInvalidTopology)
	}

	var report ImportReport
	endpoint := func(p SimPolicy) (*core.Node, error) {
		id := types.NodeID(p.PubKey)
		if id == "" {
			return nil, fmt.Errorf("%w: endpoint without pubkey", ErrInvalidTopology)
		}
		if node, ok := n.Node(id); ok {
			return node, nil
		}
		node, err := n.AddNode(types.NewIdentity(id, p.Alias), "imported", p.policy())
		if err != nil {
			return nil, err
		}
		report.Nodes++
		return node, nil
	}

	var imported []*channel.Channel
	for _, sc := range graph.Channels {
		if sc.Node1.PubKey == sc.Node2.PubKey {
			return report, fmt.Errorf("%w: channel %d is a self channel", ErrInvalidTopology, sc.SCID)
		}
		capacity := sc.CapacityMsat / 1000
		if capacity <= 0 {
			return report, fmt.Errorf("%w: channel %d has capacity %d msat", ErrInvalidTopology, sc.SCID, sc.CapacityMsat)
		}
		a, err := endpoint(sc.Node1)
		if err != nil {
			return report, err
		}
		b, err := endpoint(sc.Node2)
		if err != nil {
			return report, err
		}
		id := ShortChannelID(sc.SCID)
		if _, exists := n.Channel(id); exists {
			n.logger.Warn("skipping duplicate channel", slog.String("channel", string(id)))
			report.Skipped++
			continue
		}
		reserve := core.ReserveFor(capacity, n.cfg.Simulation.ReserveFraction)
		ch := channel.New(id, a.Identity(), b.Identity(), capacity, reserve, channel.SideA)
		ch.SetPolicy(channel.SideA, sc.Node1.policy())
		ch.SetPolicy(channel.SideB, sc.Node2.policy())
		if err := n.RegisterChannel(ch); err != nil {
			return report, err
		}
		if err := a.AddConfirmedChannel(ch, sc.Node1.policy()); err != nil {
			return report, err
		}
		if err := b.AddConfirmedChannel(ch, sc.Node2.policy()); err != nil {
			return report, err
		}
		imported = append(imported, ch)
		report.Channels++
	}

	rootNode, ok := n.Node(root)
	if !ok {
		return report, fmt.Errorf("%w: root %s", ErrUnknownNode, root)
	}
	for _, ch := range imported {
		if err := rootNode.LearnChannel(ch); err != nil {
			return report, err
		}
	}
	n.logger.Info("topology imported",
		slog.Int("nodes", report.Nodes),
		slog.Int("channels", report.Channels),
		slog.String("root", string(root)))
	return report, nil
}
