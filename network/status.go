package network

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"lnsim/chain"
	"lnsim/channel"
	"lnsim/config"
	"lnsim/core"
	"lnsim/core/types"
	"lnsim/storage"
)

// Snapshot keys sort in the order they must be restored: configuration, chain,
// node count, every node, then the master generator.
const (
	keyConfig     = "00-config"
	keyChain      = "01-chain"
	keyNodeCount  = "02-nodecount"
	keyNodePrefix = "03-node-"
	keyRNG        = "04-rng"
)

func nodeKey(i int) string {
	return fmt.Sprintf("%s%08d", keyNodePrefix, i)
}

// SaveStatus drains every inbox and writes a snapshot to a LevelDB directory.
func (n *Network) SaveStatus(ctx context.Context, path string) error {
	db, err := storage.NewLevelDB(path)
	if err != nil {
		return fmt.Errorf("open status %s: %w", path, err)
	}
	defer db.Close()
	return n.SaveTo(ctx, db)
}

// SaveTo drains every inbox and writes a snapshot to db in one batch.
func (n *Network) SaveTo(ctx context.Context, db storage.Database) error {
	if err := n.Drain(ctx); err != nil {
		return fmt.Errorf("drain before save: %w", err)
	}
	entries := make(map[string][]byte)
	put := func(key string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		entries[key] = raw
		return nil
	}
	if err := put(keyConfig, n.cfg); err != nil {
		return err
	}
	if err := put(keyChain, n.chain.Snapshot()); err != nil {
		return err
	}
	nodes := n.Nodes()
	if err := put(keyNodeCount, len(nodes)); err != nil {
		return err
	}
	for i, node := range nodes {
		st, err := node.Snapshot()
		if err != nil {
			return err
		}
		if err := put(nodeKey(i), st); err != nil {
			return err
		}
	}
	n.rngMu.Lock()
	rngState, err := n.pcg.MarshalBinary()
	n.rngMu.Unlock()
	if err != nil {
		return fmt.Errorf("encode rng: %w", err)
	}
	entries[keyRNG] = rngState

	if err := db.WriteBatch(entries); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	n.logger.Info("status saved",
		slog.Int("nodes", len(nodes)),
		slog.Uint64("height", n.chain.Height()))
	return nil
}

// LoadStatus restores a stopped network from a LevelDB directory.
func LoadStatus(path string, logger *slog.Logger) (*Network, error) {
	db, err := storage.OpenLevelDBReadOnly(path)
	if err != nil {
		return nil, fmt.Errorf("open status %s: %w", path, err)
	}
	defer db.Close()
	return LoadFrom(db, logger)
}

type statusReader struct {
	cfg       *config.Config
	chain     *chain.State
	nodeCount int
	nodes     []core.State
	rng       []byte
	stage     int
	err       error
}

func (sr *statusReader) visit(key, value []byte) bool {
	k := string(key)
	stage, err := stageOf(k)
	if err != nil {
		sr.err = err
		return false
	}
	if stage < sr.stage {
		sr.err = fmt.Errorf("%w: %s out of order", ErrInvalidSnapshot, k)
		return false
	}
	sr.stage = stage
	switch stage {
	case 0:
		sr.cfg = new(config.Config)
		sr.err = json.Unmarshal(value, sr.cfg)
	case 1:
		sr.chain = new(chain.State)
		sr.err = json.Unmarshal(value, sr.chain)
	case 2:
		sr.err = json.Unmarshal(value, &sr.nodeCount)
	case 3:
		var st core.State
		sr.err = json.Unmarshal(value, &st)
		sr.nodes = append(sr.nodes, st)
	case 4:
		sr.rng = append([]byte(nil), value...)
	}
	if sr.err != nil {
		sr.err = fmt.Errorf("decode %s: %w", k, sr.err)
		return false
	}
	return true
}

func stageOf(key string) (int, error) {
	switch {
	case key == keyConfig:
		return 0, nil
	case key == keyChain:
		return 1, nil
	case key == keyNodeCount:
		return 2, nil
	case strings.HasPrefix(key, keyNodePrefix):
		if _, err := strconv.Atoi(strings.TrimPrefix(key, keyNodePrefix)); err != nil {
			return 0, fmt.Errorf("%w: bad node key %q", ErrInvalidSnapshot, key)
		}
		return 3, nil
	case key == keyRNG:
		return 4, nil
	default:
		return 0, fmt.Errorf("%w: unexpected key %q", ErrInvalidSnapshot, key)
	}
}

// LoadFrom rebuilds a stopped network from db. Nodes are restored first; the
// channel ledgers they reference are then deduplicated, registered, and
// linked back into every node in a second pass.
func LoadFrom(db storage.Database, logger *slog.Logger) (*Network, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var sr statusReader
	if err := db.Iterate(nil, sr.visit); err != nil {
		return nil, err
	}
	if sr.err != nil {
		return nil, sr.err
	}
	if sr.cfg == nil || sr.chain == nil || sr.rng == nil {
		return nil, fmt.Errorf("%w: missing sections", ErrInvalidSnapshot)
	}
	if sr.nodeCount != len(sr.nodes) {
		return nil, fmt.Errorf("%w: expected %d nodes, found %d", ErrInvalidSnapshot, sr.nodeCount, len(sr.nodes))
	}
	cfg := *sr.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bc, err := chain.Restore(chainConfig(cfg), logger, *sr.chain)
	if err != nil {
		return nil, err
	}
	n, err := newNetwork(cfg, logger, bc)
	if err != nil {
		return nil, err
	}

	ledgers := make(map[types.ChannelID]channel.State)
	var ledgerOrder []types.ChannelID
	for _, st := range sr.nodes {
		node, err := core.Restore(n.nodeOptions(), st)
		if err != nil {
			return nil, err
		}
		if err := n.register(node); err != nil {
			return nil, err
		}
		for _, cs := range st.Channels {
			if _, seen := ledgers[cs.ID]; !seen {
				ledgers[cs.ID] = cs
				ledgerOrder = append(ledgerOrder, cs.ID)
			}
		}
	}
	for _, id := range ledgerOrder {
		ch, err := channel.Restore(ledgers[id])
		if err != nil {
			return nil, err
		}
		if err := n.RegisterChannel(ch); err != nil {
			return nil, err
		}
	}
	for _, node := range n.Nodes() {
		if err := node.LinkChannels(n.Channel); err != nil {
			return nil, err
		}
	}
	if err := n.pcg.UnmarshalBinary(sr.rng); err != nil {
		return nil, fmt.Errorf("decode rng: %w", err)
	}
	n.logger.Info("status loaded",
		slog.Int("nodes", len(sr.nodes)),
		slog.Int("channels", len(ledgerOrder)),
		slog.Uint64("height", bc.Height()))
	return n, nil
}
