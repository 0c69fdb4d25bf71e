package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/require"

	"lnsim/config"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.Simulation.NodeTickMs = 1
	cfg.Chain.BlockTimeMs = 20
	cfg.Chain.BackgroundLoadBytes = 0
	cfg.Logging.Level = "error"
	cfg.Profiles = []config.Profile{{
		Name:           "peer",
		Nodes:          4,
		Channels:       config.Range{Min: 2, Max: 2},
		ChannelSize:    config.Range{Min: 500_000, Max: 500_000},
		FundingFeeRate: config.Range{Min: 2, Max: 2},
		BaseFee:        config.Range{Min: 0, Max: 0},
		FeePPM:         config.Range{Min: 100, Max: 100},
		CLTVDelta:      config.Range{Min: 18, Max: 18},
	}}
	path := filepath.Join(t.TempDir(), "lnsim.toml")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, toml.NewEncoder(f).Encode(cfg))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigDefaultWritesLoadableFile(t *testing.T) {
	for _, name := range []string{"lnsim.toml", "lnsim.yaml"} {
		path := filepath.Join(t.TempDir(), name)
		out, err := execute(t, "config", "default", path)
		require.NoError(t, err)
		if !strings.Contains(out, path) {
			t.Fatalf("expected output to name %s, got %q", path, out)
		}
		cfg, err := config.Load(path)
		require.NoError(t, err)
		require.Equal(t, config.Default().Simulation, cfg.Simulation)
	}
}

func TestRunSaveAndResume(t *testing.T) {
	cfgPath := writeConfig(t)
	saveDir := filepath.Join(t.TempDir(), "status")

	out, err := execute(t, "run", "--config", cfgPath, "--json",
		"--events", "4", "--rate", "4",
		"--min-amount", "1000", "--max-amount", "5000", "--max-fees", "500",
		"--save", saveDir)
	require.NoError(t, err)

	var report runReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.NotNil(t, report.Bootstrap)
	require.Equal(t, 4, report.Bootstrap.Nodes)
	require.Equal(t, report.Bootstrap.Proposed, report.Bootstrap.Opened)
	require.NotNil(t, report.Invoices)
	if report.Invoices.Events != 4 {
		t.Fatalf("expected 4 invoice events, got %d", report.Invoices.Events)
	}
	require.Equal(t, 4, report.Stats.Nodes)
	height := report.Stats.Height

	out, err = execute(t, "resume", "--config", cfgPath, "--json", "--load", saveDir, "--blocks", "0")
	require.NoError(t, err)
	var resumed runReport
	require.NoError(t, json.Unmarshal([]byte(out), &resumed))
	require.Nil(t, resumed.Invoices)
	require.Equal(t, report.Stats.Channels, resumed.Stats.Channels)
	require.Equal(t, report.Stats.Capacity, resumed.Stats.Capacity)
	if resumed.Stats.Height < height {
		t.Fatalf("expected resumed height >= %d, got %d", height, resumed.Stats.Height)
	}
}

func TestImportRequiresFlags(t *testing.T) {
	cfgPath := writeConfig(t)
	_, err := execute(t, "import", "--config", cfgPath)
	require.ErrorContains(t, err, "--file is required")
	_, err = execute(t, "import", "--config", cfgPath, "--file", "graph.json")
	require.ErrorContains(t, err, "--root is required")
}

func TestImportRunsOverGraph(t *testing.T) {
	cfgPath := writeConfig(t)
	graph := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, os.WriteFile(graph, []byte(`{"sim_network":[
		{"scid":769658139524071425,"capacity_msat":1000000000,
		 "node_1":{"pubkey":"alice","alias":"alice","cltv_expiry_delta":18,"base_fee":0,"fee_rate_prop":100},
		 "node_2":{"pubkey":"bob","alias":"bob","cltv_expiry_delta":18,"base_fee":0,"fee_rate_prop":100}}
	]}`), 0o644))

	out, err := execute(t, "import", "--config", cfgPath, "--file", graph, "--root", "alice", "--blocks", "0")
	require.NoError(t, err)
	if !strings.Contains(out, "import: 2 nodes, 1 channels, 0 skipped") {
		t.Fatalf("expected import summary, got %q", out)
	}
}

func TestReadWorkloadDerivesBlocks(t *testing.T) {
	cmd := newRunCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--events", "10", "--rate", "4"}))
	w, err := readWorkload(cmd)
	require.NoError(t, err)
	require.Equal(t, uint64(3), w.blocks)

	cmd = newRunCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--rate", "0"}))
	_, err = readWorkload(cmd)
	require.Error(t, err)
}
