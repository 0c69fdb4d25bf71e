package network

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lnsim/observability/logging"
	"lnsim/storage"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	n := bootstrapped(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, n.Start(ctx))
	_, err := n.GenerateInvoiceEvents(ctx, 2, 2, 1000, 3000, 10_000)
	require.NoError(t, err)
	n.Stop()

	db := storage.NewMemDB()
	require.NoError(t, n.SaveTo(ctx, db))

	loaded, err := LoadFrom(db, logging.Discard())
	require.NoError(t, err)
	require.False(t, loaded.Running())
	require.Equal(t, n.Chain().Height(), loaded.Chain().Height())
	require.Equal(t, n.GetStats(), loaded.GetStats())
	require.Equal(t, n.NodeSummaries(), loaded.NodeSummaries())

	for _, node := range loaded.Nodes() {
		for _, ch := range node.Channels() {
			shared, ok := loaded.Channel(ch.ID())
			require.True(t, ok)
			require.Same(t, shared, ch, "node %s channel %s", node.ID(), ch.ID())
		}
		orig, _ := n.Node(node.ID())
		require.Equal(t, orig.Graph().NumChannels(), node.Graph().NumChannels())
	}

	var want, got uint64
	n.Rand(func(r *rand.Rand) { want = r.Uint64() })
	loaded.Rand(func(r *rand.Rand) { got = r.Uint64() })
	require.Equal(t, want, got)

	// The restored network keeps running from where it stopped.
	require.NoError(t, loaded.Start(ctx))
	report, err := loaded.GenerateInvoiceEvents(ctx, 2, 1, 1000, 2000, 10_000)
	require.NoError(t, err)
	require.Equal(t, 2, report.Events)
	loaded.Stop()
	assertLedgers(t, loaded)
}

func TestSaveLoadLevelDB(t *testing.T) {
	n := bootstrapped(t)
	dir := filepath.Join(t.TempDir(), "status")
	require.NoError(t, n.SaveStatus(context.Background(), dir))

	loaded, err := LoadStatus(dir, logging.Discard())
	require.NoError(t, err)
	require.Equal(t, len(n.Channels()), len(loaded.Channels()))
	require.Equal(t, n.GetStats(), loaded.GetStats())

	_, err = LoadStatus(filepath.Join(t.TempDir(), "missing"), logging.Discard())
	require.Error(t, err)
}

func TestLoadRejectsIncompleteSnapshot(t *testing.T) {
	db := storage.NewMemDB()
	require.NoError(t, db.Put([]byte(keyConfig), []byte(`{}`)))
	_, err := LoadFrom(db, logging.Discard())
	require.ErrorIs(t, err, ErrInvalidSnapshot)

	require.NoError(t, db.Put([]byte("99-extra"), []byte(`{}`)))
	_, err = LoadFrom(db, logging.Discard())
	require.ErrorIs(t, err, ErrInvalidSnapshot)
}
