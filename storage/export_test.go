package storage

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"treasuryd/config"
	"treasuryd/state"
)

func exportDoc() state.Document {
	chosen := "pool-a"
	return state.Document{
		Position: state.Park("USDC"),
		Snapshots: []state.PoolSnapshot{
			{PoolID: "pool-a", Pair: "USDC", Protocol: "aave-v3", Timestamp: 1000, TvlUsd: 1_000_000, NetApyBps: 450, SlippageBps: 10},
			{PoolID: "pool-b", Pair: "USDC", Protocol: "compound-v3", Timestamp: 1000, TvlUsd: 2_000_000, NetApyBps: 500, SlippageBps: 20},
		},
		Decisions: []state.Decision{
			{Timestamp: 1000, Action: state.ActionEnter, ReasonCode: state.ReasonInitialDeploy, Reason: "initial deploy", ChosenPoolID: &chosen, NewNetApyBps: 450},
			{Timestamp: 2000, Action: state.ActionHold, ReasonCode: state.ReasonDeltaBelowThreshold, Reason: "delta below threshold"},
		},
		Tweets: []state.TweetRecord{},
	}
}

func TestExportWritesCSVAndParquet(t *testing.T) {
	dir := t.TempDir()
	exp := NewExporter(config.Exports{Dir: dir, RetentionDays: 30}, testLogger())

	result, err := exp.Export(exportDoc())
	require.NoError(t, err)
	require.NotEmpty(t, result.RunID)
	require.Len(t, result.Files, 4)
	require.Equal(t, 2, result.Snapshots)
	require.Equal(t, 2, result.Decisions)

	file, err := os.Open(filepath.Join(result.Dir, "snapshots.csv"))
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "pool_id", rows[0][0])
	require.Equal(t, "pool-a", rows[1][0])
	require.Equal(t, "450", rows[1][6])
	require.Equal(t, "pool-b", rows[2][0])

	// Parquet files carry the PAR1 magic at both ends.
	for _, name := range []string{"snapshots.parquet", "decisions.parquet"} {
		data, err := os.ReadFile(filepath.Join(result.Dir, name))
		require.NoError(t, err)
		require.Greater(t, len(data), 8)
		require.Equal(t, "PAR1", string(data[:4]))
		require.Equal(t, "PAR1", string(data[len(data)-4:]))
	}
}

func TestExportFormatsOptionalDecisionFields(t *testing.T) {
	dir := t.TempDir()
	exp := NewExporter(config.Exports{Dir: dir}, testLogger())

	result, err := exp.Export(exportDoc())
	require.NoError(t, err)

	file, err := os.Open(filepath.Join(result.Dir, "decisions.csv"))
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "pool-a", rows[1][4])
	require.Equal(t, "", rows[2][4])
	require.Equal(t, "", rows[1][9])
	require.Equal(t, "false", rows[1][6])
}

func TestExportHandlesEmptyHistories(t *testing.T) {
	dir := t.TempDir()
	exp := NewExporter(config.Exports{Dir: dir}, testLogger())

	result, err := exp.Export(*state.NewDocument())
	require.NoError(t, err)
	require.Equal(t, 0, result.Snapshots)
	require.Equal(t, 0, result.Decisions)
	for _, path := range result.Files {
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Greater(t, info.Size(), int64(0))
	}
}

func TestExportSweepsExpiredRuns(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "20200101_000000_deadbeef")
	require.NoError(t, os.MkdirAll(stale, 0o755))
	old := time.Now().AddDate(0, 0, -40)
	require.NoError(t, os.Chtimes(stale, old, old))

	exp := NewExporter(config.Exports{Dir: dir, RetentionDays: 30}, testLogger())
	result, err := exp.Export(exportDoc())
	require.NoError(t, err)
	require.Equal(t, 1, result.Swept)

	_, err = os.Stat(stale)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(result.Dir)
	require.NoError(t, err)
}

func TestExportKeepsRecentRuns(t *testing.T) {
	dir := t.TempDir()
	exp := NewExporter(config.Exports{Dir: dir, RetentionDays: 30}, testLogger())

	first, err := exp.Export(exportDoc())
	require.NoError(t, err)
	second, err := exp.Export(exportDoc())
	require.NoError(t, err)
	require.Equal(t, 0, second.Swept)

	_, err = os.Stat(first.Dir)
	require.NoError(t, err)
	_, err = os.Stat(second.Dir)
	require.NoError(t, err)
}
