package storage

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"treasuryd/config"
	"treasuryd/observability"
	"treasuryd/state"
)

// Exporter materialises snapshot and decision history as CSV and Parquet
// files under a per-run directory, and sweeps run directories older than the
// retention window.
type Exporter struct {
	dir       string
	retention int
	log       *slog.Logger
	metrics   *observability.ControlMetrics
	now       func() time.Time
}

// ExportResult summarises one export run.
type ExportResult struct {
	RunID     string   `json:"runId"`
	Dir       string   `json:"dir"`
	Files     []string `json:"files"`
	Snapshots int      `json:"snapshots"`
	Decisions int      `json:"decisions"`
	Swept     int      `json:"swept"`
}

// NewExporter builds an exporter from the exports config block.
func NewExporter(cfg config.Exports, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		dir:       cfg.Dir,
		retention: cfg.RetentionDays,
		log:       logger.With("component", "exporter"),
		metrics:   observability.Control(),
		now:       time.Now,
	}
}

// Export writes the document's snapshot and decision histories to a fresh run
// directory, then removes run directories past retention.
func (e *Exporter) Export(doc state.Document) (*ExportResult, error) {
	now := e.now().UTC()
	runID := uuid.NewString()
	runDir := filepath.Join(e.dir, fmt.Sprintf("%s_%s", now.Format("20060102_150405"), runID[:8]))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("export: ensure run dir: %w", err)
	}

	result := &ExportResult{RunID: runID, Dir: runDir, Snapshots: len(doc.Snapshots), Decisions: len(doc.Decisions)}

	snapCSV := filepath.Join(runDir, "snapshots.csv")
	if err := writeSnapshotsCSV(snapCSV, doc.Snapshots); err != nil {
		e.metrics.RecordExport("csv", "failed")
		return nil, err
	}
	decCSV := filepath.Join(runDir, "decisions.csv")
	if err := writeDecisionsCSV(decCSV, doc.Decisions); err != nil {
		e.metrics.RecordExport("csv", "failed")
		return nil, err
	}
	e.metrics.RecordExport("csv", "ok")

	snapParquet := filepath.Join(runDir, "snapshots.parquet")
	if err := writeSnapshotsParquet(snapParquet, doc.Snapshots); err != nil {
		e.metrics.RecordExport("parquet", "failed")
		return nil, err
	}
	decParquet := filepath.Join(runDir, "decisions.parquet")
	if err := writeDecisionsParquet(decParquet, doc.Decisions); err != nil {
		e.metrics.RecordExport("parquet", "failed")
		return nil, err
	}
	e.metrics.RecordExport("parquet", "ok")

	result.Files = []string{snapCSV, decCSV, snapParquet, decParquet}

	swept, err := e.sweep(now)
	if err != nil {
		// The report itself is written; a failed sweep only delays cleanup.
		e.log.Warn("retention sweep failed", "err", err)
	}
	result.Swept = swept

	e.log.Info("export complete",
		"run_id", runID,
		"dir", runDir,
		"snapshots", result.Snapshots,
		"decisions", result.Decisions,
		"swept", swept)
	return result, nil
}

// sweep removes run directories whose modification time predates the
// retention window. Returns how many were removed.
func (e *Exporter) sweep(now time.Time) (int, error) {
	if e.retention <= 0 {
		return 0, nil
	}
	cutoff := now.AddDate(0, 0, -e.retention)
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return 0, fmt.Errorf("export: read export dir: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(e.dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("export: remove %s: %w", path, err)
		}
		e.log.Info("removed expired export", "dir", path)
		removed++
	}
	return removed, nil
}

func writeSnapshotsCSV(path string, snaps []state.PoolSnapshot) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	header := []string{
		"pool_id", "pair", "protocol", "timestamp", "tvl_usd", "incentive_apr_bps",
		"net_apy_bps", "slippage_bps", "reward_rate_per_second", "reward_token_price_usd",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("export: write csv header: %w", err)
	}
	for _, snap := range snaps {
		record := []string{
			snap.PoolID,
			snap.Pair,
			snap.Protocol,
			strconv.FormatInt(snap.Timestamp, 10),
			strconv.FormatFloat(snap.TvlUsd, 'f', 2, 64),
			strconv.Itoa(snap.IncentiveAprBps),
			strconv.Itoa(snap.NetApyBps),
			strconv.Itoa(snap.SlippageBps),
			strconv.FormatFloat(snap.RewardRatePerSecond, 'f', -1, 64),
			strconv.FormatFloat(snap.RewardTokenPriceUsd, 'f', -1, 64),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("export: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("export: flush csv: %w", err)
	}
	return nil
}

func writeDecisionsCSV(path string, decs []state.Decision) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	header := []string{
		"timestamp", "action", "reason_code", "reason", "chosen_pool", "from_pool",
		"emergency", "old_net_apy_bps", "new_net_apy_bps", "payback_hours",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("export: write csv header: %w", err)
	}
	for _, dec := range decs {
		record := []string{
			strconv.FormatInt(dec.Timestamp, 10),
			string(dec.Action),
			strconv.Itoa(int(dec.ReasonCode)),
			dec.Reason,
			strdefault(dec.ChosenPoolID),
			strdefault(dec.FromPoolID),
			boolString(dec.Emergency),
			strconv.Itoa(dec.OldNetApyBps),
			strconv.Itoa(dec.NewNetApyBps),
			formatPayback(dec.EstimatedPaybackHours),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("export: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("export: flush csv: %w", err)
	}
	return nil
}

type snapshotRow struct {
	PoolID              string  `parquet:"name=pool_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Pair                string  `parquet:"name=pair, type=BYTE_ARRAY, convertedtype=UTF8"`
	Protocol            string  `parquet:"name=protocol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp           int64   `parquet:"name=timestamp, type=INT64"`
	TvlUsd              float64 `parquet:"name=tvl_usd, type=DOUBLE"`
	IncentiveAprBps     int32   `parquet:"name=incentive_apr_bps, type=INT32"`
	NetApyBps           int32   `parquet:"name=net_apy_bps, type=INT32"`
	SlippageBps         int32   `parquet:"name=slippage_bps, type=INT32"`
	RewardRatePerSecond float64 `parquet:"name=reward_rate_per_second, type=DOUBLE"`
	RewardTokenPriceUsd float64 `parquet:"name=reward_token_price_usd, type=DOUBLE"`
}

type decisionRow struct {
	Timestamp    int64   `parquet:"name=timestamp, type=INT64"`
	Action       string  `parquet:"name=action, type=BYTE_ARRAY, convertedtype=UTF8"`
	ReasonCode   int32   `parquet:"name=reason_code, type=INT32"`
	Reason       string  `parquet:"name=reason, type=BYTE_ARRAY, convertedtype=UTF8"`
	ChosenPool   string  `parquet:"name=chosen_pool, type=BYTE_ARRAY, convertedtype=UTF8"`
	FromPool     string  `parquet:"name=from_pool, type=BYTE_ARRAY, convertedtype=UTF8"`
	Emergency    bool    `parquet:"name=emergency, type=BOOLEAN"`
	OldNetApyBps int32   `parquet:"name=old_net_apy_bps, type=INT32"`
	NewNetApyBps int32   `parquet:"name=new_net_apy_bps, type=INT32"`
	PaybackHours string  `parquet:"name=payback_hours, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeSnapshotsParquet(path string, snaps []state.PoolSnapshot) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(snapshotRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, snap := range snaps {
		row := &snapshotRow{
			PoolID:              snap.PoolID,
			Pair:                snap.Pair,
			Protocol:            snap.Protocol,
			Timestamp:           snap.Timestamp,
			TvlUsd:              snap.TvlUsd,
			IncentiveAprBps:     int32(snap.IncentiveAprBps),
			NetApyBps:           int32(snap.NetApyBps),
			SlippageBps:         int32(snap.SlippageBps),
			RewardRatePerSecond: snap.RewardRatePerSecond,
			RewardTokenPriceUsd: snap.RewardTokenPriceUsd,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("export: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("export: close parquet file: %w", err)
	}
	return nil
}

func writeDecisionsParquet(path string, decs []state.Decision) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(decisionRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, dec := range decs {
		row := &decisionRow{
			Timestamp:    dec.Timestamp,
			Action:       string(dec.Action),
			ReasonCode:   int32(dec.ReasonCode),
			Reason:       dec.Reason,
			ChosenPool:   strdefault(dec.ChosenPoolID),
			FromPool:     strdefault(dec.FromPoolID),
			Emergency:    dec.Emergency,
			OldNetApyBps: int32(dec.OldNetApyBps),
			NewNetApyBps: int32(dec.NewNetApyBps),
			PaybackHours: formatPayback(dec.EstimatedPaybackHours),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("export: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("export: close parquet file: %w", err)
	}
	return nil
}

func strdefault(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func formatPayback(hours *float64) string {
	if hours == nil {
		return ""
	}
	return strconv.FormatFloat(*hours, 'f', 2, 64)
}
