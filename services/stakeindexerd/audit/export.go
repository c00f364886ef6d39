// Package audit writes periodic parquet snapshots of the event journal for
// offline reconciliation.
package audit

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"stakeledger/services/stakeindexerd/storage"
)

// Row is the parquet schema of one journaled event.
type Row struct {
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	Cursor     string `parquet:"name=cursor, type=BYTE_ARRAY, convertedtype=UTF8"`
	EventType  string `parquet:"name=event_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Owner      string `parquet:"name=owner, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
	ObservedAt int64  `parquet:"name=observed_at_ms, type=INT64"`
}

// Exporter drains the journal into timestamped parquet files.
type Exporter struct {
	store     *storage.Store
	directory string
	// lastSeq is the highest sequence already exported.
	lastSeq uint64
}

// NewExporter prepares the export directory.
func NewExporter(store *storage.Store, directory string) (*Exporter, error) {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}
	return &Exporter{store: store, directory: directory}, nil
}

// Export writes every journaled event newer than the previous export into a
// fresh parquet file and returns its path. An empty path means there was
// nothing new to export.
func (e *Exporter) Export() (string, error) {
	rows := make([]Row, 0, 256)
	cursor := e.lastSeq
	for {
		batch, err := e.store.EventsAfter(cursor, 1000)
		if err != nil {
			return "", fmt.Errorf("audit: read journal: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, event := range batch {
			rows = append(rows, Row{
				Sequence:   int64(event.Sequence),
				Cursor:     event.Cursor,
				EventType:  event.Type,
				Owner:      event.Owner,
				Attributes: event.Attributes,
				ObservedAt: event.ObservedAt.UnixMilli(),
			})
			cursor = event.Sequence
		}
	}
	if len(rows) == 0 {
		return "", nil
	}

	reportID := uuid.New().String()
	name := fmt.Sprintf("stake-events-%s-%s.parquet", time.Now().UTC().Format("20060102T150405Z"), reportID)
	path := filepath.Join(e.directory, name)

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return "", fmt.Errorf("audit: create %s: %w", path, err)
	}
	pw, err := writer.NewParquetWriter(fw, new(Row), 2)
	if err != nil {
		_ = fw.Close()
		return "", fmt.Errorf("audit: open parquet writer: %w", err)
	}
	for i := range rows {
		if err := pw.Write(rows[i]); err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return "", fmt.Errorf("audit: write row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return "", fmt.Errorf("audit: finalize parquet: %w", err)
	}
	if err := fw.Close(); err != nil {
		return "", fmt.Errorf("audit: close %s: %w", path, err)
	}

	e.lastSeq = cursor
	slog.Info("audit export complete", "path", path, "rows", len(rows), "report_id", reportID)
	return path, nil
}

// Run exports on the interval until the stop channel closes.
func (e *Exporter) Run(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := e.Export(); err != nil {
				slog.Error("audit export failed", "error", err)
			}
		}
	}
}
