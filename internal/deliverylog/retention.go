package deliverylog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
	"github.com/notifyhub/reminder-dispatch/internal/repository"
)

const (
	DefaultExportDays    = 30
	DefaultRetentionDays = 90

	timestampLayout = "2006-01-02 15:04:05"
	fileStampLayout = "20060102_150405"
)

// CSVHeader is the fixed column order of an export.
var CSVHeader = []string{
	"created_at", "status", "channel", "event_type", "attempt", "recipient",
	"provider", "appointment_id", "queue_id", "correlation_id", "error_message",
}

// Exporter writes recent delivery logs as CSV.
type Exporter struct {
	repo   repository.DeliveryLogRepository
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// NewExporter returns an Exporter writing files under dir when no explicit
// path is given.
func NewExporter(repo repository.DeliveryLogRepository, dir string, logger *zap.Logger) *Exporter {
	return &Exporter{repo: repo, dir: dir, logger: logger, now: time.Now}
}

func (e *Exporter) WithClock(now func() time.Time) *Exporter {
	e.now = now
	return e
}

// Export writes the header and every row of the last days days, newest
// first, and returns the number of data rows.
func (e *Exporter) Export(ctx context.Context, businessID int64, days int, w io.Writer) (int, error) {
	businessID = domain.NormalizeBusinessID(businessID)
	if days <= 0 {
		days = DefaultExportDays
	}
	since := e.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	rows, err := e.repo.ListSince(ctx, businessID, since)
	if err != nil {
		return 0, fmt.Errorf("list delivery logs: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(record(row)); err != nil {
			return 0, fmt.Errorf("write csv row %d: %w", row.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}
	return len(rows), nil
}

// ExportFile exports to path, or to a timestamped file in the export
// directory when path is empty. It returns the path written.
func (e *Exporter) ExportFile(ctx context.Context, businessID int64, days int, path string) (string, int, error) {
	if path == "" {
		name := "notification_delivery_logs_" + e.now().UTC().Format(fileStampLayout) + ".csv"
		path = filepath.Join(e.dir, name)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", 0, fmt.Errorf("create export directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create export file: %w", err)
	}
	n, err := e.Export(ctx, businessID, days, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close export file: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, err
	}

	e.logger.Info("delivery logs exported",
		zap.Int64("business_id", domain.NormalizeBusinessID(businessID)),
		zap.String("path", path),
		zap.Int("rows", n),
	)
	return path, n, nil
}

func record(l *domain.DeliveryLog) []string {
	return []string{
		l.CreatedAt.UTC().Format(timestampLayout),
		string(l.Status),
		string(l.Channel),
		string(l.EventType),
		strconv.Itoa(l.Attempt),
		deref(l.Recipient),
		deref(l.Provider),
		derefInt(l.AppointmentID),
		derefInt(l.QueueID),
		deref(l.CorrelationID),
		deref(l.ErrorMessage),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int64) string {
	if n == nil {
		return ""
	}
	return strconv.FormatInt(*n, 10)
}

// Purger deletes delivery logs past the retention window.
type Purger struct {
	repo   repository.DeliveryLogRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewPurger(repo repository.DeliveryLogRepository, logger *zap.Logger) *Purger {
	return &Purger{repo: repo, logger: logger, now: time.Now}
}

func (p *Purger) WithClock(now func() time.Time) *Purger {
	p.now = now
	return p
}

// Purge removes one business's rows older than days days and returns how
// many were deleted.
func (p *Purger) Purge(ctx context.Context, businessID int64, days int) (int64, error) {
	businessID = domain.NormalizeBusinessID(businessID)
	if days <= 0 {
		days = DefaultRetentionDays
	}
	cutoff := p.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	n, err := p.repo.DeleteBefore(ctx, businessID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge delivery logs: %w", err)
	}
	p.logger.Info("delivery logs purged",
		zap.Int64("business_id", businessID),
		zap.Int("retention_days", days),
		zap.Int64("deleted", n),
	)
	return n, nil
}
