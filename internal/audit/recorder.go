package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/appchat-platform/appchat-platform/internal/db/models"
	"github.com/appchat-platform/appchat-platform/internal/safego"
	"github.com/appchat-platform/appchat-platform/internal/telemetry"
)

// writeTimeout bounds each background audit write so a wedged database or
// webhook cannot accumulate goroutines indefinitely.
const writeTimeout = 5 * time.Second

// logStore is the slice of the audit repository the recorder needs.
type logStore interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Recorder persists audit records and forwards them to configured shippers.
// Recording is asynchronous and never returns an error to the caller: an
// operation must not fail because its audit trail could not be written.
// Failures are logged and counted in the audit_write_failures_total metric.
type Recorder struct {
	store   logStore
	shipper Shipper
	enabled bool
}

// NewRecorder creates a recorder writing through the given store. shipper may
// be nil when no external destinations are configured.
func NewRecorder(store logStore, shipper Shipper, enabled bool) *Recorder {
	return &Recorder{
		store:   store,
		shipper: shipper,
		enabled: enabled,
	}
}

// Record queues an audit record for background persistence and shipping. It
// returns immediately; the caller's context is deliberately not used so that
// a cancelled request still leaves its audit trail.
func (r *Recorder) Record(log *models.AuditLog) {
	if r == nil || !r.enabled || log == nil {
		return
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		r.write(ctx, log)
	})
}

// write performs the actual store and ship calls. Split out from Record so the
// delivery path can be exercised synchronously.
func (r *Recorder) write(ctx context.Context, log *models.AuditLog) {
	if err := r.store.CreateAuditLog(ctx, log); err != nil {
		slog.Error("failed to persist audit record",
			"action", log.Action,
			"app_id", log.AppID,
			"error", err)
		telemetry.AuditWriteFailuresTotal.WithLabelValues("store").Inc()
	}

	if r.shipper == nil {
		return
	}
	if err := r.shipper.Ship(ctx, log); err != nil {
		slog.Error("failed to ship audit record",
			"action", log.Action,
			"app_id", log.AppID,
			"error", err)
		telemetry.AuditWriteFailuresTotal.WithLabelValues("shipper").Inc()
	}
}

// Close releases shipper resources. The store is owned by the caller.
func (r *Recorder) Close() error {
	if r == nil || r.shipper == nil {
		return nil
	}
	return r.shipper.Close()
}
