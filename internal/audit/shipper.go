// Package audit handles the immutable audit trail for security-relevant
// platform events: app lifecycle changes, sub-chat provisioning and
// revocation, token issuance, and capability denials. Audit records are
// intentionally separate from application logs because they have different
// consumers and retention requirements. Application logs are ephemeral debug
// output for on-call engineers, while audit records are append-only evidence
// consumed by security and compliance teams. Records are persisted to the
// audit_logs table and can additionally be routed to external destinations
// (file, webhook) via the Shipper interface so they reach a SIEM or log
// aggregator independently of the database.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/appchat-platform/appchat-platform/internal/config"
	"github.com/appchat-platform/appchat-platform/internal/db/models"
)

// Shipper routes audit records to an external destination.
type Shipper interface {
	// Ship sends one audit record to the destination.
	Ship(ctx context.Context, log *models.AuditLog) error
	// Close cleans up any resources
	Close() error
}

// MultiShipper fans a record out to every configured destination.
type MultiShipper struct {
	shippers []Shipper
	mu       sync.RWMutex
}

// NewMultiShipper creates a multi-shipper from the audit.shippers config
// section. Disabled entries are skipped; an unknown type is a config error.
func NewMultiShipper(configs []config.AuditShipperConfig) (*MultiShipper, error) {
	ms := &MultiShipper{
		shippers: make([]Shipper, 0),
	}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		var shipper Shipper
		var err error

		switch cfg.Type {
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			shipper, err = NewWebhookShipper(cfg.Webhook)
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			shipper, err = NewFileShipper(cfg.File)
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
		}

		if err != nil {
			return nil, fmt.Errorf("failed to create %s shipper: %w", cfg.Type, err)
		}

		ms.shippers = append(ms.shippers, shipper)
	}

	return ms, nil
}

// Ship sends a record to all configured shippers. A failing destination does
// not stop delivery to the others; the last error is returned.
func (ms *MultiShipper) Ship(ctx context.Context, log *models.AuditLog) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var lastErr error
	for _, shipper := range ms.shippers {
		if err := shipper.Ship(ctx, log); err != nil {
			lastErr = err
			slog.Error("audit shipper error", "error", err)
		}
	}
	return lastErr
}

// Close closes all shippers
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var lastErr error
	for _, shipper := range ms.shippers {
		if err := shipper.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// WebhookShipper POSTs audit records to an HTTP endpoint.
type WebhookShipper struct {
	cfg    *config.AuditWebhookConfig
	client *http.Client
}

// NewWebhookShipper creates a new webhook shipper
func NewWebhookShipper(cfg *config.AuditWebhookConfig) (*WebhookShipper, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}

	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &WebhookShipper{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Ship sends a record to the webhook
func (ws *WebhookShipper) Ship(ctx context.Context, log *models.AuditLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", ws.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// Close closes the webhook shipper
func (ws *WebhookShipper) Close() error {
	return nil
}

// FileShipper appends audit records to a local file, one JSON object per line.
type FileShipper struct {
	file *os.File
	mu   sync.Mutex
}

// NewFileShipper creates a new file shipper
func NewFileShipper(cfg *config.AuditFileConfig) (*FileShipper, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file path is required")
	}

	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &FileShipper{file: file}, nil
}

// Ship writes a record to the file
func (fs *FileShipper) Ship(ctx context.Context, log *models.AuditLog) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}

	return nil
}

// Close closes the file
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
