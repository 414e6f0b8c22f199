package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetentionConfig holds configurable TTL settings for archive tables.
type RetentionConfig struct {
	ViolationsTTL time.Duration `yaml:"violations_ttl"`
	SessionsTTL   time.Duration `yaml:"sessions_ttl"`
}

// DefaultRetentionConfig keeps violations for 90 days and session
// summaries for a year.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		ViolationsTTL: 90 * 24 * time.Hour,
		SessionsTTL:   365 * 24 * time.Hour,
	}
}

// RetentionManager applies data retention policies to the archive.
type RetentionManager struct {
	client *ClickHouseClient
	config RetentionConfig
}

// NewRetentionManager creates a new retention manager.
func NewRetentionManager(client *ClickHouseClient, config RetentionConfig) *RetentionManager {
	return &RetentionManager{
		client: client,
		config: config,
	}
}

// ApplyTTLs updates TTL settings on archive tables to match the configured
// retention periods. Call after migrations have run.
func (r *RetentionManager) ApplyTTLs(ctx context.Context) error {
	type tablePolicy struct {
		table  string
		column string
		ttl    time.Duration
	}

	policies := []tablePolicy{
		{"violation_events", "occurred_at", r.config.ViolationsTTL},
		{"session_archive", "started_at", r.config.SessionsTTL},
	}

	for _, p := range policies {
		if p.ttl <= 0 {
			continue
		}

		days := int(p.ttl.Hours() / 24)
		if days < 1 {
			days = 1
		}

		query := fmt.Sprintf(
			"ALTER TABLE %s MODIFY TTL toDateTime(%s) + INTERVAL %d DAY DELETE",
			p.table, p.column, days,
		)

		if err := r.client.Exec(ctx, query); err != nil {
			slog.Warn("failed to apply TTL policy",
				"table", p.table,
				"ttl_days", days,
				"error", err,
			)
			// Don't fail startup if a table doesn't exist yet
			continue
		}

		slog.Info("applied retention policy",
			"table", p.table,
			"ttl_days", days,
		)
	}

	return nil
}
