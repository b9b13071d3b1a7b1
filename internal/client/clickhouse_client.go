package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	"policy-core/internal/config"
	"policy-core/internal/severity"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const classificationsTable = `
	CREATE TABLE IF NOT EXISTS report_classifications (
		report_id     String,
		reporter_type LowCardinality(String),
		severity      LowCardinality(String),
		reason        String,
		symptom_count UInt16,
		notified      Bool,
		classified_at DateTime64(3, 'UTC')
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(classified_at)
	ORDER BY (severity, classified_at)`

// batchConn is the part of driver.Conn the sink uses.
type batchConn interface {
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Ping(ctx context.Context) error
	Close() error
}

type ClickHouseClient struct {
	conn   batchConn
	logger *zap.Logger
	mu     sync.RWMutex
}

func NewClickHouseClient(cfg config.ClickhouseConfig, logger *zap.Logger) (*ClickHouseClient, error) {
	opts := &ch.Options{
		Addr: []string{extractHostPort(cfg.URL)},
		Auth: ch.Auth{
			Username: cfg.Username,
			Password: cfg.Password,
			Database: cfg.Database,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     10,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: ch.ConnOpenInOrder,
	}
	if strings.HasPrefix(cfg.URL, "https://") || strings.HasPrefix(cfg.URL, "clickhouses://") {
		opts.TLS = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: extractHostname(cfg.URL),
		}
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	if err := conn.Exec(ctx, classificationsTable); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure report_classifications table: %w", err)
	}

	logger.Info("ClickHouse client initialized",
		zap.String("database", cfg.Database),
		zap.Bool("tls_enabled", opts.TLS != nil),
	)
	return &ClickHouseClient{conn: conn, logger: logger}, nil
}

// RecordClassification appends one classification decision.
func (c *ClickHouseClient) RecordClassification(ctx context.Context, rec severity.ClassificationRecord) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	batch, err := c.conn.PrepareBatch(ctx, `INSERT INTO report_classifications`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	count := rec.SymptomCount
	if count > 65535 {
		count = 65535
	}
	if err := batch.Append(
		rec.ReportID, rec.ReporterType, rec.Severity, rec.Reason,
		uint16(count), rec.Notified, rec.ClassifiedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to append row to batch: %w", err)
	}
	return batch.Send()
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close ClickHouse connection", zap.Error(err))
			return err
		}
		c.logger.Info("ClickHouse connection closed")
	}
	return nil
}

// extractHostPort strips the scheme and defaults the native protocol port.
func extractHostPort(url string) string {
	secure := false
	for _, scheme := range []string{"https://", "clickhouses://"} {
		if strings.HasPrefix(url, scheme) {
			secure = true
		}
	}
	clean := url
	for _, scheme := range []string{"http://", "https://", "clickhouse://", "clickhouses://", "tcp://"} {
		clean = strings.TrimPrefix(clean, scheme)
	}
	clean = strings.TrimSuffix(clean, "/")
	if !strings.Contains(clean, ":") {
		if secure {
			return clean + ":9440"
		}
		return clean + ":9000"
	}
	return clean
}

func extractHostname(url string) string {
	return strings.Split(extractHostPort(url), ":")[0]
}
