package scylla

import (
	"context"
	"fmt"
	"time"

	"policy-core/internal/config"

	"github.com/gocql/gocql"
	"go.uber.org/zap"
)

const securityEventsTable = `
	CREATE TABLE IF NOT EXISTS security_events (
		event_bucket int,
		event_date   text,
		event_time   timestamp,
		event_id     uuid,
		event_type   text,
		identity_id  text,
		email        text,
		reason       text,
		fingerprint  text,
		PRIMARY KEY ((event_bucket, event_date), event_time, event_id)
	) WITH CLUSTERING ORDER BY (event_time DESC, event_id ASC)
	  AND default_time_to_live = 31536000`

// gocql prepares and caches statements per session; queries are built per
// call because a *gocql.Query is not safe for concurrent use.
const (
	insertSecurityEventCQL = `
		INSERT INTO security_events (
			event_bucket, event_date, event_time, event_id, event_type,
			identity_id, email, reason, fingerprint
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	listSecurityEventsCQL = `
		SELECT event_bucket, event_date, event_time, event_id, event_type,
		       identity_id, email, reason, fingerprint
		FROM security_events WHERE event_bucket = ? AND event_date = ? LIMIT ?`
)

type ScyllaClient struct {
	Session *gocql.Session
	logger  *zap.Logger
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 2
	cluster.SocketKeepalive = 30 * time.Second
	cluster.PageSize = 500
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{Session: session, logger: logger}

	if err := client.Session.Query(securityEventsTable).Exec(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to ensure security_events table: %w", err)
	}

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		s.logger.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	return nil
}

// ExecuteWithRetry runs query up to maxRetries+1 times with a linear backoff.
func (s *ScyllaClient) ExecuteWithRetry(ctx context.Context, query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		lastErr = query.WithContext(ctx).Exec()
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
			}
		}
	}
	return lastErr
}
