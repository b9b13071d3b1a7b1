package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"policy-core/internal/client"
	"policy-core/internal/config"
	"policy-core/internal/encryption"
	"policy-core/internal/handler"
	"policy-core/internal/metrics"
	"policy-core/internal/policy"
	"policy-core/internal/repository/postgres"
	redisrepo "policy-core/internal/repository/redis"
	"policy-core/internal/repository/scylla"
	"policy-core/internal/service"
	"policy-core/internal/util"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config  *config.Config
	metrics *metrics.Collector

	// Clients
	pool             *pgxpool.Pool
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	encryptionManager *encryption.Manager

	broadcast      *redisrepo.PolicyBroadcast
	serviceFactory *service.ServiceFactory

	cancel    context.CancelFunc
	listeners sync.WaitGroup
	closeOnce sync.Once
}

// NewFactory connects every configured backend. Postgres is always required;
// Redis is required in production. The remaining backends are optional and
// skipped when not configured.
func NewFactory(ctx context.Context, cfg *config.Config, m *metrics.Collector) (*Factory, error) {
	f := &Factory{
		config:  cfg,
		metrics: m,
	}

	if err := f.initializeDatabase(ctx); err != nil {
		return nil, err
	}
	if err := f.initializeClients(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := f.initializeEncryption(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("redis_enabled", f.redisClient != nil),
		util.Bool("kafka_enabled", f.kafkaProducer != nil),
		util.Bool("elasticsearch_enabled", f.esClient != nil),
		util.Bool("clickhouse_enabled", f.clickhouseClient != nil),
		util.Bool("scylla_enabled", f.scyllaClient != nil),
		util.Bool("kms_enabled", f.config.Encryption.KMSEnabled),
		util.Bool("field_encryption_enabled", f.encryptionManager != nil),
	)
	return f, nil
}

func (f *Factory) initializeDatabase(ctx context.Context) error {
	if f.config.Postgres.RunMigrations {
		if err := postgres.Migrate(f.config.Postgres.URL, util.Named("migrate")); err != nil {
			return fmt.Errorf("postgres migrations: %w", err)
		}
	}
	pool, err := postgres.NewPool(ctx, f.config.Postgres, util.Named("postgres"))
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	f.pool = pool
	return nil
}

// initializeClients initializes external service clients with health checks
func (f *Factory) initializeClients(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if c, err := client.NewRedisClient(f.config.Redis, util.Named("redis")); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else if err := c.HealthCheck(ctx); err != nil {
		_ = c.Close()
		initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
	} else {
		f.redisClient = c
		f.broadcast = redisrepo.NewPolicyBroadcast(c, util.Named("policy_broadcast"))
		util.Info("Redis client initialized and healthy")
	}

	// Kafka
	if len(f.config.Kafka.Brokers) > 0 {
		if p, err := client.NewKafkaProducer(f.config.Kafka, util.Named("kafka")); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = p
			util.Info("Kafka producer initialized")
		}
	}

	// Elasticsearch
	if f.config.Elasticsearch.URL != "" {
		if c, err := client.NewElasticsearchClient(f.config.Elasticsearch, util.Named("elasticsearch")); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else if err := c.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
		} else {
			f.esClient = c
			util.Info("Elasticsearch client initialized and healthy")
		}
	}

	// ClickHouse
	if f.config.Clickhouse.URL != "" {
		if c, err := client.NewClickHouseClient(f.config.Clickhouse, util.Named("clickhouse")); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else if err := c.HealthCheck(ctx); err != nil {
			_ = c.Close()
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			f.clickhouseClient = c
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	// ScyllaDB
	if len(f.config.Scylla.Nodes) > 0 {
		if c, err := scylla.NewScyllaClient(f.config, util.Named("scylla")); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
		} else {
			f.scyllaClient = c
			util.Info("ScyllaDB client initialized")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return errors.Join(initErrors...)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}
	return nil
}

// initializeEncryption builds the field cipher for report contact details.
// KMS wraps data keys in production; a local key serves development.
func (f *Factory) initializeEncryption(ctx context.Context) error {
	enc := f.config.Encryption
	var wrapper encryption.KeyWrapper
	switch {
	case enc.KMSEnabled:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(enc.Region))
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		wrapper = encryption.NewKMSWrapper(kms.NewFromConfig(awsCfg), enc.KMSKeyID)
	case enc.LocalKey != "":
		key, err := enc.LocalKeyBytes()
		if err != nil {
			return err
		}
		w, err := encryption.NewLocalWrapper(key)
		if err != nil {
			return err
		}
		wrapper = w
	default:
		util.Warn("Field encryption disabled - report contact details are stored in the clear")
		return nil
	}
	f.encryptionManager = encryption.NewManager(wrapper, enc.KeyRotation, util.Named("encryption"))
	return nil
}

// dependencies assembles the service inputs. Optional sinks stay nil
// interfaces when their client is absent.
func (f *Factory) dependencies() service.Dependencies {
	var cipher postgres.FieldCipher
	if f.encryptionManager != nil {
		cipher = f.encryptionManager
	}
	deps := service.Dependencies{
		Policies:      postgres.NewPolicyRepository(f.pool),
		Identities:    postgres.NewIdentityRepository(f.pool),
		Reports:       postgres.NewReportRepository(f.pool, cipher),
		Notifications: postgres.NewNotificationRepository(f.pool),
		Archive:       postgres.NewArchiveStore(f.pool, cipher),
	}
	if f.redisClient != nil {
		deps.RunLock = redisrepo.NewLockCache(f.redisClient, util.Named("lock"))
		deps.Invalidators = []policy.Invalidator{f.broadcast}
	}
	if f.esClient != nil {
		deps.Indexer = f.esClient
	}
	if f.kafkaProducer != nil {
		deps.Publisher = f.kafkaProducer
	}
	if f.clickhouseClient != nil {
		deps.Analytics = f.clickhouseClient
	}
	if f.scyllaClient != nil {
		events := scylla.NewSecurityEventRepository(f.scyllaClient, util.Named("security_events"))
		deps.Events = events
		deps.EventSource = events
	}
	return deps
}

// ServiceFactory returns the shared service factory, creating it on first use.
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(f.config, f.dependencies(), f.metrics, util.Base())
	}
	return f.serviceFactory
}

// Start launches background work: the limiter sweeper and, when Redis is
// available, the cross-instance policy invalidation listener.
func (f *Factory) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	services := f.ServiceFactory()
	services.StartBackground(ctx)

	if f.broadcast == nil {
		return
	}
	f.listeners.Add(1)
	go func() {
		defer f.listeners.Done()
		for {
			err := f.broadcast.Listen(ctx, services.PolicyProvider(), nil)
			if ctx.Err() != nil {
				return
			}
			util.Warn("Policy invalidation listener stopped, retrying", util.ErrorField(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}()
}

// HealthChecks returns one probe per connected backend.
func (f *Factory) HealthChecks() map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{
		"postgres": f.pool.Ping,
	}
	if f.redisClient != nil {
		checks["redis"] = f.redisClient.HealthCheck
	}
	if f.kafkaProducer != nil {
		checks["kafka"] = f.kafkaProducer.HealthCheck
	}
	if f.esClient != nil {
		checks["elasticsearch"] = f.esClient.HealthCheck
	}
	if f.clickhouseClient != nil {
		checks["clickhouse"] = f.clickhouseClient.HealthCheck
	}
	if f.scyllaClient != nil {
		checks["scylla"] = f.scyllaClient.HealthCheck
	}
	return checks
}

func (f *Factory) Config() *config.Config {
	return f.config
}

// Close stops background work and releases every client. Safe to call more
// than once.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if f.cancel != nil {
			f.cancel()
		}
		f.listeners.Wait()

		if f.serviceFactory != nil {
			f.serviceFactory.Cleanup()
			util.Info("Service factory cleaned up")
		}
		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}
		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}
		if f.pool != nil {
			f.pool.Close()
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})
}
