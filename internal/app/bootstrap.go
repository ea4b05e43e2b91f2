package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"incredoc/internal/adapter/pgvector"
	wstore "incredoc/internal/adapter/weaviate"
	"incredoc/internal/backend"
	"incredoc/internal/config"
	"incredoc/internal/manifest"
	"incredoc/internal/vector"
)

// VectorStore is a vector index whose schema is ensured at startup.
type VectorStore interface {
	backend.VectorIndex
	EnsureSchema(ctx context.Context) error
}

type Dependencies struct {
	// DB is nil unless DB_ENABLED is set.
	DB          *sql.DB
	Manifest    *manifest.Store
	Backends    *Backends
	NSQProducer *nsq.Producer
}

// Close releases the connections opened by Bootstrap.
func (d *Dependencies) Close() {
	if d.NSQProducer != nil {
		d.NSQProducer.Stop()
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			slog.Warn("failed to close db", "error", err)
		}
	}
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	if err := validateProviders(cfg); err != nil {
		return nil, err
	}
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	deps := &Dependencies{}

	// Database
	if cfg.DBEnabled {
		db, err := openDB(cfg, retryDelay)
		if err != nil {
			return nil, err
		}
		deps.DB = db
	}

	// Manifest
	switch cfg.ManifestBackend {
	case config.ManifestBackendPostgres:
		if deps.DB == nil {
			return nil, fmt.Errorf("%w: DB_ENABLED (required by postgres manifest)", config.ErrMissingRequired)
		}
		deps.Manifest = manifest.NewStore(manifest.NewPostgresBackend(deps.DB))
	default:
		deps.Manifest = manifest.NewStore(manifest.NewFileBackend(cfg.ManifestPath))
	}

	// Models
	deps.Backends = NewModelBackends(ctx, cfg)

	// Vector index
	store, err := newVectorStore(cfg, deps.DB)
	if err != nil {
		slog.WarnContext(ctx, "vector index unavailable", "error", err)
		deps.Backends.Index = backend.NewUnavailable("index", err)
	} else if err := EnsureSchemaWithRetry(ctx, store, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		slog.WarnContext(ctx, "vector schema error, index unavailable", "backend", cfg.VectorBackend, "error", err)
		deps.Backends.Index = backend.NewUnavailable("index", fmt.Errorf("vector schema error: %w", err))
	} else {
		deps.Backends.Index = store
	}

	// NSQ Producer
	if cfg.NSQEnabled {
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("nsq producer error: %w", err)
		}
		deps.NSQProducer = producer
		createTopics(cfg.NSQDHTTP)
	}

	return deps, nil
}

func openDB(cfg *config.Config, retryDelay time.Duration) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	// Retry loop
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1)
		time.Sleep(retryDelay)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// Migrations
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		db.Close()
		return nil, fmt.Errorf("migration up error: %w", err)
	}
	slog.Info("migrations applied successfully")
	return db, nil
}

func newVectorStore(cfg *config.Config, db *sql.DB) (VectorStore, error) {
	switch cfg.VectorBackend {
	case config.VectorBackendPGVector:
		if db == nil {
			return nil, fmt.Errorf("%w: DB_ENABLED (required by pgvector index)", config.ErrMissingRequired)
		}
		return pgvector.NewStore(db), nil
	default:
		client, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		return wstore.NewStore(client), nil
	}
}

func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicVectorizeTask)
		create(config.TopicIntakeCompleted)
	}()
}

// EnsureSchemaWithRetry delegates schema check to a helper with retry logic.
func EnsureSchemaWithRetry(ctx context.Context, store VectorStore, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.EnsureSchema(ctx); err == nil {
			return nil
		}
		if errors.Is(err, vector.ErrSchemaMismatch) {
			slog.ErrorContext(ctx, "vector schema cannot serve exact source filters", "error", err)
			return err
		}
		slog.WarnContext(ctx, "failed to ensure vector schema, retrying...", "attempt", i+1, "error", err)
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}
