package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"

	"incredoc/features/chat"
	"incredoc/features/intake"
	"incredoc/features/job"
	"incredoc/features/mcp"
	"incredoc/features/stats"
	"incredoc/features/vectorizer"
	"incredoc/internal/backend"
	"incredoc/internal/config"
	"incredoc/internal/metrics"
	"incredoc/internal/middleware"
	"incredoc/internal/retrieval"
	"incredoc/internal/worker"
)

// maxMsgTimeout is nsqd's default --max-msg-timeout.
const maxMsgTimeout = 15 * time.Minute

type App struct {
	Handler    http.Handler
	Intake     *intake.Service
	Vectorizer *vectorizer.Service
	Retrieval  *retrieval.Service
	Jobs       *job.Service
	Metrics    *metrics.Metrics

	cfg         *config.Config
	deps        *Dependencies
	queryLogger *retrieval.QueryLogger
}

// New wires services and routes over deps. It starts nothing; see Run.
func New(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*App, error) {
	if deps == nil || deps.Manifest == nil || deps.Backends == nil {
		return nil, errors.New("app: manifest store and backends are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := deps.Backends
	m := metrics.New()

	// A nil *nsq.Producer must not become a non-nil interface.
	var pub worker.Publisher
	if deps.NSQProducer != nil {
		pub = deps.NSQProducer
	}

	// Feature: Intake
	intakeService := intake.NewService(deps.Manifest, cfg.SourceDocsDir, pub, m)
	intakeHandler := intake.NewHandler(intakeService, deps.Manifest)

	// Feature: Vectorizer
	vectorizerService := vectorizer.NewService(deps.Manifest, cfg.SourceDocsDir, b.Extractor, b.Embedder, b.Index, m)
	vectorizerHandler := vectorizer.NewHandler(vectorizerService, pub)

	// Feature: Job (failed-run journal, needs the database)
	var (
		jobService *job.Service
		jobRepo    stats.JobRepo
	)
	if deps.DB != nil {
		repo := job.NewPostgresRepo(deps.DB)
		jobService = job.NewService(repo, pub, vectorizerService, logger)
		vectorizerService.SetFailureRecorder(jobService)
		jobRepo = repo
	}

	// Feature: Retrieval & Chat
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(b.Embedder, b.Index, b.Synthesizer, b.Reranker, queryLogger, m)
	chatHandler := chat.NewHandler(retrievalService)

	// Feature: Stats
	var chunks stats.ChunkCounter
	if c, ok := b.Index.(backend.ChunkCounter); ok {
		chunks = c
	}
	statsHandler := stats.NewHandler(deps.Manifest, jobRepo, chunks)

	// Feature: MCP
	mcpHandler := mcp.NewHandler(mcp.Deps{
		Intake:     intakeService,
		Vectorizer: vectorizerService,
		Chat:       retrievalService,
		Documents: func(ctx context.Context) ([]intake.DocumentView, error) {
			return intake.ListDocuments(ctx, deps.Manifest)
		},
		Timeouts: mcp.Timeouts{
			Intake:    cfg.IntakeTimeout,
			Vectorize: cfg.VectorizeTimeout,
			Query:     cfg.QueryTimeout,
		},
	})

	route := func(capability string, timeout time.Duration, h http.HandlerFunc) http.Handler {
		return middleware.CorrelationID(middleware.CORS(middleware.Capability(capability, middleware.Timeout(timeout, h))))
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /resource/incredoc.resource.doc_intake", route("resource", cfg.IntakeTimeout, intakeHandler.Scan))
	mux.Handle("GET /resource/documents", route("resource", cfg.IntakeTimeout, intakeHandler.Documents))
	mux.Handle("POST /tool/vectorizer", route("tool", cfg.VectorizeTimeout, vectorizerHandler.Vectorize))
	mux.Handle("POST /prompt/doc_chat", route("prompt", cfg.QueryTimeout, chatHandler.Ask))

	if jobService != nil {
		jobHandler := job.NewHandler(jobService)
		mux.Handle("GET /jobs/failed", middleware.CorrelationID(middleware.CORS(jobHandler.List)))
		mux.Handle("POST /jobs/{id}/retry", route("tool", cfg.VectorizeTimeout, jobHandler.Retry))
	}

	mux.Handle("GET /stats", middleware.CorrelationID(middleware.CORS(statsHandler.GetStats)))

	mux.Handle("/mcp", middleware.CorrelationID(mcpHandler)) // Legacy POST endpoint
	mux.Handle("GET /mcp/sse", middleware.CorrelationID(middleware.CORS(mcpHandler.HandleSSE)))
	mux.Handle("POST /mcp/messages", middleware.CorrelationID(middleware.CORS(mcpHandler.HandleMessage)))

	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("/health", healthHandler(b))

	return &App{
		Handler:     mux,
		Intake:      intakeService,
		Vectorizer:  vectorizerService,
		Retrieval:   retrievalService,
		Jobs:        jobService,
		Metrics:     m,
		cfg:         cfg,
		deps:        deps,
		queryLogger: queryLogger,
	}, nil
}

// healthHandler reports "degraded" with the down capabilities; the process
// still serves whatever does not depend on them.
func healthHandler(b *Backends) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{"status": "ok"}
		if down := b.Check(); len(down) > 0 {
			resp["status"] = "degraded"
			resp["unavailable"] = down
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Error("failed to encode health response", "error", err)
		}
	}
}

// Run starts the NSQ consumers and the source watcher when enabled, then
// serves HTTP until ctx is done.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		if err := a.queryLogger.Close(); err != nil {
			slog.Warn("failed to close query log", "error", err)
		}
	}()

	if a.cfg.NSQEnabled && a.deps.NSQProducer != nil {
		consumers, err := a.startConsumers()
		if err != nil {
			return err
		}
		defer func() {
			for _, c := range consumers {
				c.Stop()
			}
		}()
	}

	if a.cfg.WatchSourceDir {
		var v worker.Vectorizer
		// With NSQ, auto-vectorization runs through the intake.completed event.
		if a.cfg.AutoVectorize && !a.cfg.NSQEnabled {
			v = a.Vectorizer
		}
		w := worker.NewWatcher(a.cfg.SourceDocsDir, a.Intake, v, a.cfg.VectorizeTimeout)
		go func() {
			if err := w.Run(ctx); err != nil {
				slog.Error("source watcher stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort, "unavailable", a.deps.Backends.Down())
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) startConsumers() ([]*nsq.Consumer, error) {
	var consumers []*nsq.Consumer

	add := func(topic string, h nsq.Handler) error {
		nsqCfg := nsq.NewConfig()
		// One run at a time; the manifest lock serializes them anyway.
		nsqCfg.MaxInFlight = 1
		// Vectorization runs outlast the default message timeout; nsqd
		// rejects anything above its own maximum.
		nsqCfg.MsgTimeout = min(a.cfg.VectorizeTimeout+time.Minute, maxMsgTimeout)
		c, err := nsq.NewConsumer(topic, config.ChannelBackend, nsqCfg)
		if err != nil {
			return fmt.Errorf("nsq consumer %s: %w", topic, err)
		}
		c.AddHandler(h)
		if err := c.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
			c.Stop()
			return fmt.Errorf("connect %s consumer to lookupd: %w", topic, err)
		}
		slog.Info("NSQ consumer connected", "topic", topic)
		consumers = append(consumers, c)
		return nil
	}

	if err := add(config.TopicVectorizeTask, worker.NewVectorizeConsumer(a.Vectorizer, a.cfg.VectorizeTimeout)); err != nil {
		return nil, err
	}
	if a.cfg.AutoVectorize {
		if err := add(config.TopicIntakeCompleted, worker.NewIntakeConsumer(a.deps.NSQProducer)); err != nil {
			for _, c := range consumers {
				c.Stop()
			}
			return nil, err
		}
	}
	return consumers, nil
}
