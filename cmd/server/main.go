// cmd/server/main.go

// @title Itinerary Service API
// @version 1.0
// @description Accepts itinerary requests and generates day-by-day travel plans in the background.
// @BasePath /
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"itinerary-service/internal/config"
	"itinerary-service/internal/credential"
	"itinerary-service/internal/entity"
	"itinerary-service/internal/firestore"
	"itinerary-service/internal/generation"
	"itinerary-service/internal/logging"
	fsrepo "itinerary-service/internal/repository/firestore"
	"itinerary-service/internal/repository/postgresql"
	"itinerary-service/internal/retry"
	"itinerary-service/internal/service"
	httptransport "itinerary-service/internal/transport/http"
	"itinerary-service/internal/worker"
)

type jobStore interface {
	Create(ctx context.Context, job *entity.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	SetResultDone(ctx context.Context, id uuid.UUID, itinerary []entity.Day, completedAt time.Time) error
	SetResultError(ctx context.Context, id uuid.UUID, errText string, completedAt time.Time) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("logging: %v", err)
	}

	var store jobStore
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("pg: %v", err)
		}
		defer pool.Close()

		repo := postgresql.NewJobRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatalf("pg schema: %v", err)
		}
		go runReaper(ctx, repo, cfg.ReaperInterval, cfg.ReaperStaleAfter, log)
		store = repo

		log.WithField("postgres_dsn", redactDSN(cfg.PostgresDSN)).Info("store backend=postgres")

	default:
		sa, err := credential.ParseServiceAccount(cfg.ServiceAccountJSON)
		if err != nil {
			log.Fatalf("credential: %v", err)
		}
		projectID := cfg.FirestoreProjectID
		if projectID == "" {
			projectID = sa.ProjectID
		}

		tokens := credential.NewBroker().Source(sa)
		if cfg.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			if err := rdb.Ping(ctx).Err(); err != nil {
				log.Fatalf("redis: %v", err)
			}
			defer rdb.Close()
			tokens = credential.NewCachedSource(tokens, credential.NewRedisTokenCache(rdb), credential.CacheKey(sa), log)
		}

		client, err := firestore.NewClient(ctx, firestore.Config{
			BaseURL:    cfg.FirestoreBaseURL,
			ProjectID:  projectID,
			DatabaseID: cfg.FirestoreDatabaseID,
		}, tokens)
		if err != nil {
			log.Fatalf("firestore: %v", err)
		}
		store = fsrepo.NewJobRepository(client, cfg.JobsCollection)

		log.WithFields(logrus.Fields{
			"project_id":  projectID,
			"database_id": cfg.FirestoreDatabaseID,
			"collection":  cfg.JobsCollection,
			"token_cache": cfg.RedisAddr != "",
		}).Info("store backend=firestore")
	}

	gen := generation.NewClient(generation.Config{
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		Policy:  retry.Policy{MaxRetries: cfg.GenerationMaxRetries, BaseDelay: cfg.GenerationBaseDelay},
	}, log)

	processor := worker.NewProcessor(store, gen, cfg.JobTimeout, log)
	workers := worker.NewPool(processor, cfg.Workers, cfg.QueueSize, log)
	workers.Start()

	jobSvc := service.NewJobService(store, workers)
	handler := httptransport.NewHandler(jobSvc, log)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httptransport.Routes(handler, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"addr":        cfg.HTTPAddr,
			"workers":     cfg.Workers,
			"queue_size":  cfg.QueueSize,
			"job_timeout": cfg.JobTimeout.String(),
			"model":       cfg.OpenAIModel,
		}).Info("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("http: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http shutdown: %v", err)
	}
	if err := workers.Shutdown(shutdownCtx); err != nil {
		log.Errorf("worker shutdown: %v", err)
	}

	log.Info("server stopped")
}

// runReaper fails jobs left in processing by a crashed or restarted process.
func runReaper(ctx context.Context, repo *postgresql.JobRepository, interval, staleAfter time.Duration, log logrus.FieldLogger) {
	if interval <= 0 || staleAfter <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.FailStale(ctx, time.Now().Add(-staleAfter), "job abandoned")
			if err != nil {
				log.Errorf("reaper error: %v", err)
				continue
			}
			if n > 0 {
				log.Infof("reaper failed %d stale jobs", n)
			}
		}
	}
}

func redactDSN(dsn string) string {
	// user:pass@ -> user:****@
	re := regexp.MustCompile(`://([^:/?#]+):([^@/]+)@`)
	return re.ReplaceAllString(dsn, `://$1:****@`)
}
