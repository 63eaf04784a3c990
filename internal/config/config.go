// Package config reads service settings from the environment, after loading
// a .env file when one is present.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
)

type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	StoreBackend string

	// ServiceAccountJSON is the key file content, inline or read from
	// GOOGLE_APPLICATION_CREDENTIALS.
	ServiceAccountJSON  []byte
	FirestoreProjectID  string
	FirestoreDatabaseID string
	FirestoreBaseURL    string
	JobsCollection      string

	PostgresDSN string
	RedisAddr   string

	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OpenAIModel          string
	GenerationMaxRetries int
	GenerationBaseDelay  time.Duration

	Workers         int
	QueueSize       int
	JobTimeout      time.Duration
	ShutdownTimeout time.Duration

	ReaperInterval   time.Duration
	ReaperStaleAfter time.Duration
}

// Load reads the configuration. files are .env paths to load first; with
// none, ".env" in the working directory is tried. Variables already set in
// the environment win over file values.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var errs []error
	r := reader{errs: &errs}

	cfg := &Config{
		HTTPAddr:  envOr("HTTP_ADDR", ":8080"),
		LogLevel:  envOr("LOG_LEVEL", "info"),
		LogFormat: envOr("LOG_FORMAT", "text"),

		StoreBackend: strings.ToLower(envOr("STORE_BACKEND", BackendFirestore)),

		FirestoreProjectID:  os.Getenv("FIRESTORE_PROJECT_ID"),
		FirestoreDatabaseID: envOr("FIRESTORE_DATABASE_ID", "(default)"),
		FirestoreBaseURL:    envOr("FIRESTORE_BASE_URL", "https://firestore.googleapis.com/"),
		JobsCollection:      envOr("JOBS_COLLECTION", "itineraries"),

		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),

		OpenAIAPIKey:         r.mustEnv("OPENAI_API_KEY"),
		OpenAIBaseURL:        envOr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:          envOr("OPENAI_MODEL", "gpt-4o-mini"),
		GenerationMaxRetries: r.envIntOr("GENERATION_MAX_RETRIES", 3),
		GenerationBaseDelay:  r.envDurationOr("GENERATION_BASE_DELAY", time.Second),

		Workers:         r.envIntOr("WORKERS", 4),
		QueueSize:       r.envIntOr("QUEUE_SIZE", 64),
		JobTimeout:      r.envDurationOr("JOB_TIMEOUT", 5*time.Minute),
		ShutdownTimeout: r.envDurationOr("SHUTDOWN_TIMEOUT", 60*time.Second),

		ReaperInterval:   r.envDurationOr("REAPER_INTERVAL", time.Minute),
		ReaperStaleAfter: r.envDurationOr("REAPER_STALE_AFTER", 15*time.Minute),
	}

	switch cfg.StoreBackend {
	case BackendFirestore:
		cfg.ServiceAccountJSON = r.serviceAccount()
	case BackendPostgres:
		cfg.PostgresDSN = r.mustEnv("POSTGRES_DSN")
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND: unknown backend %q", cfg.StoreBackend))
	}

	if cfg.GenerationMaxRetries < 0 {
		errs = append(errs, errors.New("GENERATION_MAX_RETRIES: must not be negative"))
	}
	if cfg.Workers <= 0 {
		errs = append(errs, errors.New("WORKERS: must be positive"))
	}
	if cfg.ReaperEnabled() {
		switch {
		case cfg.JobTimeout == 0:
			errs = append(errs, errors.New("JOB_TIMEOUT: must be set when the postgres reaper runs"))
		case cfg.ReaperStaleAfter <= addSat(cfg.JobTimeout, cfg.RetryBudget()):
			errs = append(errs, fmt.Errorf("REAPER_STALE_AFTER: must exceed JOB_TIMEOUT plus retry backoff (%s)",
				addSat(cfg.JobTimeout, cfg.RetryBudget())))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReaperEnabled reports whether the postgres stale-job reaper will run.
func (c *Config) ReaperEnabled() bool {
	return c.StoreBackend == BackendPostgres && c.ReaperInterval > 0 && c.ReaperStaleAfter > 0
}

// RetryBudget is the total backoff slept across all generation retries.
// It saturates instead of overflowing.
func (c *Config) RetryBudget() time.Duration {
	var total time.Duration
	for k := 0; k < c.GenerationMaxRetries && c.GenerationBaseDelay > 0; k++ {
		if k >= 62 || c.GenerationBaseDelay > time.Duration(math.MaxInt64)>>uint(k) {
			return time.Duration(math.MaxInt64)
		}
		total = addSat(total, c.GenerationBaseDelay<<uint(k))
	}
	return total
}

func addSat(a, b time.Duration) time.Duration {
	if a > time.Duration(math.MaxInt64)-b {
		return time.Duration(math.MaxInt64)
	}
	return a + b
}

type reader struct {
	errs *[]error
}

func (r reader) fail(key string, err error) {
	*r.errs = append(*r.errs, fmt.Errorf("%s: %w", key, err))
}

func (r reader) mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		r.fail(key, errors.New("missing env"))
	}
	return v
}

func envOr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func (r reader) envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return i
}

func (r reader) envDurationOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	if d < 0 {
		r.fail(key, errors.New("must not be negative"))
		return def
	}
	return d
}

func (r reader) serviceAccount() []byte {
	if v := os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"); v != "" {
		return []byte(v)
	}
	path := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	if path == "" {
		r.fail("GOOGLE_SERVICE_ACCOUNT_JSON", errors.New("missing env (or GOOGLE_APPLICATION_CREDENTIALS)"))
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		r.fail("GOOGLE_APPLICATION_CREDENTIALS", err)
		return nil
	}
	return data
}
