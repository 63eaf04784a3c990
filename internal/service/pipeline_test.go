package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"itinerary-service/internal/entity"
	fs "itinerary-service/internal/firestore"
	"itinerary-service/internal/firestore/firestoretest"
	"itinerary-service/internal/generation"
	fsrepo "itinerary-service/internal/repository/firestore"
	"itinerary-service/internal/retry"
	"itinerary-service/internal/service"
	"itinerary-service/internal/worker"
)

func fourDayKyoto() string {
	var parts []string
	for d := 1; d <= 4; d++ {
		parts = append(parts, fmt.Sprintf(`{"day":%d,"theme":"Kyoto day %d","activities":[`+
			`{"time":"Morning","description":"Shrine walk","location":"Fushimi Inari"},`+
			`{"time":"Afternoon","description":"Bamboo grove","location":"Arashiyama"},`+
			`{"time":"Evening","description":"Dinner","location":"Pontocho"}]}`, d, d))
	}
	return "```json\n[" + strings.Join(parts, ",") + "]\n```"
}

// newLLM answers every completion request with status and content.
func newLLM(t *testing.T, status int, content string) (*httptest.Server, *atomic.Int32) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = io.WriteString(w, `{"error":{"message":"overloaded"}}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

type pipeline struct {
	svc  *service.JobService
	repo *fsrepo.JobRepository
	pool *worker.Pool
}

func newPipeline(t *testing.T, llmURL string) *pipeline {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	store := firestoretest.NewServer()
	t.Cleanup(store.Close)
	client, err := fs.NewClient(context.Background(), fs.Config{BaseURL: store.BaseURL(), ProjectID: "test"}, firestoretest.StaticToken("tok"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	repo := fsrepo.NewJobRepository(client, "itineraries")

	noSleep := func(ctx context.Context, d time.Duration) error { return nil }
	gen := generation.NewClient(generation.Config{
		BaseURL: llmURL,
		APIKey:  "sk-test",
		Policy:  retry.Policy{MaxRetries: 3, BaseDelay: time.Second, Sleep: noSleep},
	}, log)

	pool := worker.NewPool(worker.NewProcessor(repo, gen, time.Minute, log), 2, 8, log)
	pool.Start()
	return &pipeline{svc: service.NewJobService(repo, pool), repo: repo, pool: pool}
}

func (p *pipeline) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.pool.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestPipeline_KyotoCompletes(t *testing.T) {
	llm, calls := newLLM(t, http.StatusOK, fourDayKyoto())
	p := newPipeline(t, llm.URL)
	ctx := context.Background()

	id, err := p.svc.CreateJob(ctx, service.CreateJobRequest{Destination: "Kyoto, Japan", DurationDays: 4})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	p.drain(t)

	job, err := p.svc.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != entity.StatusCompleted || job.CompletedAt == nil || job.Error != nil {
		t.Fatalf("expected completed job, got %#v", job)
	}
	if job.Destination != "Kyoto, Japan" || job.DurationDays != 4 {
		t.Fatalf("request fields changed: %#v", job)
	}
	if len(job.Itinerary) != 4 {
		t.Fatalf("expected 4 days, got %d", len(job.Itinerary))
	}
	for _, d := range job.Itinerary {
		seen := map[entity.TimeSlot]bool{}
		for _, a := range d.Activities {
			seen[a.Time] = true
		}
		if len(d.Activities) != 3 || !seen[entity.Morning] || !seen[entity.Afternoon] || !seen[entity.Evening] {
			t.Fatalf("day %d does not cover every slot: %#v", d.Day, d.Activities)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 completion call, got %d", calls.Load())
	}
}

func TestPipeline_ExhaustedRetriesFail(t *testing.T) {
	llm, calls := newLLM(t, http.StatusServiceUnavailable, "")
	p := newPipeline(t, llm.URL)
	ctx := context.Background()

	id, err := p.svc.CreateJob(ctx, service.CreateJobRequest{Destination: "Kyoto, Japan", DurationDays: 4})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	p.drain(t)

	job, err := p.svc.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != entity.StatusFailed || job.Error == nil || *job.Error == "" || job.CompletedAt == nil {
		t.Fatalf("expected failed job with message, got %#v", job)
	}
	if job.Itinerary != nil {
		t.Fatalf("expected no itinerary, got %#v", job.Itinerary)
	}
	if calls.Load() != 4 {
		t.Fatalf("expected 4 completion calls, got %d", calls.Load())
	}
}

func TestPipeline_CreateAfterShutdownFailsJob(t *testing.T) {
	llm, _ := newLLM(t, http.StatusOK, fourDayKyoto())
	p := newPipeline(t, llm.URL)
	p.drain(t)

	_, err := p.svc.CreateJob(context.Background(), service.CreateJobRequest{Destination: "Kyoto, Japan", DurationDays: 4})
	if err == nil {
		t.Fatalf("expected error after shutdown")
	}
}
