package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"itinerary-service/internal/entity"
	"itinerary-service/internal/repository"
	"itinerary-service/internal/service"
	httptransport "itinerary-service/internal/transport/http"
)

// ---- fakes ----

type memRepo struct {
	jobs map[uuid.UUID]*entity.Job
}

func (r *memRepo) Create(ctx context.Context, job *entity.Job) error {
	r.jobs[job.ID] = job
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	j, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return j, nil
}

func (r *memRepo) SetResultError(ctx context.Context, id uuid.UUID, errText string, completedAt time.Time) error {
	if j, ok := r.jobs[id]; ok {
		j.Status = entity.StatusFailed
		j.Error = &errText
	}
	return nil
}

type dispatcherStub struct {
	ids []uuid.UUID
	err error
}

func (d *dispatcherStub) Dispatch(job *entity.Job) error {
	if d.err != nil {
		return d.err
	}
	d.ids = append(d.ids, job.ID)
	return nil
}

// ---- helpers ----

func newTestRouter(repo *memRepo, disp *dispatcherStub) http.Handler {
	log := logrus.New()
	log.SetOutput(io.Discard)
	svc := service.NewJobService(repo, disp)
	return httptransport.Routes(httptransport.NewHandler(svc, log), log)
}

func newRepo() *memRepo {
	return &memRepo{jobs: map[uuid.UUID]*entity.Job{}}
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var got map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v, body=%s", err, rr.Body.String())
	}
	if got["error"] == "" {
		t.Fatalf("expected error field, body=%s", rr.Body.String())
	}
	return got
}

// ---- tests ----

func TestHTTP_CreateItinerary_202(t *testing.T) {
	repo := newRepo()
	disp := &dispatcherStub{}
	router := newTestRouter(repo, disp)

	rr := do(router, http.MethodPost, "/", `{"destination":"Kyoto, Japan","durationDays":4}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d, body=%s", rr.Code, rr.Body.String())
	}

	var resp struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json response: %v, body=%s", err, rr.Body.String())
	}
	id, err := uuid.Parse(resp.JobID)
	if err != nil {
		t.Fatalf("jobId is not a uuid: %q", resp.JobID)
	}
	if j := repo.jobs[id]; j == nil || j.Status != entity.StatusProcessing {
		t.Fatalf("expected processing job stored before the response, got %#v", j)
	}
	if len(disp.ids) != 1 || disp.ids[0] != id {
		t.Fatalf("expected job dispatched, got %#v", disp.ids)
	}

	rr = do(router, http.MethodGet, "/jobs/"+id.String(), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if got["status"] != "processing" || got["durationDays"] != float64(4) || got["destination"] != "Kyoto, Japan" {
		t.Fatalf("unexpected job view %v", got)
	}
}

func TestHTTP_CreateItinerary_400(t *testing.T) {
	cases := map[string]string{
		"invalid json":         `{"destination":`,
		"missing destination":  `{"durationDays":3}`,
		"non-string dest":      `{"destination":42,"durationDays":3}`,
		"zero days":            `{"destination":"Rome","durationDays":0}`,
		"thirty-one days":      `{"destination":"Rome","durationDays":31}`,
		"fractional days":      `{"destination":"Rome","durationDays":2.5}`,
		"string days":          `{"destination":"Rome","durationDays":"3"}`,
		"missing durationDays": `{"destination":"Rome"}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			repo := newRepo()
			disp := &dispatcherStub{}
			rr := do(newTestRouter(repo, disp), http.MethodPost, "/", body)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d, body=%s", rr.Code, rr.Body.String())
			}
			decodeError(t, rr)
			if len(repo.jobs) != 0 || len(disp.ids) != 0 {
				t.Fatalf("expected nothing created")
			}
		})
	}
}

func TestHTTP_CreateItinerary_503_WhenPoolClosed(t *testing.T) {
	repo := newRepo()
	rr := do(newTestRouter(repo, &dispatcherStub{err: errors.New("pool closed")}), http.MethodPost, "/", `{"destination":"Rome","durationDays":2}`)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d, body=%s", rr.Code, rr.Body.String())
	}
	decodeError(t, rr)
	for _, j := range repo.jobs {
		if j.Status != entity.StatusFailed {
			t.Fatalf("expected the stored job to be failed, got %s", j.Status)
		}
	}
}

func TestHTTP_Options_204(t *testing.T) {
	router := newTestRouter(newRepo(), &dispatcherStub{})

	for _, path := range []string{"/", "/jobs/abc"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		req.Header.Set("Origin", "https://planner.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Fatalf("%s: expected 204, got %d", path, rr.Code)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Fatalf("%s: expected permissive origin, got %q", path, got)
		}
		if got := rr.Header().Get("Access-Control-Allow-Methods"); got != http.MethodPost {
			t.Fatalf("%s: expected requested method allowed, got %q", path, got)
		}
		if n := len(rr.Header().Values("Access-Control-Allow-Origin")); n != 1 {
			t.Fatalf("%s: expected one Allow-Origin value, got %d", path, n)
		}
		if rr.Header().Get("Access-Control-Max-Age") != "300" {
			t.Fatalf("%s: expected max-age from the cors handler", path)
		}
	}
}

func TestHTTP_Options_WithoutPreflightHeaders(t *testing.T) {
	router := newTestRouter(newRepo(), &dispatcherStub{})

	rr := do(router, http.MethodOptions, "/jobs/abc", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestHTTP_CrossOriginGetCarriesOrigin(t *testing.T) {
	router := newTestRouter(newRepo(), &dispatcherStub{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://planner.example")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected 200 with permissive origin, got %d %q", rr.Code, rr.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestHTTP_OtherMethods_405(t *testing.T) {
	router := newTestRouter(newRepo(), &dispatcherStub{})

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		rr := do(router, method, "/", "")
		if rr.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: expected 405, got %d", method, rr.Code)
		}
	}
}

func TestHTTP_GetJob_Errors(t *testing.T) {
	router := newTestRouter(newRepo(), &dispatcherStub{})

	if rr := do(router, http.MethodGet, "/jobs/not-a-uuid", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if rr := do(router, http.MethodGet, "/jobs/"+uuid.NewString(), ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHTTP_GetItinerary(t *testing.T) {
	repo := newRepo()
	router := newTestRouter(repo, &dispatcherStub{})

	pending := entity.NewJob(uuid.New(), "Rome", 1, time.Now())
	repo.jobs[pending.ID] = pending

	rr := do(router, http.MethodGet, "/jobs/"+pending.ID.String()+"/itinerary", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d, body=%s", rr.Code, rr.Body.String())
	}

	done := entity.NewJob(uuid.New(), "Rome", 1, time.Now())
	done.Status = entity.StatusCompleted
	done.Itinerary = []entity.Day{{Day: 1, Theme: "Ancient Rome", Activities: []entity.Activity{
		{Time: entity.Morning, Description: "Colosseum", Location: "Colosseum"},
		{Time: entity.Afternoon, Description: "Forum", Location: "Roman Forum"},
		{Time: entity.Evening, Description: "Trastevere dinner", Location: "Trastevere"},
	}}}
	repo.jobs[done.ID] = done

	rr = do(router, http.MethodGet, "/jobs/"+done.ID.String()+"/itinerary", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	var days []entity.Day
	if err := json.Unmarshal(rr.Body.Bytes(), &days); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(days) != 1 || days[0].Theme != "Ancient Rome" {
		t.Fatalf("unexpected itinerary %#v", days)
	}
}

func TestHTTP_Health(t *testing.T) {
	rr := do(newTestRouter(newRepo(), &dispatcherStub{}), http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", rr.Code, rr.Body.String())
	}
}
