package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"itinerary-service/internal/entity"
	"itinerary-service/internal/repository"
	"itinerary-service/internal/service"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	jobSvc *service.JobService
	log    logrus.FieldLogger
}

func NewHandler(jobSvc *service.JobService, log logrus.FieldLogger) *Handler {
	return &Handler{jobSvc: jobSvc, log: log}
}

type createItineraryDTO struct {
	Destination  string `json:"destination"`
	DurationDays int    `json:"durationDays"`
}

type createItineraryResp struct {
	JobID string `json:"jobId"`
}

// CreateItinerary godoc
// @Summary Request an itinerary
// @Description Stores a processing job and generates the itinerary in the background.
// @Tags itineraries
// @Accept json
// @Produce json
// @Param request body createItineraryDTO true "destination and number of days (1-30)"
// @Success 202 {object} createItineraryResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Failure 503 {object} apiError
// @Router / [post]
func (h *Handler) CreateItinerary(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var dto createItineraryDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json", err.Error())
		return
	}

	id, err := h.jobSvc.CreateJob(r.Context(), service.CreateJobRequest{
		Destination:  dto.Destination,
		DurationDays: dto.DurationDays,
	})
	if err != nil {
		var verr *service.ValidationError
		switch {
		case errors.As(err, &verr):
			writeErr(w, http.StatusBadRequest, "invalid request", verr.Error())
		case errors.Is(err, service.ErrDispatch):
			h.log.WithError(err).Error("[http] dispatch job")
			writeErr(w, http.StatusServiceUnavailable, "service is shutting down", err.Error())
		default:
			h.log.WithError(err).Error("[http] create job")
			writeErr(w, http.StatusInternalServerError, "internal error", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, createItineraryResp{JobID: id.String()})
}

// GetJob godoc
// @Summary Get itinerary job by id
// @Tags itineraries
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} entity.Job
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	j, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// GetItinerary godoc
// @Summary Get the generated itinerary
// @Tags itineraries
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {array} entity.Day
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/itinerary [get]
func (h *Handler) GetItinerary(w http.ResponseWriter, r *http.Request) {
	j, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	if j.Status != entity.StatusCompleted {
		writeErr(w, http.StatusConflict, "job not completed", "status is "+string(j.Status))
		return
	}
	writeJSON(w, http.StatusOK, j.Itinerary)
}

func (h *Handler) loadJob(w http.ResponseWriter, r *http.Request) (*entity.Job, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id", "")
		return nil, false
	}

	j, err := h.jobSvc.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "job not found", "")
			return nil, false
		}
		h.log.WithError(err).WithField("job_id", id.String()).Error("[http] get job")
		writeErr(w, http.StatusInternalServerError, "internal error", err.Error())
		return nil, false
	}
	return j, true
}

func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeErr(w, http.StatusMethodNotAllowed, "method not allowed", r.Method)
}
