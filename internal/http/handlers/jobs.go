package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"server/internal/domain"
	"server/internal/middleware"
)

type submitRequest struct {
	City     string `json:"city" validate:"required,min=1,max=120"`
	Country  string `json:"country" validate:"omitempty,max=120"`
	DeviceID string `json:"device_id" validate:"omitempty,min=8,max=64,alphanumunicode|uuid"`
	Type     string `json:"type" validate:"omitempty,oneof=image video"`
}

type submitResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	StatusURL string `json:"status_url"`
}

// SubmitJob admits a generation job for the authenticated caller. Standard
// callers with an active job get 429 carrying that job's id.
func (a *App) SubmitJob(w http.ResponseWriter, r *http.Request) {
	ownerHash := middleware.OwnerHashFromContext(r.Context())
	if ownerHash == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing caller identity")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			// City and device-id failures carry distinct codes.
			switch fieldErrs[0].Field() {
			case "City":
				a.error(w, http.StatusBadRequest, "invalid_city", "city is required and must be at most 120 characters")
			case "DeviceID":
				a.error(w, http.StatusBadRequest, "invalid_device", "device_id must be 8-64 alphanumeric characters or a uuid")
			default:
				a.error(w, http.StatusBadRequest, "bad_request", fieldErrs[0].Error())
			}
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	jobType := domain.JobType(req.Type)
	if jobType == "" {
		jobType = domain.JobTypeImage
	}
	country := req.Country
	if country == "" {
		country = a.countryHint(r)
	}

	jobID, err := a.Admission.AdmitOwnerJob(r.Context(), ownerHash, req.City, country, jobType)
	if err != nil {
		var rl *domain.RateLimitError
		if errors.As(err, &rl) {
			a.Metrics.Admission("owner", "rejected")
			a.json(w, http.StatusTooManyRequests, map[string]any{
				"error": map[string]string{
					"code":    "rate_limited",
					"message": "an active job already exists for this caller",
				},
				"existing_job_id": rl.ExistingJobID,
			})
			return
		}
		a.Logger.Error().Err(err).Str("city", req.City).Msg("submit: admission failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}
	a.Metrics.Admission("owner", "admitted")
	if a.OnTrigger != nil {
		a.OnTrigger(jobID)
	}

	a.json(w, http.StatusAccepted, submitResponse{
		JobID:     jobID,
		Status:    string(domain.JobStatusPending),
		StatusURL: "/v1/jobs/" + jobID,
	})
}

// PollJob reports job progress. A job owned by someone else answers exactly
// like a nonexistent one.
func (a *App) PollJob(w http.ResponseWriter, r *http.Request) {
	ownerHash := middleware.OwnerHashFromContext(r.Context())
	if ownerHash == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing caller identity")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}

	job, err := a.Ledger.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("poll: ledger read failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	if job.OwnerKeyHash != ownerHash && !middleware.PrivilegedFromContext(r.Context()) {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}

	resp := map[string]any{
		"job_id": job.ID,
		"status": string(job.Status),
	}
	switch job.Status {
	case domain.JobStatusProcessing:
		resp["stage"] = string(job.Stage)
		resp["progress"] = domain.ProgressFor(job.Stage, job.Type)
	case domain.JobStatusCompleted:
		resp["result"] = map[string]any{
			"artifact_url": job.ArtifactURL(),
			"image_url":    job.ImageURL,
			"video_url":    job.VideoURL,
			"weather":      job.Weather,
			"cached":       job.Cached,
		}
		resp["completed_at"] = job.CompletedAt
	case domain.JobStatusFailed:
		resp["error"] = map[string]any{
			"message": job.ErrorMessage,
			"stage":   string(job.FailedStage),
		}
	}
	a.json(w, http.StatusOK, resp)
}

// RetryJob resets a failed job to pending. Operator action, privileged keys
// only.
func (a *App) RetryJob(w http.ResponseWriter, r *http.Request) {
	if !middleware.PrivilegedFromContext(r.Context()) {
		a.error(w, http.StatusForbidden, "forbidden", "privileged key required")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	if err := a.Ledger.ResetForRetry(r.Context(), jobID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusConflict, "not_retryable", "job does not exist or is not failed")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("retry: reset failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to reset job")
		return
	}
	if a.OnTrigger != nil {
		a.OnTrigger(jobID)
	}
	a.json(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(domain.JobStatusPending)})
}

// countryHint best-efforts a country code from the client IP. Lookup errors
// just mean no hint.
func (a *App) countryHint(r *http.Request) string {
	if a.GeoIP == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	code, err := a.GeoIP.CountryCode(host)
	if err != nil {
		return ""
	}
	return code
}
