package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/vertextoedge/media-vault/internal/domain"
	"github.com/vertextoedge/media-vault/internal/domain/vo"
	"github.com/vertextoedge/media-vault/internal/service/orchestrator"
)

const maxRequestBody = 64 * 1024

// JobService is the write path used by DownloadHandler
type JobService interface {
	Submit(identity vo.Identity, source, format string) (*orchestrator.SubmitResult, error)
	Get(id string) (domain.DownloadJob, error)
	List(identity vo.Identity, limit int) ([]domain.DownloadJob, error)
	Subscribe(id string) (<-chan domain.JobEvent, func(), error)
	GetStats() (map[string]interface{}, error)
}

// DownloadRequest is the body of POST /media/download
type DownloadRequest struct {
	SourceReference string `json:"sourceReference" validate:"required,max=2048"`
	DesiredFormat   string `json:"desiredFormat" validate:"omitempty,oneof=mp3 m4a opus aac flac wav"`
}

// DownloadHandler handles download job requests
type DownloadHandler struct {
	jobs      JobService
	listLimit int
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewDownloadHandler creates a new DownloadHandler
func NewDownloadHandler(jobs JobService, listLimit int, logger *zap.Logger) *DownloadHandler {
	if listLimit <= 0 {
		listLimit = 50
	}
	return &DownloadHandler{
		jobs:      jobs,
		listLimit: listLimit,
		validate:  validator.New(),
		logger:    logger,
	}
}

type jobView struct {
	ID          string     `json:"id"`
	ContentID   string     `json:"contentId"`
	SourceURL   string     `json:"sourceUrl"`
	Format      string     `json:"format"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Progress    float64    `json:"progress"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"maxAttempts"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// newJobView omits the asset path, which is internal
func newJobView(j domain.DownloadJob) jobView {
	return jobView{
		ID:          j.ID,
		ContentID:   j.Source.ContentID,
		SourceURL:   j.Source.URL,
		Format:      j.Format.String(),
		Name:        j.LogicalName,
		Status:      string(j.Status),
		Progress:    j.Progress,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		Error:       j.LastError,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		FinishedAt:  j.FinishedAt,
	}
}

type eventView struct {
	JobID    string  `json:"jobId"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Attempt  int     `json:"attempt"`
	Error    string  `json:"error,omitempty"`
}

// HandleSubmit handles POST /media/download.
// Returns 202 for a queued or already active job, 200 when the asset already exists.
func (h *DownloadHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	var req DownloadRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, h.logger, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, h.logger, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}

	result, err := h.jobs.Submit(identity, req.SourceReference, req.DesiredFormat)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	status := http.StatusAccepted
	if result.Job.Status == domain.JobStatusSucceeded {
		status = http.StatusOK
	}

	h.logger.Info("download submitted",
		zap.String("job_id", result.Job.ID),
		zap.String("identity", identity.String()),
		zap.String("name", result.Job.LogicalName),
		zap.Bool("created", result.Created),
		zap.String("status", string(result.Job.Status)))

	w.Header().Set("Location", "/media/download/"+result.Job.ID)
	writeJSON(w, status, newJobView(result.Job))
}

// HandleGet handles GET /media/download/{id}
func (h *DownloadHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

// HandleList handles GET /media/jobs?limit=N
func (h *DownloadHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	limit := h.listLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, h.logger, fmt.Errorf("%w: limit must be a positive integer", domain.ErrInvalidInput))
			return
		}
		limit = min(n, h.listLimit)
	}

	jobs, err := h.jobs.List(identity, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs": lo.Map(jobs, func(j domain.DownloadJob, _ int) jobView {
			return newJobView(j)
		}),
	})
}

// HandleEvents handles GET /media/download/{id}/events as a server-sent event stream.
// The stream ends after the terminal event or when the client goes away.
func (h *DownloadHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, h.logger, errors.New("response writer does not support flushing"))
		return
	}

	events, cancel, err := h.jobs.Subscribe(job.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	defer cancel()

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(eventView{
				JobID:    ev.JobID,
				Status:   string(ev.Status),
				Progress: ev.Progress,
				Attempt:  ev.Attempt,
				Error:    ev.Error,
			})
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Status, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// ownedJob loads the job named by the path and checks it belongs to the caller
func (h *DownloadHandler) ownedJob(w http.ResponseWriter, r *http.Request) (domain.DownloadJob, bool) {
	identity, _ := IdentityFrom(r.Context())

	job, err := h.jobs.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return domain.DownloadJob{}, false
	}
	if job.Identity != identity.String() {
		writeError(w, r, h.logger, fmt.Errorf("%w: job belongs to another identity", domain.ErrForbidden))
		return domain.DownloadJob{}, false
	}
	return job, true
}
