package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/coldroot-labs/barc/internal/job"
	"github.com/coldroot-labs/barc/internal/runner"
)

// JobHandler exposes a read-only view of the job registry plus the
// admin actions (manual trigger, abort) that internal/runner provides.
type JobHandler struct {
	registry *job.Registry
	runner   *runner.Runner
	logger   *zap.Logger
}

// NewJobHandler returns a JobHandler.
func NewJobHandler(registry *job.Registry, runner *runner.Runner, logger *zap.Logger) *JobHandler {
	return &JobHandler{registry: registry, runner: runner, logger: logger.Named("job_handler")}
}

type executionRecordResponse struct {
	Timestamp   time.Time `json:"timestamp"`
	ArchiveType string    `json:"archive_type"`
	State       string    `json:"state"`
	ErrorCode   int       `json:"error_code"`
	ErrorText   string    `json:"error_text,omitempty"`
}

type jobResponse struct {
	UUID                string                    `json:"uuid"`
	Name                string                    `json:"name"`
	SlaveHost           string                    `json:"slave_host,omitempty"`
	Destination         string                    `json:"destination"`
	State               string                    `json:"state"`
	LastExecutedOverall time.Time                 `json:"last_executed_overall,omitempty"`
	LastExecuted        []executionRecordResponse `json:"last_executed,omitempty"`
}

func toExecutionRecordResponse(r job.ExecutionRecord) executionRecordResponse {
	return executionRecordResponse{
		Timestamp:   r.Timestamp,
		ArchiveType: r.ArchiveType.String(),
		State:       r.State.String(),
		ErrorCode:   r.ErrorCode,
		ErrorText:   r.ErrorText,
	}
}

func toJobResponse(j *job.Job) jobResponse {
	resp := jobResponse{
		UUID:                j.UUID,
		Name:                j.Name,
		SlaveHost:           j.SlaveHost.Name,
		Destination:         j.Destination,
		State:               j.Activity().State.String(),
		LastExecutedOverall: j.LastExecutedOverall,
	}
	for _, rec := range j.LastExecuted {
		resp.LastExecuted = append(resp.LastExecuted, toExecutionRecordResponse(rec))
	}
	return resp
}

// List handles GET /api/v1/jobs.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.registry.Jobs()
	items := make([]jobResponse, len(jobs))
	for i, j := range jobs {
		items[i] = toJobResponse(j)
	}
	ok(w, items)
}

// GetByID handles GET /api/v1/jobs/{uuid}.
func (h *JobHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	j, found := h.lookup(w, r)
	if !found {
		return
	}
	ok(w, toJobResponse(j))
}

type runningInfoResponse struct {
	FilesDone   uint64  `json:"files_done"`
	FilesTotal  uint64  `json:"files_total"`
	BytesDone   uint64  `json:"bytes_done"`
	BytesTotal  uint64  `json:"bytes_total"`
	CurrentFile string  `json:"current_file,omitempty"`
	ErrorCount  uint64  `json:"error_count"`
	RateBytesPS float64 `json:"rate_bytes_per_sec"`
	ETASeconds  float64 `json:"eta_seconds,omitempty"`
}

// GetRunning handles GET /api/v1/jobs/{uuid}/running: the current
// runninginfo.Snapshot for a WAITING/RUNNING job, polled by the admin
// UI as a fallback to the websocket feed.
func (h *JobHandler) GetRunning(w http.ResponseWriter, r *http.Request) {
	j, found := h.lookup(w, r)
	if !found {
		return
	}

	tracker := h.runner.Tracker(j)
	snap := tracker.Current()
	resp := runningInfoResponse{
		FilesDone:   snap.FilesDone,
		FilesTotal:  snap.FilesTotal,
		BytesDone:   snap.BytesDone,
		BytesTotal:  snap.BytesTotal,
		CurrentFile: snap.CurrentFile,
		ErrorCount:  snap.ErrorCount,
		RateBytesPS: tracker.Rate(),
	}
	if eta, known := tracker.ETA(); known {
		resp.ETASeconds = eta.Seconds()
	}
	ok(w, resp)
}

type triggerRequest struct {
	ArchiveType string `json:"archive_type"`
	CustomText  string `json:"custom_text,omitempty"`
	DryRun      bool   `json:"dry_run,omitempty"`
}

// Trigger handles POST /api/v1/jobs/{uuid}/trigger: an admin-initiated
// manual run outside the schedule loop.
func (h *JobHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	j, found := h.lookup(w, r)
	if !found {
		return
	}

	var req triggerRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}

	archiveType := job.ArchiveFull
	if req.ArchiveType != "" {
		at, okParsed := job.ParseArchiveType(req.ArchiveType)
		if !okParsed {
			errBadRequest(w, "unknown archive_type: "+req.ArchiveType)
			return
		}
		archiveType = at
	}

	byName := "admin"
	if claims := claimsFromCtx(r.Context()); claims != nil {
		byName = claims.Email
	}

	go func() {
		if err := h.runner.TriggerManual(r.Context(), j, archiveType, req.CustomText, byName, req.DryRun); err != nil {
			h.logger.Warn("manual trigger failed", zap.String("job_uuid", j.UUID), zap.Error(err))
		}
	}()
	ok(w, toJobResponse(j))
}

// Abort handles POST /api/v1/jobs/{uuid}/abort.
func (h *JobHandler) Abort(w http.ResponseWriter, r *http.Request) {
	j, found := h.lookup(w, r)
	if !found {
		return
	}

	byName := "admin"
	if claims := claimsFromCtx(r.Context()); claims != nil {
		byName = claims.Email
	}

	if err := h.runner.Abort(j, byName); err != nil {
		h.logger.Warn("abort did not complete in time", zap.String("job_uuid", j.UUID), zap.Error(err))
		errJSON(w, http.StatusAccepted, err.Error(), "abort_pending")
		return
	}
	ok(w, toJobResponse(j))
}

func (h *JobHandler) lookup(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	id := chi.URLParam(r, "uuid")
	j, found := h.registry.Lookup(id)
	if !found {
		errNotFound(w)
		return nil, false
	}
	return j, true
}
