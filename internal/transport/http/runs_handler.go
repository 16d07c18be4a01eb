package http

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/artifacts"
	apierrors "github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/infrastructure"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/operations"
)

// RunsResponse is the body of GET /runs. Stats counts every job by status,
// regardless of the filter.
type RunsResponse struct {
	Jobs  []*operations.Job            `json:"jobs"`
	Stats map[operations.JobStatus]int `json:"stats"`
	Runs  []*operations.RunSnapshot    `json:"runs"`
}

// RunDetail is the body of GET /runs/{id}. Live is absent once the process
// that executed the run is gone; Manifest is absent until the run dir exists.
// Job is the batch entry that produced the run, once that entry has finished.
type RunDetail struct {
	Job      *operations.Job         `json:"job,omitempty"`
	Live     *operations.RunSnapshot `json:"live,omitempty"`
	Manifest *artifacts.Manifest     `json:"manifest,omitempty"`
}

// GraphResponse is the body of GET /runs/{id}/graph
type GraphResponse struct {
	Graph    artifacts.Graph `json:"graph"`
	Verified bool            `json:"verified"`
	Error    string          `json:"error,omitempty"`
}

// RunsHandler serves run state from the job store, the broadcaster and the
// artifact root
type RunsHandler struct {
	jobs        operations.JobStore
	broadcaster *operations.StatusBroadcaster
	root        string
	logger      *slog.Logger
}

// NewRunsHandler creates a runs handler; jobs and broadcaster may be nil
func NewRunsHandler(jobs operations.JobStore, broadcaster *operations.StatusBroadcaster, root string, logger *slog.Logger) *RunsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunsHandler{
		jobs:        jobs,
		broadcaster: broadcaster,
		root:        root,
		logger:      logger.With(slog.String("handler", "runs")),
	}
}

// Routes returns the runs routes
func (h *RunsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListRuns)
	r.Get("/{id}", h.GetRun)
	r.Get("/{id}/graph", h.GetGraph)
	return r
}

// ListRuns handles GET /runs. ?status= filters jobs, ?limit= caps them.
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	resp := RunsResponse{
		Jobs:  []*operations.Job{},
		Stats: map[operations.JobStatus]int{},
		Runs:  []*operations.RunSnapshot{},
	}

	if h.jobs != nil {
		filter := operations.JobFilter{Status: operations.JobStatus(r.URL.Query().Get("status"))}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 0 {
				render.Render(w, r, apierrors.NewErrorResponse(
					apierrors.NewWithDetails(http.StatusBadRequest, "INVALID_PARAMETER", "limit must be a non-negative integer", raw)))
				return
			}
			filter.Limit = limit
		}
		jobs, err := h.jobs.ListJobs(filter)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "Failed to list jobs", slog.String("error", err.Error()))
			render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInternalServer))
			return
		}
		resp.Jobs = jobs
		resp.Stats = h.jobs.GetStats()
	}

	if h.broadcaster != nil {
		resp.Runs = h.broadcaster.GetAllSnapshots()
		sort.Slice(resp.Runs, func(i, j int) bool {
			return resp.Runs[i].StartedAt.Before(resp.Runs[j].StartedAt)
		})
	}

	render.JSON(w, r, resp)
}

// GetRun handles GET /runs/{id}
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}

	var detail RunDetail
	if h.jobs != nil {
		if job, err := h.jobs.FindByRunID(id); err == nil {
			detail.Job = job
		}
	}
	if h.broadcaster != nil {
		if snap, found := h.broadcaster.GetSnapshot(id); found {
			detail.Live = snap
		}
	}

	mf, err := artifacts.LoadManifest(filepath.Join(h.root, id))
	switch {
	case err == nil:
		detail.Manifest = mf
	case errors.Is(err, os.ErrNotExist):
	default:
		infrastructure.LoggerWithContext(r.Context(), h.logger).WarnContext(r.Context(), "Failed to load manifest",
			slog.String("run_id", id),
			slog.String("error", err.Error()))
	}

	if detail.Job == nil && detail.Live == nil && detail.Manifest == nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrRunNotFound))
		return
	}
	render.JSON(w, r, detail)
}

// GetJob handles GET /jobs/{id}
func (h *RunsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.jobs == nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrJobNotFound))
		return
	}
	job, err := h.jobs.GetJob(id)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrJobNotFound))
		return
	}
	render.JSON(w, r, job)
}

// GetGraph handles GET /runs/{id}/graph. A digest mismatch still returns the
// graph, with Verified false and the mismatch in Error.
func (h *RunsHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}

	graph, mf, err := artifacts.Replay(filepath.Join(h.root, id))
	if mf == nil {
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			h.logger.WarnContext(r.Context(), "Failed to replay run",
				slog.String("run_id", id),
				slog.String("error", err.Error()))
		}
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrRunNotFound))
		return
	}

	resp := GraphResponse{Graph: graph, Verified: err == nil}
	if err != nil {
		resp.Graph = artifacts.BuildGraph(mf)
		resp.Error = err.Error()
	}
	render.JSON(w, r, resp)
}

// runID extracts the {id} parameter, rejecting anything that is not a single
// path element under the artifact root
func (h *RunsHandler) runID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id {
		render.Render(w, r, apierrors.NewErrorResponse(
			apierrors.NewWithDetails(http.StatusBadRequest, "INVALID_PARAMETER", "invalid run id", id)))
		return "", false
	}
	return id, true
}
