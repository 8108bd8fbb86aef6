package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/3leaps/hepgrid/internal/server/middleware"
	"github.com/3leaps/hepgrid/pkg/jobstore"
	"github.com/3leaps/hepgrid/pkg/pipeline"
	"github.com/3leaps/hepgrid/pkg/scheduler"
)

// RunsHandler serves the stored job records. It never talks to a
// scheduler; reconciliation is done by stats and watch.
type RunsHandler struct {
	Store   *jobstore.Store
	Tables  map[scheduler.Kind]string
	Default scheduler.Kind
	States  *pipeline.StateStore
	Logger  *zap.Logger
}

// RunDetail is the body of GET /runs/{id}.
type RunDetail struct {
	Backend scheduler.Kind      `json:"backend"`
	Record  jobstore.Record     `json:"record"`
	Counts  *jobstore.Counts    `json:"counts,omitempty"`
	Jobs    []jobstore.JobState `json:"jobs,omitempty"`
}

// Routes mounts the handler on r.
func (h *RunsHandler) Routes(r chi.Router) {
	r.Get("/runs", h.List)
	r.Get("/runs/{id}", h.Get)
	r.Get("/runs/{id}/jobs", h.Jobs)
	r.Get("/pipeline", h.Pipeline)
}

func (h *RunsHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h *RunsHandler) table(w http.ResponseWriter, r *http.Request) (scheduler.Kind, string, bool) {
	kind := h.Default
	if raw := r.URL.Query().Get("backend"); raw != "" {
		k, err := scheduler.ParseKind(raw)
		if err != nil {
			middleware.WriteError(w, r, http.StatusBadRequest, CodeValidation, err.Error(), map[string]any{"field": "backend"})
			return "", "", false
		}
		kind = k
	}
	table, ok := h.Tables[kind]
	if !ok {
		middleware.WriteError(w, r, http.StatusBadRequest, CodeValidation, "backend has no table", map[string]any{"backend": string(kind)})
		return "", "", false
	}
	return kind, table, true
}

func (h *RunsHandler) recordID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		middleware.WriteError(w, r, http.StatusBadRequest, CodeValidation, "record id must be a positive integer", map[string]any{"field": "id"})
		return 0, false
	}
	return id, true
}

func (h *RunsHandler) internal(w http.ResponseWriter, r *http.Request, err error) {
	h.logger().Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
	middleware.WriteError(w, r, http.StatusInternalServerError, CodeInternal, err.Error(), nil)
}

// List serves GET /runs?backend=&all=&jobtype=&runcard=.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	kind, table, ok := h.table(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := jobstore.ListFilter{
		Runcard:   q.Get("runcard"),
		RunFolder: q.Get("runfolder"),
	}
	if all, err := strconv.ParseBool(q.Get("all")); err == nil {
		filter.IncludeInactive = all
	}
	if raw := q.Get("jobtype"); raw != "" {
		jt, err := jobstore.ParseJobType(raw)
		if err != nil {
			middleware.WriteError(w, r, http.StatusBadRequest, CodeValidation, err.Error(), map[string]any{"field": "jobtype"})
			return
		}
		filter.JobType = jt
	}

	records, err := h.Store.List(r.Context(), table, filter)
	if err != nil {
		h.internal(w, r, err)
		return
	}
	if records == nil {
		records = []jobstore.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"backend": kind, "records": records})
}

// Get serves GET /runs/{id} with the stored counts and per-job breakdown.
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	kind, table, ok := h.table(w, r)
	if !ok {
		return
	}
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	rec, err := h.Store.Get(r.Context(), table, id)
	if jobstore.IsNotFound(err) {
		middleware.WriteError(w, r, http.StatusNotFound, CodeNotFound, err.Error(), map[string]any{"id": id})
		return
	}
	if err != nil {
		h.internal(w, r, err)
		return
	}
	detail := RunDetail{Backend: kind, Record: *rec}
	if rec.SubStatus != "" {
		if c, err := jobstore.ParseCounts(rec.SubStatus); err == nil {
			detail.Counts = &c
		}
	}
	if detail.Jobs, err = h.Store.JobStates(r.Context(), table, id); err != nil {
		h.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Jobs serves GET /runs/{id}/jobs.
func (h *RunsHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	_, table, ok := h.table(w, r)
	if !ok {
		return
	}
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	if _, err := h.Store.Get(r.Context(), table, id); err != nil {
		if jobstore.IsNotFound(err) {
			middleware.WriteError(w, r, http.StatusNotFound, CodeNotFound, err.Error(), map[string]any{"id": id})
			return
		}
		h.internal(w, r, err)
		return
	}
	states, err := h.Store.JobStates(r.Context(), table, id)
	if err != nil {
		h.internal(w, r, err)
		return
	}
	if states == nil {
		states = []jobstore.JobState{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "jobs": states})
}

// Pipeline serves GET /pipeline with every stored lifecycle state.
func (h *RunsHandler) Pipeline(w http.ResponseWriter, r *http.Request) {
	if h.States == nil {
		writeJSON(w, http.StatusOK, map[string]any{"states": []pipeline.RunState{}})
		return
	}
	states, err := h.States.List()
	if err != nil {
		h.internal(w, r, err)
		return
	}
	if states == nil {
		states = []pipeline.RunState{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"states": states})
}
