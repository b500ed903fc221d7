// Package httpx provides the HTTP boundary of the job orchestration core.
package httpx

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/contentops/jobcore/internal/core"
	"github.com/contentops/jobcore/internal/data"
	"github.com/contentops/jobcore/internal/domain/model"
	"github.com/contentops/jobcore/internal/service"
)

// JobHandlers provides HTTP handlers for job operations.
type JobHandlers struct {
	Store     core.JobStore
	Triggerer core.JobTriggerer
	Canceller core.JobCanceller
}

// TriggerRequest is the body of a trigger call. All fields are optional.
type TriggerRequest struct {
	Scope        map[string]string `json:"scope"`
	Metadata     map[string]any    `json:"metadata"`
	AllowOverlap bool              `json:"allow_overlap"`
}

// Trigger starts a job on demand. An occupied single-flight slot yields a
// conflict carrying the id of the run already in flight.
func (h *JobHandlers) Trigger(w http.ResponseWriter, r *http.Request) {
	jobType := model.JobType(r.PathValue("type"))
	if !jobType.Valid() {
		WriteError(w, ErrorParams{
			Code: http.StatusBadRequest, ErrCode: "invalid_path",
			Err: errors.New("job type is required"),
		})
		return
	}

	var req TriggerRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	rec, err := h.Triggerer.TriggerOnDemand(r.Context(), core.TriggerParams{
		Type:         jobType,
		Scope:        model.Scope(req.Scope),
		Metadata:     req.Metadata,
		AllowOverlap: req.AllowOverlap,
	})
	if err != nil {
		h.writeTriggerError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, rec)
}

func (h *JobHandlers) writeTriggerError(w http.ResponseWriter, err error) {
	var conflict *data.ConflictError
	switch {
	case errors.As(err, &conflict):
		WriteJSON(w, http.StatusConflict, map[string]string{
			"error":       "already_running",
			"existing_id": conflict.ExistingID,
		})
	case errors.Is(err, service.ErrUnknownJobType):
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "unknown_job_type", Err: err})
	default:
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "trigger_failed", Err: err})
	}
}

// Get returns a single job record.
func (h *JobHandlers) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "get_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// List returns job records matching the query, newest first.
// Query params: type, status (comma list), scope (repeated "dim:value"),
// limit.
func (h *JobHandlers) List(w http.ResponseWriter, r *http.Request) {
	filter, err := listFilterFromQuery(r)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_query", Err: err})
		return
	}
	h.list(w, r, filter)
}

// Active returns pending and running job records.
func (h *JobHandlers) Active(w http.ResponseWriter, r *http.Request) {
	filter, err := listFilterFromQuery(r)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_query", Err: err})
		return
	}
	filter.Statuses = []model.JobStatus{model.JobStatusPending, model.JobStatusRunning}
	h.list(w, r, filter)
}

func (h *JobHandlers) list(w http.ResponseWriter, r *http.Request, filter model.JobListFilter) {
	records, err := h.Store.List(r.Context(), filter)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "list_failed", Err: err})
		return
	}
	if records == nil {
		records = []*model.JobRecord{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": records})
}

// Cancel requests cancellation of one job. A terminal record is reported
// as not modified rather than failing.
func (h *JobHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	ok, err := h.Canceller.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "cancel_failed", Err: err})
		return
	}

	if !ok {
		WriteJSON(w, http.StatusOK, map[string]any{"cancelled": false, "reason": "not modified"})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

// CancelByTypeRequest narrows a bulk cancel.
type CancelByTypeRequest struct {
	MetadataFilter string `json:"metadata_filter"`
	Reason         string `json:"reason"`
}

// CancelByType bulk-cancels non-terminal jobs of one type.
func (h *JobHandlers) CancelByType(w http.ResponseWriter, r *http.Request) {
	jobType := model.JobType(r.PathValue("type"))
	if !jobType.Valid() {
		WriteError(w, ErrorParams{
			Code: http.StatusBadRequest, ErrCode: "invalid_path",
			Err: errors.New("job type is required"),
		})
		return
	}

	var req CancelByTypeRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	n, err := h.Canceller.CancelByType(r.Context(), model.CancelByTypeParams{
		Type:           jobType,
		MetadataFilter: req.MetadataFilter,
		Reason:         req.Reason,
	})
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "cancel_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"cancelled": n})
}

func listFilterFromQuery(r *http.Request) (model.JobListFilter, error) {
	q := r.URL.Query()
	filter := model.JobListFilter{Type: model.JobType(q.Get("type"))}

	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := model.JobStatus(strings.TrimSpace(part))
			if !status.Valid() {
				return filter, errors.New("unknown status: " + string(status))
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	for _, pair := range q["scope"] {
		dim, value, ok := strings.Cut(pair, ":")
		if !ok || dim == "" {
			return filter, errors.New("scope must be dim:value, got: " + pair)
		}
		if filter.Scope == nil {
			filter.Scope = model.Scope{}
		}
		filter.Scope[dim] = value
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, errors.New("limit must be a positive integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}
