package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/contentops/jobcore/internal/core"
	"github.com/contentops/jobcore/internal/data"
	"github.com/contentops/jobcore/internal/domain/model"
	"github.com/contentops/jobcore/internal/mocks"
	"github.com/contentops/jobcore/internal/service"
)

type routerMocks struct {
	store     *mocks.MockJobStore
	triggerer *mocks.MockJobTriggerer
	canceller *mocks.MockJobCanceller
	handler   http.Handler
}

func newRouterMocks(t *testing.T) *routerMocks {
	t.Helper()
	ctrl := gomock.NewController(t)

	m := &routerMocks{
		store:     mocks.NewMockJobStore(ctrl),
		triggerer: mocks.NewMockJobTriggerer(ctrl),
		canceller: mocks.NewMockJobCanceller(ctrl),
	}
	m.handler = NewRouter(RouterServices{
		Store:     m.store,
		Triggerer: m.triggerer,
		Canceller: m.canceller,
		Registry:  core.NewRegistry(),
	})
	return m
}

func (m *routerMocks) do(method, path, body string) *httptest.ResponseRecorder {
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	m.handler.ServeHTTP(rec, req)
	return rec
}

func TestTriggerAccepted(t *testing.T) {
	m := newRouterMocks(t)

	m.triggerer.EXPECT().
		TriggerOnDemand(gomock.Any(), core.TriggerParams{
			Type:     "sync_catalog",
			Scope:    model.Scope{"tenant": "acme"},
			Metadata: map[string]any{"requested_by": "ops"},
		}).
		Return(&model.JobRecord{ID: "job-1", Type: "sync_catalog", Status: model.JobStatusPending}, nil)

	rec := m.do(http.MethodPost, "/api/job-types/sync_catalog/trigger",
		`{"scope": {"tenant": "acme"}, "metadata": {"requested_by": "ops"}}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var body model.JobRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "job-1", body.ID)
}

func TestTriggerConflict(t *testing.T) {
	m := newRouterMocks(t)

	m.triggerer.EXPECT().
		TriggerOnDemand(gomock.Any(), gomock.Any()).
		Return(nil, &data.ConflictError{ExistingID: "job-0"})

	rec := m.do(http.MethodPost, "/api/job-types/sync_catalog/trigger", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "already_running", body["error"])
	assert.Equal(t, "job-0", body["existing_id"])
}

func TestTriggerUnknownType(t *testing.T) {
	m := newRouterMocks(t)

	m.triggerer.EXPECT().
		TriggerOnDemand(gomock.Any(), gomock.Any()).
		Return(nil, service.ErrUnknownJobType)

	rec := m.do(http.MethodPost, "/api/job-types/nope/trigger", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJob(t *testing.T) {
	m := newRouterMocks(t)

	m.store.EXPECT().
		Get(gomock.Any(), "job-1").
		Return(&model.JobRecord{ID: "job-1", Status: model.JobStatusRunning}, nil)

	rec := m.do(http.MethodGet, "/api/jobs/job-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetJobNotFound(t *testing.T) {
	m := newRouterMocks(t)

	m.store.EXPECT().Get(gomock.Any(), "missing").Return(nil, data.ErrJobNotFound)

	rec := m.do(http.MethodGet, "/api/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListParsesQuery(t *testing.T) {
	m := newRouterMocks(t)

	m.store.EXPECT().
		List(gomock.Any(), model.JobListFilter{
			Type:     "sync_catalog",
			Statuses: []model.JobStatus{model.JobStatusCompleted, model.JobStatusFailed},
			Scope:    model.Scope{"tenant": "acme"},
			Limit:    10,
		}).
		Return(nil, nil)

	rec := m.do(http.MethodGet,
		"/api/jobs?type=sync_catalog&status=completed,failed&scope=tenant:acme&limit=10", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jobs": []}`, rec.Body.String())
}

func TestListRejectsBadStatus(t *testing.T) {
	m := newRouterMocks(t)

	rec := m.do(http.MethodGet, "/api/jobs?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRejectsBadScope(t *testing.T) {
	m := newRouterMocks(t)

	rec := m.do(http.MethodGet, "/api/jobs?scope=no-colon", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActiveForcesStatuses(t *testing.T) {
	m := newRouterMocks(t)

	m.store.EXPECT().
		List(gomock.Any(), model.JobListFilter{
			Statuses: []model.JobStatus{model.JobStatusPending, model.JobStatusRunning},
		}).
		Return([]*model.JobRecord{{ID: "job-1"}}, nil)

	rec := m.do(http.MethodGet, "/api/jobs/active", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCancelJob(t *testing.T) {
	m := newRouterMocks(t)

	m.canceller.EXPECT().Cancel(gomock.Any(), "job-1").Return(true, nil)

	rec := m.do(http.MethodPost, "/api/jobs/job-1/cancel", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cancelled": true}`, rec.Body.String())
}

func TestCancelTerminalJobNotModified(t *testing.T) {
	m := newRouterMocks(t)

	m.canceller.EXPECT().Cancel(gomock.Any(), "job-1").Return(false, nil)

	rec := m.do(http.MethodPost, "/api/jobs/job-1/cancel", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cancelled": false, "reason": "not modified"}`, rec.Body.String())
}

func TestCancelJobNotFound(t *testing.T) {
	m := newRouterMocks(t)

	m.canceller.EXPECT().Cancel(gomock.Any(), "missing").Return(false, data.ErrJobNotFound)

	rec := m.do(http.MethodPost, "/api/jobs/missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelByType(t *testing.T) {
	m := newRouterMocks(t)

	m.canceller.EXPECT().
		CancelByType(gomock.Any(), model.CancelByTypeParams{
			Type:           "sync_catalog",
			MetadataFilter: `trigger == 'scheduled'`,
			Reason:         "config changed",
		}).
		Return(int64(3), nil)

	rec := m.do(http.MethodPost, "/api/job-types/sync_catalog/cancel",
		`{"metadata_filter": "trigger == 'scheduled'", "reason": "config changed"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cancelled": 3}`, rec.Body.String())
}

func TestTriggerRejectsBadJSON(t *testing.T) {
	m := newRouterMocks(t)

	rec := m.do(http.MethodPost, "/api/job-types/sync_catalog/trigger", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerFailure(t *testing.T) {
	m := newRouterMocks(t)

	m.triggerer.EXPECT().
		TriggerOnDemand(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("scope dimension names must not contain '='"))

	rec := m.do(http.MethodPost, "/api/job-types/sync_catalog/trigger", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	m := newRouterMocks(t)

	rec := m.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok", "service": "jobcore"}`, rec.Body.String())
}
