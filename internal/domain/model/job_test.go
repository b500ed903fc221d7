package model_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentops/jobcore/internal/domain/model"
)

func TestJobStatusTerminal(t *testing.T) {
	terminal := map[model.JobStatus]bool{
		model.JobStatusPending:        false,
		model.JobStatusRunning:        false,
		model.JobStatusCompleted:      true,
		model.JobStatusFailed:         true,
		model.JobStatusPartialFailure: true,
		model.JobStatusCancelled:      true,
	}

	for status, want := range terminal {
		assert.Equal(t, want, status.Terminal(), "status %s", status)
		assert.True(t, status.Valid(), "status %s", status)
	}

	assert.False(t, model.JobStatus("queued").Valid())
}

func TestJobTypeValid(t *testing.T) {
	tests := []struct {
		name    string
		jobType model.JobType
		want    bool
	}{
		{name: "simple", jobType: "cleanup", want: true},
		{name: "hyphenated", jobType: "export-generator", want: true},
		{name: "empty", jobType: "", want: false},
		{name: "embedded space", jobType: "clean up", want: false},
		{name: "leading space", jobType: " cleanup", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.jobType.Valid())
		})
	}
}

func TestScopeKey(t *testing.T) {
	tests := []struct {
		name  string
		scope model.Scope
		want  string
	}{
		{name: "empty", scope: nil, want: ""},
		{name: "single dimension", scope: model.Scope{"customer_id": "cust_42"}, want: "customer_id=cust_42"},
		{
			name:  "sorted by dimension name",
			scope: model.Scope{"repository_id": "repo_7", "customer_id": "cust_42"},
			want:  "customer_id=cust_42,repository_id=repo_7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.scope.Key())
		})
	}
}

func TestScopeKeyDeterministic(t *testing.T) {
	a := model.Scope{"a": "1", "b": "2", "c": "3"}
	b := model.Scope{"c": "3", "a": "1", "b": "2"}
	assert.Equal(t, a.Key(), b.Key())
}

func TestScopeContains(t *testing.T) {
	scope := model.Scope{"customer_id": "c1", "repository_id": "r1"}

	assert.True(t, scope.Contains(nil))
	assert.True(t, scope.Contains(model.Scope{"customer_id": "c1"}))
	assert.True(t, scope.Contains(scope))
	assert.False(t, scope.Contains(model.Scope{"customer_id": "c2"}))
	assert.False(t, scope.Contains(model.Scope{"other": "x"}))
}

func TestCreateJobParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  model.CreateJobParams
		wantErr string
	}{
		{
			name:   "valid system-wide",
			params: model.CreateJobParams{Type: "cleanup", EnforceSingleFlight: true},
		},
		{
			name: "valid scoped with metadata",
			params: model.CreateJobParams{
				Type:     "export",
				Scope:    model.Scope{"customer_id": "c1"},
				Metadata: json.RawMessage(`{"trigger":"manual"}`),
			},
		},
		{
			name:    "missing type",
			params:  model.CreateJobParams{},
			wantErr: "invalid job type",
		},
		{
			name: "reserved character in scope dimension",
			params: model.CreateJobParams{
				Type:  "export",
				Scope: model.Scope{"a=b": "v"},
			},
			wantErr: "reserved characters",
		},
		{
			name: "invalid metadata",
			params: model.CreateJobParams{
				Type:     "export",
				Metadata: json.RawMessage(`{broken`),
			},
			wantErr: "metadata must be valid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestUpdateJobParamsValidate(t *testing.T) {
	running := model.JobStatusRunning
	bogus := model.JobStatus("bogus")

	tests := []struct {
		name    string
		params  model.UpdateJobParams
		wantErr bool
	}{
		{name: "valid status", params: model.UpdateJobParams{ID: "j1", Status: &running}},
		{name: "missing id", params: model.UpdateJobParams{Status: &running}, wantErr: true},
		{name: "invalid status", params: model.UpdateJobParams{ID: "j1", Status: &bogus}, wantErr: true},
		{
			name:    "invalid result payload",
			params:  model.UpdateJobParams{ID: "j1", Result: json.RawMessage(`nope{`)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestUpdateJobParamsHasChanges(t *testing.T) {
	progress := 3
	running := model.JobStatusRunning

	assert.False(t, (&model.UpdateJobParams{ID: "j1"}).HasChanges())
	assert.True(t, (&model.UpdateJobParams{ID: "j1", Status: &running}).HasChanges())
	assert.True(t, (&model.UpdateJobParams{ID: "j1", Progress: &progress}).HasChanges())
}

func TestJobListFilterEffectiveLimit(t *testing.T) {
	var f model.JobListFilter
	assert.Equal(t, model.DefaultListLimit, f.EffectiveLimit())

	f.Limit = 10
	assert.Equal(t, 10, f.EffectiveLimit())
}
