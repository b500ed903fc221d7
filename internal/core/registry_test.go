package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentops/jobcore/internal/core"
	"github.com/contentops/jobcore/internal/domain/model"
)

func noopBody(_ context.Context, _ core.JobRun) (*core.Outcome, error) {
	return &core.Outcome{}, nil
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := core.NewRegistry()

	require.NoError(t, r.Register(core.JobDefinition{
		Type:  "cleanup",
		Body:  noopBody,
		Every: time.Hour,
	}))

	def, ok := r.Lookup("cleanup")
	require.True(t, ok)
	assert.Equal(t, model.JobType("cleanup"), def.Type)

	_, ok = r.Lookup("unknown")
	assert.False(t, ok)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := core.NewRegistry()

	require.NoError(t, r.Register(core.JobDefinition{Type: "sync", Body: noopBody}))
	err := r.Register(core.JobDefinition{Type: "sync", Body: noopBody})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistryRejectsInvalidDefinitions(t *testing.T) {
	r := core.NewRegistry()

	assert.Error(t, r.Register(core.JobDefinition{Type: "", Body: noopBody}))
	assert.Error(t, r.Register(core.JobDefinition{Type: "cleanup"}))
	assert.Error(t, r.Register(core.JobDefinition{Type: "cleanup", Body: noopBody, Cron: "bad"}))
	assert.Error(t, r.Register(core.JobDefinition{Type: "cleanup", Body: noopBody, MaxConcurrency: -1}))
}

func TestRegistryDefinitionsOrdered(t *testing.T) {
	r := core.NewRegistry()
	for _, jt := range []model.JobType{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(core.JobDefinition{Type: jt, Body: noopBody}))
	}

	assert.Equal(t, []model.JobType{"alpha", "mid", "zeta"}, r.Types())
}

func TestJobDefinitionSchedule(t *testing.T) {
	t.Run("interval", func(t *testing.T) {
		def := core.JobDefinition{Type: "cleanup", Body: noopBody, Every: time.Minute}
		s, err := def.Schedule()
		require.NoError(t, err)
		require.NotNil(t, s)
	})

	t.Run("cron wins over interval", func(t *testing.T) {
		def := core.JobDefinition{Type: "cleanup", Body: noopBody, Every: time.Minute, Cron: "0 * * * *"}
		s, err := def.Schedule()
		require.NoError(t, err)
		require.NotNil(t, s)

		from := time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC), s.Next(from))
	})

	t.Run("on-demand only", func(t *testing.T) {
		def := core.JobDefinition{Type: "export", Body: noopBody}
		s, err := def.Schedule()
		require.NoError(t, err)
		assert.Nil(t, s)
	})
}

func TestJobDefinitionSlots(t *testing.T) {
	def := core.JobDefinition{Type: "cleanup", Body: noopBody}
	assert.Equal(t, 1, def.Slots())

	def.MaxConcurrency = 4
	assert.Equal(t, 4, def.Slots())
}
