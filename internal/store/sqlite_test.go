package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/codebook/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "codebook.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "codebook.v1.theme")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "codebook.v1.theme", []byte(`"dark"`)))
	require.NoError(t, s.Put(ctx, "codebook.v1.theme", []byte(`"light"`)))

	v, ok, err := s.Get(ctx, "codebook.v1.theme")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `"light"`, string(v))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"codebook.v1.theme"}, keys)
}

func TestSettingsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codebook.db")
	ctx := context.Background()

	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
}

func TestRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := domain.Run{
		ID: uuid.NewString(), Taxonomy: "Survey", Column: "response", Mode: domain.ModeUnset,
		Responses: 3, Finalized: 1, Suggested: 2, Status: domain.RunAwaiting,
		StartedAt: start, FinishedAt: start.Add(time.Second),
	}
	second := domain.Run{
		ID: uuid.NewString(), Taxonomy: "Survey", Column: "response", Mode: domain.ModeAppend,
		Responses: 4, Status: domain.RunFailed, Error: "api error (status 500): overloaded",
		StartedAt: start.Add(time.Hour), FinishedAt: start.Add(time.Hour),
	}
	require.NoError(t, s.RecordRun(ctx, first))
	require.NoError(t, s.RecordRun(ctx, second))

	first.Status = domain.RunApproved
	require.NoError(t, s.RecordRun(ctx, first))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, second.Error, runs[0].Error)
	assert.Equal(t, domain.ModeAppend, runs[0].Mode)

	assert.Equal(t, first.ID, runs[1].ID)
	assert.Equal(t, domain.RunApproved, runs[1].Status)
	assert.Empty(t, runs[1].Error)
	assert.True(t, runs[1].StartedAt.Equal(start))
}
