package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vacancy-ingest/internal/vacancy"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	run := vacancy.Run{ID: "run-1", Status: vacancy.RunStatusQueued, Submitted: time.Unix(1700000000, 0).UTC()}

	require.NoError(t, store.CreateRun(ctx, run))
	require.Error(t, store.CreateRun(ctx, run), "duplicate run")

	require.NoError(t, store.UpdateRunStatus(ctx, run.ID, vacancy.RunStatusRunning, "", vacancy.RunCounters{}))
	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Started)
	require.Nil(t, got.Finished)

	results := []vacancy.Result{{SourceURL: "https://hh.ru/vacancy/1", ExternalID: 1}}
	require.NoError(t, store.SaveResults(ctx, run.ID, results))
	listed, err := store.ListResults(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, results, listed)
	listed[0].SourceURL = "modified"
	again, err := store.ListResults(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, "https://hh.ru/vacancy/1", again[0].SourceURL)

	counters := vacancy.RunCounters{Vacancies: 1, New: 1}
	require.NoError(t, store.UpdateRunStatus(ctx, run.ID, vacancy.RunStatusSucceeded, "", counters))
	final, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, vacancy.RunStatusSucceeded, final.Status)
	require.NotNil(t, final.Finished)
	require.Equal(t, counters, final.Counters)
}

func TestRunStoreUnknownRun(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	_, err := store.GetRun(ctx, "missing")
	require.ErrorIs(t, err, vacancy.ErrRunNotFound)
	require.ErrorIs(t, store.UpdateRunStatus(ctx, "missing", vacancy.RunStatusFailed, "", vacancy.RunCounters{}), vacancy.ErrRunNotFound)
	require.ErrorIs(t, store.SaveResults(ctx, "missing", nil), vacancy.ErrRunNotFound)
	_, err = store.ListResults(ctx, "missing")
	require.ErrorIs(t, err, vacancy.ErrRunNotFound)
}
