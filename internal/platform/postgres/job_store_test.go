package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/promptdeck/promptdeck-api/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB connects to the database named by DATABASE_URL and prepares a
// clean background_jobs table. Tests are skipped when no database is
// available.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping database integration tests")
	}

	db, err := sql.Open("pgx", url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, db.PingContext(ctx))

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS background_jobs (
			id UUID PRIMARY KEY,
			type TEXT NOT NULL,
			payload JSONB NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'queued',
			status_message TEXT,
			sub_status_message TEXT,
			progress_percentage INTEGER,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			response TEXT,
			error_message TEXT,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			retry_count INTEGER NOT NULL DEFAULT 0
		)`)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `TRUNCATE background_jobs`)
	require.NoError(t, err)

	return db
}

func TestPostgresStoreSaveAndGet(t *testing.T) {
	db := openTestDB(t)
	store := NewPostgresJobStore(db)
	ctx := context.Background()

	job := jobs.NewJob(jobs.JobTypeGenericStream, json.RawMessage(`{"prompt":"hi"}`), 2)
	job.Metadata = map[string]any{"source": "test"}
	require.NoError(t, store.SaveJob(ctx, job))

	row, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, row.ID)
	assert.Equal(t, jobs.JobTypeGenericStream, row.Type)
	assert.Equal(t, jobs.JobStatusQueued, row.Status)
	assert.Equal(t, 2, row.Priority)
	assert.JSONEq(t, `{"prompt":"hi"}`, string(row.Payload))
	assert.Equal(t, "test", row.Metadata["source"])
}

func TestPostgresStoreClaimOrderingAndLease(t *testing.T) {
	db := openTestDB(t)
	store := NewPostgresJobStore(db)
	ctx := context.Background()

	for _, p := range []int{1, 5, 3} {
		job := jobs.NewJob(jobs.JobTypeGenericStream, json.RawMessage(`{"prompt":"x"}`), p)
		require.NoError(t, store.SaveJob(ctx, job))
	}

	claimed, err := store.ClaimQueuedJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, 5, claimed[0].Priority)
	assert.Equal(t, 3, claimed[1].Priority)
	for _, job := range claimed {
		assert.Equal(t, jobs.JobStatusAcknowledgedByWorker, job.Status)
	}

	rest, err := store.ClaimQueuedJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, 1, rest[0].Priority)
}

func TestPostgresStoreTerminalGuard(t *testing.T) {
	db := openTestDB(t)
	store := NewPostgresJobStore(db)
	ctx := context.Background()

	job := jobs.NewJob(jobs.JobTypeGenericStream, json.RawMessage(`{"prompt":"x"}`), 0)
	require.NoError(t, store.SaveJob(ctx, job))

	require.NoError(t, store.UpdateJobStatus(ctx, jobs.UpdateJobStatusParams{
		ID:     job.ID,
		Status: jobs.JobStatusCanceled,
	}))

	err := store.UpdateJobStatus(ctx, jobs.UpdateJobStatusParams{
		ID:     job.ID,
		Status: jobs.JobStatusCompleted,
	})
	assert.ErrorIs(t, err, jobs.ErrTerminalStatus)

	row, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCanceled, row.Status)
}

func TestPostgresStorePartialUpdateAndMetadataMerge(t *testing.T) {
	db := openTestDB(t)
	store := NewPostgresJobStore(db)
	ctx := context.Background()

	job := jobs.NewJob(jobs.JobTypeGenericStream, json.RawMessage(`{"prompt":"x"}`), 0)
	require.NoError(t, store.SaveJob(ctx, job))

	msg := "working"
	pct := 40
	require.NoError(t, store.UpdateJobStatus(ctx, jobs.UpdateJobStatusParams{
		ID:                 job.ID,
		Status:             jobs.JobStatusRunning,
		StatusMessage:      &msg,
		ProgressPercentage: &pct,
		Metadata:           map[string]any{"model": "m1"},
	}))

	sub := "chunk 3"
	require.NoError(t, store.UpdateJobStatus(ctx, jobs.UpdateJobStatusParams{
		ID:               job.ID,
		Status:           jobs.JobStatusRunning,
		SubStatusMessage: &sub,
		Metadata:         map[string]any{"inputTokens": float64(9)},
	}))

	row, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusRunning, row.Status)
	assert.Equal(t, "working", row.StatusMessage)
	assert.Equal(t, "chunk 3", row.SubStatusMessage)
	require.NotNil(t, row.ProgressPercentage)
	assert.Equal(t, 40, *row.ProgressPercentage)
	assert.Equal(t, "m1", row.Metadata["model"])
	assert.Equal(t, float64(9), row.Metadata["inputTokens"])
}

func TestPostgresStoreResetStaleAcknowledged(t *testing.T) {
	db := openTestDB(t)
	store := NewPostgresJobStore(db)
	ctx := context.Background()

	job := jobs.NewJob(jobs.JobTypeGenericStream, json.RawMessage(`{"prompt":"x"}`), 0)
	require.NoError(t, store.SaveJob(ctx, job))

	claimed, err := store.ClaimQueuedJobs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Backdate the lease past the threshold.
	_, err = db.ExecContext(ctx,
		`UPDATE background_jobs SET updated_at = now() - interval '1 hour' WHERE id = $1`,
		job.ID)
	require.NoError(t, err)

	count, err := store.ResetStaleAcknowledged(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	row, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusQueued, row.Status)
}

func TestPostgresStoreUnknownJob(t *testing.T) {
	db := openTestDB(t)
	store := NewPostgresJobStore(db)
	ctx := context.Background()

	job := jobs.NewJob(jobs.JobTypeGenericStream, json.RawMessage(`{"prompt":"x"}`), 0)

	_, err := store.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)

	err = store.UpdateJobStatus(ctx, jobs.UpdateJobStatusParams{
		ID:     job.ID,
		Status: jobs.JobStatusRunning,
	})
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}
