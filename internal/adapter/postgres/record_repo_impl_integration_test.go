//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/user/patentscope-crawler/internal/entity"
	"github.com/user/patentscope-crawler/internal/repository"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "crawler",
				"POSTGRES_PASSWORD": "crawler",
				"POSTGRES_DB":       "patents",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	db, err := pgxpool.New(ctx, fmt.Sprintf("postgres://crawler:crawler@%s:%s/patents?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Ping(ctx))
	return db
}

func TestRecordRepo_Integration(t *testing.T) {
	repo := NewRecordRepo(setupPostgres(t))
	ctx := context.Background()
	require.NoError(t, repo.EnsureSchema(ctx))
	require.NoError(t, repo.EnsureSchema(ctx), "schema bootstrap is idempotent")

	_, err := repo.FindByKey(ctx, "WO2018162793")
	assert.ErrorIs(t, err, repository.ErrRecordNotFound)

	rec := &entity.ExtractionRecord{
		Key:        "WO2018162793",
		SourceLink: "https://patentscope.wipo.int/search/en/detail.jsf?docId=WO2018162793",
		Attributes: entity.Attributes{
			Title:           "Widget",
			Inventors:       []string{"Jane Doe"},
			FamilyCountries: []string{"US", "EP"},
		},
		Outcome:     entity.OutcomeSuccess,
		Attempts:    2,
		Duration:    1500 * time.Millisecond,
		ProcessedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.Save(ctx, rec))

	got, err := repo.FindByKey(ctx, rec.Key)
	require.NoError(t, err)
	assert.Equal(t, rec.Attributes, got.Attributes)
	assert.Equal(t, rec.Duration, got.Duration)
	assert.Equal(t, 2, got.Attempts)
	assert.True(t, got.ProcessedAt.Equal(rec.ProcessedAt))
	assert.True(t, got.Succeeded())

	rec.Attributes.Title = "Widget v2"
	require.NoError(t, repo.Save(ctx, rec))
	got, err = repo.FindByKey(ctx, rec.Key)
	require.NoError(t, err)
	assert.Equal(t, "Widget v2", got.Attributes.Title)
}
