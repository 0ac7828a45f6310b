//go:build integration

package repository

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestPostgresRepositoryIntegration(t *testing.T) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("harrier_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port.Port())
	require.NoError(t, err)

	repo, err := New(domain.RepositoryConfig{
		Driver:           "postgres",
		PostgresHost:     host,
		PostgresPort:     portNum,
		PostgresUser:     "test",
		PostgresPassword: "test",
		PostgresDB:       "harrier_test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	seedTenant(t, repo, 9)

	snap, err := repo.LoadSnapshot(ctx, 9)
	require.NoError(t, err)
	assert.Len(t, snap.Rules, 2)
	assert.Len(t, snap.ProductCapAmounts, 2)
	assert.Equal(t, 1, snap.ProductCapAmounts[0].RowOrder)

	run := &domain.EvaluationRun{
		ID: "run-pg", TenantID: 9, RequestID: "req-pg",
		Inputs: map[string]string{"Age": "30"}, CreatedAt: time.Now(),
	}
	require.NoError(t, repo.SaveEvaluationRun(ctx, run, []domain.APICallLog{
		{ID: "log-pg", APIID: 1, Success: true, StatusCode: 200, CalledAt: time.Now()},
	}))

	got, err := repo.GetEvaluationRun(ctx, 9, "req-pg")
	require.NoError(t, err)
	assert.Nil(t, got.CustomerScore)
	assert.Equal(t, "30", got.Inputs["Age"])

	logs, err := repo.ListAPICallLogs(ctx, 9, got.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "run-pg", logs[0].RunID)
}
