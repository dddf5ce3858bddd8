//go:build integration

package database_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pollvault/backend/internal/config"
	"github.com/pollvault/backend/internal/database"
	"github.com/pollvault/backend/internal/models"
)

func startPostgres(t *testing.T) config.DatabaseConfig {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("pollvault_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return config.DatabaseConfig{
		Host:         host,
		Port:         port.Port(),
		User:         "postgres",
		Password:     "postgres",
		DBName:       "pollvault_test",
		SSLMode:      "disable",
		MaxIdleConns: 5,
		MaxOpenConns: 10,
	}
}

func TestHealth(t *testing.T) {
	cfg := startPostgres(t)

	svc, err := database.New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer svc.Close()

	health := svc.Health()
	assert.Equal(t, "up", health["status"])
}

// TestConcurrentVotesSingleRow submits the same vote identity from many
// goroutines at once and expects the composite unique index on
// (poll_id, voter_key) to admit exactly one row.
func TestConcurrentVotesSingleRow(t *testing.T) {
	cfg := startPostgres(t)

	svc, err := database.New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer svc.Close()
	db := svc.GetDB()

	poll := models.Poll{
		Title:    "Concurrency poll",
		IsActive: true,
		Options: []models.Option{
			{Text: "A"},
			{Text: "B"},
		},
	}
	require.NoError(t, db.Create(&poll).Error)

	const attempts = 20
	voterKey := models.VoterKeyFor(nil, "", "9.9.9.9")

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vote := models.Vote{
				PollID:    poll.ID,
				OptionID:  poll.Options[0].ID,
				VoterKey:  voterKey,
				IPAddress: "9.9.9.9",
			}
			results <- db.Create(&vote).Error
		}()
	}
	wg.Wait()
	close(results)

	var created, rejected int
	for err := range results {
		if err == nil {
			created++
			continue
		}
		require.ErrorIs(t, err, gorm.ErrDuplicatedKey)
		rejected++
	}
	assert.Equal(t, 1, created, "exactly one insert wins")
	assert.Equal(t, attempts-1, rejected)

	var count int64
	require.NoError(t, db.Model(&models.Vote{}).Where("poll_id = ?", poll.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestMigrateIsIdempotent(t *testing.T) {
	cfg := startPostgres(t)

	svc, err := database.New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer svc.Close()

	// New already migrated once; a second pass must not fail.
	require.NoError(t, database.Migrate(svc.GetDB()))

	user := models.User{
		Name:     "Alice",
		Email:    fmt.Sprintf("alice-%d@example.com", time.Now().UnixNano()),
		Password: "hashed",
		Role:     models.RoleUser,
	}
	require.NoError(t, svc.GetDB().Create(&user).Error)
}
