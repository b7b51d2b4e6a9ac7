package store

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	migrations "github.com/thrillee/smppgateway/db"
	"github.com/thrillee/smppgateway/internal/database"

	_ "github.com/lib/pq"
)

// migrateTestDB brings the schema at url up to date.
func migrateTestDB(t *testing.T, url string) {
	t.Helper()
	sqlDB, err := sql.Open("postgres", url)
	require.NoError(t, err)
	defer sqlDB.Close()

	goose.SetBaseFS(migrations.Migrations)
	require.NoError(t, goose.SetDialect("postgres"))
	require.NoError(t, goose.Up(sqlDB, migrations.MigrationsDir))
}

func TestStore_ClaimOutboundConcurrentExactlyOnce(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	migrateTestDB(t, url)

	ctx := context.Background()
	pool, err := database.Connect(ctx, url)
	require.NoError(t, err)
	defer pool.Close()

	s := New(pool)
	backend, err := s.EnsureBackend(ctx, "claim-test-"+uuid.NewString()[:8])
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DELETE FROM mt_messages WHERE backend_id = $1", backend.ID)
		_, _ = pool.Exec(context.Background(), "DELETE FROM backends WHERE id = $1", backend.ID)
	})

	const total = 500
	want := make(map[int64]bool, total)
	for start := 0; start < total; start += 100 {
		rows := make([]NewOutbound, 100)
		for i := range rows {
			rows[i] = NewOutbound{BackendID: backend.ID, Text: "load", Params: Params{DestinationAddr: "+15550001"}}
		}
		ids, err := s.InsertOutbound(ctx, rows)
		require.NoError(t, err)
		for _, id := range ids {
			want[id] = true
		}
	}

	const claimers = 8
	var (
		mu      sync.Mutex
		claimed []int64
		wg      sync.WaitGroup
		errs    = make(chan error, claimers)
	)
	for range claimers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				msgs, err := s.ClaimOutbound(ctx, backend.ID, 7, OutboundFilter{})
				if err != nil {
					errs <- err
					return
				}
				if len(msgs) == 0 {
					return
				}
				mu.Lock()
				for _, m := range msgs {
					claimed = append(claimed, m.ID)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[int64]int, len(claimed))
	for _, id := range claimed {
		seen[id]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "message %d claimed more than once", id)
		assert.True(t, want[id], "claimed unknown message %d", id)
	}
	assert.Len(t, seen, total, "every message claimed")

	var left int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM mt_messages WHERE backend_id = $1 AND status = $2",
		backend.ID, string(OutboundNew)).Scan(&left))
	assert.Zero(t, left)
}
