package journal

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"discordrelay/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func openTestJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := NewSQLiteJournal(filepath.Join(t.TempDir(), "nested", "journal.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_ConnectDisplaceDisconnect(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)

	require.NoError(t, j.RecordConnect(ctx, domain.ConnectionRecord{ID: "a", RemoteAddr: "127.0.0.1:5000", ConnectedAt: base}))
	require.NoError(t, j.RecordConnect(ctx, domain.ConnectionRecord{ID: "b", RemoteAddr: "127.0.0.1:5001", ConnectedAt: base.Add(time.Second)}))
	require.NoError(t, j.RecordDisplaced(ctx, "a"))
	require.NoError(t, j.RecordDisconnect(ctx, "a", base.Add(2*time.Second), "close 1000"))

	recs, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "b", recs[0].ID)
	assert.Nil(t, recs[0].DisconnectedAt)
	assert.False(t, recs[0].Displaced)

	assert.Equal(t, "a", recs[1].ID)
	assert.True(t, recs[1].Displaced)
	require.NotNil(t, recs[1].DisconnectedAt)
	assert.Equal(t, base.Add(2*time.Second), *recs[1].DisconnectedAt)
	assert.Equal(t, "close 1000", recs[1].CloseReason)
	assert.Equal(t, "127.0.0.1:5000", recs[1].RemoteAddr)
}

func TestJournal_RecentLimit(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, j.RecordConnect(ctx, domain.ConnectionRecord{
			ID:          string(rune('a' + i)),
			ConnectedAt: time.UnixMilli(int64(1000 + i)),
		}))
	}

	recs, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "e", recs[0].ID)
	assert.Equal(t, "d", recs[1].ID)
}

func TestJournal_DuplicateIDRejected(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	rec := domain.ConnectionRecord{ID: "dup", ConnectedAt: time.Now()}
	require.NoError(t, j.RecordConnect(ctx, rec))
	assert.Error(t, j.RecordConnect(ctx, rec))
}

func TestJournal_MarkAbandonedAndPrune(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	require.NoError(t, j.RecordConnect(ctx, domain.ConnectionRecord{ID: "old", ConnectedAt: old}))
	require.NoError(t, j.RecordConnect(ctx, domain.ConnectionRecord{ID: "new", ConnectedAt: time.Now()}))

	n, err := j.MarkAbandoned(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	pruned, err := j.Prune(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	recs, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "new", recs[0].ID)
	assert.Equal(t, "process exit", recs[0].CloseReason)
}

func TestJournal_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := NewSQLiteJournal(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, j.RecordConnect(ctx, domain.ConnectionRecord{ID: "keep", ConnectedAt: time.Now()}))
	require.NoError(t, j.Close())

	j, err = NewSQLiteJournal(path, testLogger())
	require.NoError(t, err)
	defer j.Close()

	v, err := currentVersion(ctx, j.db)
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, v)

	recs, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "keep", recs[0].ID)
}
