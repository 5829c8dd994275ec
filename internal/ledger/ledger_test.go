package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, retentionDays int) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := Open(path, retentionDays)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAppendAndReadDayRoundTrip(t *testing.T) {
	db := openTestDB(t, 30)

	now := time.Now().UTC()
	require.NoError(t, db.Append(Entry{Timestamp: now, Kind: "ticket", Success: true, Cost: 1.5}, 1))
	require.NoError(t, db.Append(Entry{Timestamp: now, Kind: "witness", Success: true}, 2))

	entries, err := db.ReadDay(now)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "ticket", entries[0].Kind)
	require.Equal(t, "witness", entries[1].Kind)
}

func TestReadDayEmptyBucketReturnsNoEntries(t *testing.T) {
	db := openTestDB(t, 30)

	entries, err := db.ReadDay(time.Now())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPruneRemovesOldDaysOnly(t *testing.T) {
	db := openTestDB(t, 7)

	oldDay := time.Now().UTC().AddDate(0, 0, -30)
	recentDay := time.Now().UTC()

	require.NoError(t, db.Append(Entry{Timestamp: oldDay, Kind: "ticket", Success: true}, 1))
	require.NoError(t, db.Append(Entry{Timestamp: recentDay, Kind: "ticket", Success: true}, 2))

	deleted, err := db.Prune()
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	oldEntries, err := db.ReadDay(oldDay)
	require.NoError(t, err)
	require.Empty(t, oldEntries)

	recentEntries, err := db.ReadDay(recentDay)
	require.NoError(t, err)
	require.Len(t, recentEntries, 1)
}

func TestAppendDefaultsZeroTimestampToNow(t *testing.T) {
	db := openTestDB(t, 30)

	require.NoError(t, db.Append(Entry{Kind: "ticket", Success: false}, 1))

	entries, err := db.ReadDay(time.Now())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.False(t, entries[0].Timestamp.IsZero())
}
