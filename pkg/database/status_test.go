package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PortfolioAgent/pkg/model"
)

func TestStatusLedger(t *testing.T) {
	db := newTestDB(t)
	ledger := db.Status()
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	ttl := 24 * time.Hour

	stale, err := ledger.IsStale("000001.SZ", model.KindPrice, ttl, now)
	require.NoError(t, err)
	assert.True(t, stale, "never fetched")

	require.NoError(t, ledger.RecordSuccess("000001.SZ", model.KindPrice, now, ttl))

	stale, err = ledger.IsStale("000001.SZ", model.KindPrice, ttl, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, stale)

	stale, err = ledger.IsStale("000001.SZ", model.KindPrice, ttl, now.Add(25*time.Hour))
	require.NoError(t, err)
	assert.True(t, stale)

	// 其他类别独立
	stale, err = ledger.IsStale("000001.SZ", model.KindFinancial, ttl, now)
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestRecordFailurePreservesLastUpdated(t *testing.T) {
	db := newTestDB(t)
	ledger := db.Status()
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	ttl := 24 * time.Hour

	require.NoError(t, ledger.RecordSuccess("000001.SZ", model.KindPrice, now, ttl))
	require.NoError(t, ledger.RecordFailure("000001.SZ", model.KindPrice, now.Add(2*time.Hour), ttl, "transient", "connection reset"))

	entry, err := ledger.Get("000001.SZ", model.KindPrice)
	require.NoError(t, err)
	require.NotNil(t, entry.LastUpdated)
	assert.True(t, entry.LastUpdated.Equal(now))
	assert.True(t, entry.LastAttemptAt.Equal(now.Add(2*time.Hour)))
	assert.Equal(t, "transient", entry.ErrorCode.String)
	assert.Equal(t, "connection reset", entry.ErrorMsg.String)

	// 成功后清除错误
	require.NoError(t, ledger.RecordSuccess("000001.SZ", model.KindPrice, now.Add(3*time.Hour), ttl))
	entry, err = ledger.Get("000001.SZ", model.KindPrice)
	require.NoError(t, err)
	assert.False(t, entry.ErrorCode.Valid)
	assert.False(t, entry.ErrorMsg.Valid)
	assert.True(t, entry.LastUpdated.Equal(now.Add(3*time.Hour)))
}

func TestRecordFailureWithoutPriorSuccess(t *testing.T) {
	db := newTestDB(t)
	ledger := db.Status()
	now := time.Now().UTC()

	require.NoError(t, ledger.RecordFailure("000001.SZ", model.KindValuation, now, time.Hour, "not_found", "no rows"))
	require.NoError(t, ledger.RecordFailure("000001.SZ", model.KindValuation, now, time.Hour, "not_found", "no rows"))

	entries, err := ledger.ListBySymbol("000001.SZ", now)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].LastUpdated)
	assert.True(t, entries[0].Stale)
	assert.Equal(t, int64(3600), entries[0].TTLSeconds)
}
