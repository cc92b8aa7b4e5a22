package rateaccountant

import (
	"context"
	"testing"
	"time"

	"github.com/ncarlsson/relaygate/internal/store"
	"github.com/stretchr/testify/require"
)

func TestCheckAllowsUnderLimit(t *testing.T) {
	ctx := context.Background()
	a := New(store.NewMemStore())

	ok, w, err := a.Check(ctx, "cred1", "gemini-2.5-flash", 15, 1500, 1000000, 100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, w.RPMUsed)
}

func TestRecordThenCheckBlocksAtRPMLimit(t *testing.T) {
	ctx := context.Background()
	a := New(store.NewMemStore())

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Record(ctx, "cred1", "gemini-2.5-pro", 10))
	}
	ok, w, err := a.Check(ctx, "cred1", "gemini-2.5-pro", 5, 100, 250000, 10)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 5, w.RPMUsed)
}

func TestRecordAccumulatesTPM(t *testing.T) {
	ctx := context.Background()
	a := New(store.NewMemStore())

	require.NoError(t, a.Record(ctx, "cred1", "gemini-2.5-flash", 500))
	require.NoError(t, a.Record(ctx, "cred1", "gemini-2.5-flash", 700))

	w, err := a.Usage(ctx, "cred1", "gemini-2.5-flash", 15, 1500, 1000000)
	require.NoError(t, err)
	require.Equal(t, 1200, w.TPMUsed)
}

func TestRecordIncrementsRPDAcrossCalls(t *testing.T) {
	ctx := context.Background()
	a := New(store.NewMemStore())

	require.NoError(t, a.Record(ctx, "cred1", "gemini-2.5-flash", 10))
	require.NoError(t, a.Record(ctx, "cred1", "gemini-2.5-flash", 10))

	w, err := a.Usage(ctx, "cred1", "gemini-2.5-flash", 15, 1500, 1000000)
	require.NoError(t, err)
	require.Equal(t, 2, w.RPDUsed)
}

func TestResetDailyAllZeroesCounters(t *testing.T) {
	ctx := context.Background()
	a := New(store.NewMemStore())

	require.NoError(t, a.Record(ctx, "cred1", "gemini-2.5-flash", 10))
	n, err := a.ResetDailyAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	w, err := a.Usage(ctx, "cred1", "gemini-2.5-flash", 15, 1500, 1000000)
	require.NoError(t, err)
	require.Equal(t, 0, w.RPDUsed)
}

func TestInQuotaResetWindow(t *testing.T) {
	midnight := time.Date(2026, 1, 1, 0, 1, 0, 0, QuotaZone)
	require.True(t, InQuotaResetWindow(midnight))

	notMidnight := time.Date(2026, 1, 1, 0, 5, 0, 0, QuotaZone)
	require.False(t, InQuotaResetWindow(notMidnight))
}

func TestWindowExceeded(t *testing.T) {
	w := Window{RPMUsed: 5, RPMLimit: 5, RPDUsed: 1, RPDLimit: 100, TPMUsed: 1, TPMLimit: 1000}
	require.True(t, w.Exceeded())

	w2 := Window{RPMUsed: 1, RPMLimit: 5, RPDUsed: 1, RPDLimit: 100, TPMUsed: 1, TPMLimit: 1000}
	require.False(t, w2.Exceeded())
}
