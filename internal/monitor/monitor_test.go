package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ncarlsson/relaygate/internal/credential"
	"github.com/ncarlsson/relaygate/internal/rateaccountant"
	"github.com/ncarlsson/relaygate/internal/store"
	"github.com/ncarlsson/relaygate/internal/upstream"
	"github.com/ncarlsson/relaygate/internal/vault"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(t *testing.T, base string) (*Monitor, *credential.Registry, *rateaccountant.Accountant) {
	t.Helper()
	v, err := vault.New(true)
	require.NoError(t, err)
	require.NoError(t, v.Unlock([]byte("a-strong-test-password!!")))
	st := store.NewMemStore()
	reg := credential.New(st, v, nil)
	acc := rateaccountant.New(st)
	up := upstream.NewWithBaseURL(base)
	return New(reg, acc, up, nil, nil), reg, acc
}

func TestRecoverOnceReactivatesHealthyCredential(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"candidates": []map[string]any{}})
	}))
	defer srv.Close()

	m, reg, _ := newTestMonitor(t, srv.URL)
	handle, err := reg.Add(ctx, "tok-a", []string{"gemini-2.5-pro"}, "", "")
	require.NoError(t, err)
	for i := 0; i < credential.ConsecutiveErrorDisableAt; i++ {
		require.NoError(t, reg.RecordOutcome(ctx, handle, false))
	}
	rec, _, err := reg.Get(ctx, handle)
	require.NoError(t, err)
	require.False(t, rec.Active)

	m.recoverOnce(ctx)

	rec, _, err = reg.Get(ctx, handle)
	require.NoError(t, err)
	require.True(t, rec.Active)
	require.Equal(t, credential.HealthMax, rec.HealthScore)
}

func TestRecoverOnceLeavesUnhealthyCredentialDeactivated(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m, reg, _ := newTestMonitor(t, srv.URL)
	handle, err := reg.Add(ctx, "tok-a", []string{"gemini-2.5-pro"}, "", "")
	require.NoError(t, err)
	for i := 0; i < credential.ConsecutiveErrorDisableAt; i++ {
		require.NoError(t, reg.RecordOutcome(ctx, handle, false))
	}

	m.recoverOnce(ctx)

	rec, _, err := reg.Get(ctx, handle)
	require.NoError(t, err)
	require.False(t, rec.Active)
}

func TestRedetectOnceReplacesModelSet(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]string{
				{"name": "models/gemini-2.5-flash"},
				{"name": "models/not-a-real-model"},
			},
		})
	}))
	defer srv.Close()

	m, reg, _ := newTestMonitor(t, srv.URL)
	handle, err := reg.Add(ctx, "tok-a", []string{"gemini-2.5-pro"}, "", "")
	require.NoError(t, err)

	m.redetectOnce(ctx)

	rec, _, err := reg.Get(ctx, handle)
	require.NoError(t, err)
	require.Equal(t, []string{"gemini-2.5-flash"}, rec.Models) // unknown model filtered out
}

func TestCleanupOnceKeepsInWindowEntries(t *testing.T) {
	ctx := context.Background()
	m, reg, acc := newTestMonitor(t, "http://unused.invalid")
	handle, err := reg.Add(ctx, "tok-a", []string{"gemini-2.5-pro"}, "", "")
	require.NoError(t, err)
	require.NoError(t, acc.Record(ctx, handle, "gemini-2.5-pro", 10))

	m.cleanupOnce(ctx)

	usage, err := acc.Usage(ctx, handle, "gemini-2.5-pro", 5, 100, 250000)
	require.NoError(t, err)
	require.Equal(t, 1, usage.RPMUsed) // within the 60s window, cleanup shouldn't remove it
}

func TestFilterKnownModels(t *testing.T) {
	out := filterKnownModels([]string{"gemini-2.5-pro", "bogus-model"})
	require.Equal(t, []string{"gemini-2.5-pro"}, out)
}

func TestDailyResetLoopStopsOnContextCancel(t *testing.T) {
	m, _, _ := newTestMonitor(t, "http://unused.invalid")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.dailyResetLoop(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dailyResetLoop did not stop after context cancel")
	}
}
