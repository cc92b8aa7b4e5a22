package credential

import (
	"context"
	"testing"

	"github.com/ncarlsson/relaygate/internal/store"
	"github.com/ncarlsson/relaygate/internal/vault"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	v, err := vault.New(true)
	require.NoError(t, err)
	require.NoError(t, v.Unlock([]byte("a-strong-test-password!!")))
	return New(store.NewMemStore(), v, nil)
}

func TestAddCreatesNewRecord(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	handle, err := r.Add(ctx, "raw-token-1", []string{"gemini-2.5-flash"}, "a@example.com", "proj1")
	require.NoError(t, err)
	require.Equal(t, Hash("raw-token-1"), handle)

	rec, found, err := r.Get(ctx, handle)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, HealthMax, rec.HealthScore)
	require.True(t, rec.Active)
	require.Equal(t, []string{"gemini-2.5-flash"}, rec.Models)

	raw, err := r.RawToken(ctx, handle)
	require.NoError(t, err)
	require.Equal(t, "raw-token-1", raw)
}

func TestAddMergesModelsOnExistingHandle(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	h1, err := r.Add(ctx, "raw-token-1", []string{"gemini-2.5-flash"}, "", "")
	require.NoError(t, err)

	require.NoError(t, r.RecordOutcome(ctx, h1, false)) // degrade health first

	h2, err := r.Add(ctx, "raw-token-1", []string{"gemini-2.5-pro"}, "", "")
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	rec, _, err := r.Get(ctx, h1)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"gemini-2.5-flash", "gemini-2.5-pro"}, rec.Models)
	require.Equal(t, HealthMax+HealthFailureDelta, rec.HealthScore) // health preserved, not reset
}

func TestAddMergeRefreshesEmailProjectIDAndLastValidated(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	h1, err := r.Add(ctx, "raw-token-1", []string{"gemini-2.5-flash"}, "", "")
	require.NoError(t, err)

	before, _, err := r.Get(ctx, h1)
	require.NoError(t, err)
	require.True(t, before.LastValidated.IsZero())

	h2, err := r.Add(ctx, "raw-token-1", []string{"gemini-2.5-flash"}, "b@example.com", "proj2")
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	after, _, err := r.Get(ctx, h1)
	require.NoError(t, err)
	require.Equal(t, "b@example.com", after.Email)
	require.Equal(t, "proj2", after.ProjectID)
	require.False(t, after.LastValidated.IsZero())
}

func TestReplaceModelsOverwrites(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	h, err := r.Add(ctx, "raw-token-1", []string{"gemini-2.5-flash", "gemini-2.5-pro"}, "", "")
	require.NoError(t, err)

	require.NoError(t, r.ReplaceModels(ctx, h, []string{"gemini-2.5-pro", "gemini-embedding-001"}))

	rec, _, err := r.Get(ctx, h)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"gemini-2.5-pro", "gemini-embedding-001"}, rec.Models)
}

func TestRecordOutcomeSuccessCapsAt100(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	h, _ := r.Add(ctx, "raw-token-1", nil, "", "")

	require.NoError(t, r.RecordOutcome(ctx, h, true))
	rec, _, _ := r.Get(ctx, h)
	require.Equal(t, HealthMax, rec.HealthScore)
}

func TestRecordOutcomeFailureAutoDeactivates(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	h, _ := r.Add(ctx, "raw-token-1", nil, "", "")

	for i := 0; i < ConsecutiveErrorDisableAt; i++ {
		require.NoError(t, r.RecordOutcome(ctx, h, false))
	}

	rec, _, err := r.Get(ctx, h)
	require.NoError(t, err)
	require.False(t, rec.Active)
	require.Equal(t, ConsecutiveErrorDisableAt, rec.ConsecutiveErrors)

	active, err := r.ListActive(ctx)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestRecordOutcomeFailureFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	h, _ := r.Add(ctx, "raw-token-1", nil, "", "")

	for i := 0; i < 50; i++ {
		_ = r.RecordOutcome(ctx, h, false)
	}
	rec, _, _ := r.Get(ctx, h)
	require.GreaterOrEqual(t, rec.HealthScore, 0)
}

func TestReactivateResetsState(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	h, _ := r.Add(ctx, "raw-token-1", nil, "", "")

	for i := 0; i < ConsecutiveErrorDisableAt; i++ {
		_ = r.RecordOutcome(ctx, h, false)
	}
	require.NoError(t, r.Reactivate(ctx, h))

	rec, _, _ := r.Get(ctx, h)
	require.True(t, rec.Active)
	require.Equal(t, HealthMax, rec.HealthScore)
	require.Equal(t, 0, rec.ConsecutiveErrors)

	active, err := r.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	h, _ := r.Add(ctx, "raw-token-1", nil, "", "")

	require.NoError(t, r.Remove(ctx, h))
	require.NoError(t, r.Remove(ctx, h)) // second call is a no-op, not an error

	_, found, err := r.Get(ctx, h)
	require.NoError(t, err)
	require.False(t, found)
}

func TestListAllOrderedByHandle(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	_, _ = r.Add(ctx, "token-b", nil, "", "")
	_, _ = r.Add(ctx, "token-a", nil, "", "")

	all, err := r.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.True(t, all[0].Handle < all[1].Handle)
}
