// Package rateaccountant tracks per-(credential,model) quota usage across
// three simultaneous windows — RPM (60s sliding), RPD (calendar day in a
// fixed UTC-8 quota zone, no DST), and TPM (60s sliding token sum) — per
// spec.md §4.3. Grounded on original_source hydra/services/rate_limiter.py
// for the exact algorithm and on the teacher's internal/ratelimit/ratelimit.go
// for the Go mutex/ticker texture, using store.Store's ordered-set
// operations for the sliding windows instead of a JSON blob in a hash field.
package rateaccountant

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ncarlsson/relaygate/internal/store"
)

// QuotaZone is the fixed, DST-less offset original_source calls Pacific
// Time (UTC-8 year round) — the boundary RPD counters reset at.
var QuotaZone = time.FixedZone("quota", -8*60*60)

const slidingWindow = 60 * time.Second

// Window is a snapshot of current usage against a model's limits.
type Window struct {
	RPMUsed, RPMLimit int
	RPDUsed, RPDLimit int
	TPMUsed, TPMLimit int
}

// Exceeded reports whether any of the three windows is at or over its limit.
func (w Window) Exceeded() bool {
	return w.RPMUsed >= w.RPMLimit || w.RPDUsed >= w.RPDLimit || w.TPMUsed >= w.TPMLimit
}

// Accountant is the RateAccountant.
type Accountant struct {
	store store.Store
}

// New constructs an Accountant over st.
func New(st store.Store) *Accountant {
	return &Accountant{store: st}
}

func rpmKey(handle, model string) string { return fmt.Sprintf("rate:%s:%s:rpm", handle, model) }
func tpmKey(handle, model string) string { return fmt.Sprintf("rate:%s:%s:tpm", handle, model) }
func rpdKey(handle, model string) string { return fmt.Sprintf("rate:%s:%s:rpd", handle, model) }

// Check reports whether a request estimated at estimatedTokens would fit
// within all three windows for (handle, model), without recording anything.
// It prunes expired sliding-window entries first (the "lazy" accounting
// model: pruning happens on read, in addition to the periodic Cleanup pass).
func (a *Accountant) Check(ctx context.Context, handle, model string, rpmLimit, rpdLimit, tpmLimit, estimatedTokens int) (bool, Window, error) {
	w, err := a.usage(ctx, handle, model, rpmLimit, rpdLimit, tpmLimit)
	if err != nil {
		return false, Window{}, err
	}
	ok := w.RPMUsed < w.RPMLimit && w.RPDUsed < w.RPDLimit && w.TPMUsed+estimatedTokens <= w.TPMLimit
	return ok, w, nil
}

// Record appends one request's usage to the RPM/TPM sliding windows and
// increments the RPD calendar-day counter, resetting it first if the
// calendar day (in QuotaZone) has rolled over since the last recorded
// request. The three writes are issued in one store.Batch round trip, per
// spec.md §4.3's "all in one atomic batch" — §5's lossy-optimistic
// allowance means this is a throughput guarantee, not a transactional one.
func (a *Accountant) Record(ctx context.Context, handle, model string, actualTokens int) error {
	now := time.Now()
	nowUnix := float64(now.Unix())

	today := dayKey(now)
	key := rpdKey(handle, model)
	lastReset, _, err := a.store.HashGet(ctx, key, "last_reset")
	if err != nil {
		return fmt.Errorf("rateaccountant: read rpd reset marker: %w", err)
	}
	count := 0
	if lastReset == today {
		v, ok, err := a.store.HashGet(ctx, key, "count")
		if err != nil {
			return fmt.Errorf("rateaccountant: read rpd count: %w", err)
		}
		if ok {
			count, _ = strconv.Atoi(v)
		}
	}
	count++

	err = a.store.Batch(ctx, func(b store.Store) error {
		if err := b.OrderedAppend(ctx, rpmKey(handle, model), nowUnix, uuid.NewString()); err != nil {
			return fmt.Errorf("rateaccountant: record rpm: %w", err)
		}
		if err := b.OrderedAppend(ctx, tpmKey(handle, model), nowUnix, strconv.Itoa(actualTokens)); err != nil {
			return fmt.Errorf("rateaccountant: record tpm: %w", err)
		}
		if err := b.HashSet(ctx, key, map[string]string{
			"count":      strconv.Itoa(count),
			"last_reset": today,
		}); err != nil {
			return fmt.Errorf("rateaccountant: write rpd count: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rateaccountant: record batch: %w", err)
	}
	return nil
}

// Usage returns the current window snapshot for (handle, model), pruning
// expired sliding-window entries as a side effect.
func (a *Accountant) Usage(ctx context.Context, handle, model string, rpmLimit, rpdLimit, tpmLimit int) (Window, error) {
	return a.usage(ctx, handle, model, rpmLimit, rpdLimit, tpmLimit)
}

func (a *Accountant) usage(ctx context.Context, handle, model string, rpmLimit, rpdLimit, tpmLimit int) (Window, error) {
	now := time.Now()
	cutoff := float64(now.Add(-slidingWindow).Unix())

	if _, err := a.store.RemoveByScoreRange(ctx, rpmKey(handle, model), 0, cutoff); err != nil {
		return Window{}, fmt.Errorf("rateaccountant: prune rpm: %w", err)
	}
	rpmElems, err := a.store.RangeByRank(ctx, rpmKey(handle, model), cutoff, float64(now.Unix())+1)
	if err != nil {
		return Window{}, fmt.Errorf("rateaccountant: range rpm: %w", err)
	}

	if _, err := a.store.RemoveByScoreRange(ctx, tpmKey(handle, model), 0, cutoff); err != nil {
		return Window{}, fmt.Errorf("rateaccountant: prune tpm: %w", err)
	}
	tpmElems, err := a.store.RangeByRank(ctx, tpmKey(handle, model), cutoff, float64(now.Unix())+1)
	if err != nil {
		return Window{}, fmt.Errorf("rateaccountant: range tpm: %w", err)
	}
	tpmSum := 0
	for _, e := range tpmElems {
		n, _ := strconv.Atoi(e.Payload)
		tpmSum += n
	}

	today := dayKey(now)
	key := rpdKey(handle, model)
	lastReset, _, err := a.store.HashGet(ctx, key, "last_reset")
	if err != nil {
		return Window{}, fmt.Errorf("rateaccountant: read rpd: %w", err)
	}
	rpdCount := 0
	if lastReset == today {
		v, ok, err := a.store.HashGet(ctx, key, "count")
		if err != nil {
			return Window{}, fmt.Errorf("rateaccountant: read rpd count: %w", err)
		}
		if ok {
			rpdCount, _ = strconv.Atoi(v)
		}
	}

	return Window{
		RPMUsed: len(rpmElems), RPMLimit: rpmLimit,
		RPDUsed: rpdCount, RPDLimit: rpdLimit,
		TPMUsed: tpmSum, TPMLimit: tpmLimit,
	}, nil
}

// Cleanup prunes expired sliding-window entries for (handle, model), called
// periodically by BackgroundMonitor's CleanupLoop independent of any read.
func (a *Accountant) Cleanup(ctx context.Context, handle, model string) error {
	cutoff := float64(time.Now().Add(-slidingWindow).Unix())
	if _, err := a.store.RemoveByScoreRange(ctx, rpmKey(handle, model), 0, cutoff); err != nil {
		return fmt.Errorf("rateaccountant: cleanup rpm: %w", err)
	}
	if _, err := a.store.RemoveByScoreRange(ctx, tpmKey(handle, model), 0, cutoff); err != nil {
		return fmt.Errorf("rateaccountant: cleanup tpm: %w", err)
	}
	return nil
}

// ResetDailyAll zeroes the RPD counter for every (handle, model) pair
// currently tracked. Called by BackgroundMonitor's DailyResetLoop once per
// quota-zone day, inside the trigger window just past midnight. Every call
// zeroes the counters unconditionally, so a second call on the same day
// discards any requests recorded since the first.
func (a *Accountant) ResetDailyAll(ctx context.Context) (int, error) {
	keys, err := a.store.ScanByPrefix(ctx, "rate:")
	if err != nil {
		return 0, fmt.Errorf("rateaccountant: scan rpd keys: %w", err)
	}
	today := dayKey(time.Now())
	count := 0
	for _, k := range keys {
		if len(k) < 4 || k[len(k)-3:] != "rpd" {
			continue
		}
		if err := a.store.HashSet(ctx, k, map[string]string{
			"count":      "0",
			"last_reset": today,
		}); err != nil {
			return count, fmt.Errorf("rateaccountant: reset %s: %w", k, err)
		}
		count++
	}
	return count, nil
}

// InQuotaResetWindow reports whether now, viewed in QuotaZone, falls within
// the 2-minute window just past local midnight — the trigger condition for
// DailyResetLoop, matching original_source's
// `pt_now.hour == 0 and pt_now.minute < 2`.
func InQuotaResetWindow(now time.Time) bool {
	local := now.In(QuotaZone)
	return local.Hour() == 0 && local.Minute() < 2
}

func dayKey(t time.Time) string {
	return t.In(QuotaZone).Format("2006-01-02")
}
