// Package credential implements the CredentialRegistry: bookkeeping for the
// pool of Gemini credentials this gateway routes across, including health
// scoring and auto-deactivation. Grounded on the teacher's
// internal/apikey/manager.go (CRUD/cache shape) and internal/health/tracker.go
// (the health-score state machine, adapted from a Healthy/Degraded/Down enum
// to spec.md's 0-100 integer score), with exact scoring constants from
// original_source hydra/services/api_key_service.py.
package credential

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ncarlsson/relaygate/internal/store"
	"github.com/ncarlsson/relaygate/internal/vault"
)

// Health scoring constants, from original_source constants.py.
const (
	HealthMax                  = 100
	HealthSuccessDelta         = 5
	HealthFailureDelta         = -10
	ConsecutiveErrorDisableAt  = 5
)

// ErrInvalid is returned for operations against an unknown handle.
var ErrInvalid = errors.New("credential: unknown handle")

const (
	keyPrefix    = "cred:"
	allSetKey    = "cred:all"
	activeSetKey = "cred:active"
)

// Record is the persisted, loggable view of a credential. The raw token is
// never part of this struct — it lives only in the vault, keyed by Handle.
type Record struct {
	Handle            string
	Email             string
	ProjectID         string
	Models            []string
	HealthScore       int
	ConsecutiveErrors int
	Active            bool
	CreatedAt         time.Time
	LastValidated     time.Time
	Notes             string
}

// Hash returns the handle (identity) for a raw credential token: a SHA-256
// hex digest, per original_source's hash_key — not bcrypt, since nothing
// here validates a client-presented secret against this hash.
func Hash(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}

// Registry is the CredentialRegistry. It persists metadata through Store and
// raw tokens through Vault, so a raw token is never logged or returned from
// any method except RawToken.
type Registry struct {
	store  store.Store
	vault  *vault.Vault
	logger *slog.Logger
}

// New constructs a Registry over the given Store and Vault.
func New(st store.Store, v *vault.Vault, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: st, vault: v, logger: logger}
}

// Add onboards a credential. If the handle already exists, its model set is
// merged (union) with models, health/usage state is preserved, and it is
// reactivated; otherwise a new record is created with HealthScore=100.
func (r *Registry) Add(ctx context.Context, rawToken string, models []string, email, projectID string) (string, error) {
	handle := Hash(rawToken)

	existing, found, err := r.load(ctx, handle)
	if err != nil {
		return "", err
	}

	if found {
		merged := unionStrings(existing.Models, models)
		existing.Models = merged
		existing.Active = true
		if email != "" {
			existing.Email = email
		}
		if projectID != "" {
			existing.ProjectID = projectID
		}
		existing.LastValidated = time.Now().UTC()
		if err := r.save(ctx, existing); err != nil {
			return "", err
		}
		r.logger.Info("credential merged", slog.String("handle", handle), slog.Int("models", len(merged)))
	} else {
		rec := Record{
			Handle:      handle,
			Email:       email,
			ProjectID:   projectID,
			Models:      dedupeSorted(models),
			HealthScore: HealthMax,
			Active:      true,
			CreatedAt:   time.Now().UTC(),
		}
		if err := r.save(ctx, rec); err != nil {
			return "", err
		}
		r.logger.Info("credential added", slog.String("handle", handle), slog.Int("models", len(rec.Models)))
	}

	if err := r.store.SetAdd(ctx, allSetKey, handle); err != nil {
		return "", fmt.Errorf("credential: register handle: %w", err)
	}
	if err := r.store.SetAdd(ctx, activeSetKey, handle); err != nil {
		return "", fmt.Errorf("credential: activate handle: %w", err)
	}
	if r.vault != nil {
		if err := r.vault.SetRawToken(handle, rawToken); err != nil {
			return "", fmt.Errorf("credential: store raw token: %w", err)
		}
	}
	return handle, nil
}

// ReplaceModels unconditionally overwrites a credential's model set — used
// by BackgroundMonitor's re-probe path, which must reflect exactly what the
// upstream currently reports rather than union with stale state. Logs the
// added/removed diff, per original_source update_models.
func (r *Registry) ReplaceModels(ctx context.Context, handle string, models []string) error {
	rec, found, err := r.load(ctx, handle)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrInvalid, handle)
	}
	newSet := dedupeSorted(models)
	added, removed := diffStrings(rec.Models, newSet)
	rec.Models = newSet
	if err := r.save(ctx, rec); err != nil {
		return err
	}
	if len(added) > 0 || len(removed) > 0 {
		r.logger.Info("credential models redetected",
			slog.String("handle", handle),
			slog.Any("added", added),
			slog.Any("removed", removed),
		)
	}
	return nil
}

// Remove deletes a credential's metadata and raw token. Idempotent.
func (r *Registry) Remove(ctx context.Context, handle string) error {
	if err := r.store.HashDelete(ctx, keyPrefix+handle,
		"email", "project_id", "models", "health_score", "consecutive_errors",
		"active", "created_at", "last_validated", "notes"); err != nil {
		return fmt.Errorf("credential: remove: %w", err)
	}
	if err := r.store.SetRemove(ctx, allSetKey, handle); err != nil {
		return fmt.Errorf("credential: remove from all set: %w", err)
	}
	if err := r.store.SetRemove(ctx, activeSetKey, handle); err != nil {
		return fmt.Errorf("credential: remove from active set: %w", err)
	}
	if r.vault != nil {
		r.vault.DeleteRawToken(handle)
	}
	return nil
}

// Get returns the record for handle.
func (r *Registry) Get(ctx context.Context, handle string) (Record, bool, error) {
	return r.load(ctx, handle)
}

// RawToken returns the decrypted raw token for handle. Callers must not log
// the result.
func (r *Registry) RawToken(ctx context.Context, handle string) (string, error) {
	if r.vault == nil {
		return "", errors.New("credential: vault not configured")
	}
	return r.vault.GetRawToken(handle)
}

// ListAll returns every known credential, active or not, ordered by
// ascending handle for deterministic iteration.
func (r *Registry) ListAll(ctx context.Context) ([]Record, error) {
	return r.listFromSet(ctx, allSetKey)
}

// ListActive returns only active (not deactivated) credentials.
func (r *Registry) ListActive(ctx context.Context) ([]Record, error) {
	return r.listFromSet(ctx, activeSetKey)
}

// ActiveHandles returns the active handle set, ascending.
func (r *Registry) ActiveHandles(ctx context.Context) ([]string, error) {
	handles, err := r.store.SetMembers(ctx, activeSetKey)
	if err != nil {
		return nil, fmt.Errorf("credential: active handles: %w", err)
	}
	sort.Strings(handles)
	return handles, nil
}

func (r *Registry) listFromSet(ctx context.Context, setKey string) ([]Record, error) {
	handles, err := r.store.SetMembers(ctx, setKey)
	if err != nil {
		return nil, fmt.Errorf("credential: list: %w", err)
	}
	sort.Strings(handles)
	out := make([]Record, 0, len(handles))
	for _, h := range handles {
		rec, found, err := r.load(ctx, h)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, rec)
		}
	}
	return out, nil
}

// RecordOutcome applies the health-score delta for one completed attempt
// against this credential. success=true: +5 capped at 100, consecutive
// errors reset. success=false (credential-fault only — callers must not
// call this for model-wide 429s): -10 floored at 0, consecutive errors
// incremented, auto-deactivated at ConsecutiveErrorDisableAt.
func (r *Registry) RecordOutcome(ctx context.Context, handle string, success bool) error {
	rec, found, err := r.load(ctx, handle)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrInvalid, handle)
	}

	if success {
		rec.HealthScore = minInt(HealthMax, rec.HealthScore+HealthSuccessDelta)
		rec.ConsecutiveErrors = 0
	} else {
		rec.HealthScore = maxInt(0, rec.HealthScore+HealthFailureDelta)
		rec.ConsecutiveErrors++
		if rec.ConsecutiveErrors >= ConsecutiveErrorDisableAt && rec.Active {
			rec.Active = false
			r.logger.Warn("credential auto-deactivated",
				slog.String("handle", handle),
				slog.Int("consecutive_errors", rec.ConsecutiveErrors),
			)
			if err := r.store.SetRemove(ctx, activeSetKey, handle); err != nil {
				return fmt.Errorf("credential: deactivate: %w", err)
			}
		}
	}

	return r.save(ctx, rec)
}

// Reactivate re-enables a credential after a successful health re-probe,
// resetting health to 100 and clearing its error streak.
func (r *Registry) Reactivate(ctx context.Context, handle string) error {
	rec, found, err := r.load(ctx, handle)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrInvalid, handle)
	}
	rec.HealthScore = HealthMax
	rec.ConsecutiveErrors = 0
	rec.Active = true
	rec.LastValidated = time.Now().UTC()
	if err := r.save(ctx, rec); err != nil {
		return err
	}
	return r.store.SetAdd(ctx, activeSetKey, handle)
}

func (r *Registry) load(ctx context.Context, handle string) (Record, bool, error) {
	fields, err := r.store.HashGetAll(ctx, keyPrefix+handle)
	if err != nil {
		return Record{}, false, fmt.Errorf("credential: load: %w", err)
	}
	if len(fields) == 0 {
		return Record{}, false, nil
	}
	rec := Record{Handle: handle}
	rec.Email = fields["email"]
	rec.ProjectID = fields["project_id"]
	if models := fields["models"]; models != "" {
		rec.Models = strings.Split(models, ",")
	}
	rec.HealthScore, _ = strconv.Atoi(fields["health_score"])
	rec.ConsecutiveErrors, _ = strconv.Atoi(fields["consecutive_errors"])
	rec.Active = fields["active"] == "true"
	rec.Notes = fields["notes"]
	if ts, err := time.Parse(time.RFC3339, fields["created_at"]); err == nil {
		rec.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339, fields["last_validated"]); err == nil {
		rec.LastValidated = ts
	}
	return rec, true, nil
}

func (r *Registry) save(ctx context.Context, rec Record) error {
	fields := map[string]string{
		"email":              rec.Email,
		"project_id":         rec.ProjectID,
		"models":             strings.Join(rec.Models, ","),
		"health_score":       strconv.Itoa(rec.HealthScore),
		"consecutive_errors": strconv.Itoa(rec.ConsecutiveErrors),
		"active":             strconv.FormatBool(rec.Active),
		"notes":              rec.Notes,
	}
	if !rec.CreatedAt.IsZero() {
		fields["created_at"] = rec.CreatedAt.Format(time.RFC3339)
	}
	if !rec.LastValidated.IsZero() {
		fields["last_validated"] = rec.LastValidated.Format(time.RFC3339)
	}
	if err := r.store.HashSet(ctx, keyPrefix+rec.Handle, fields); err != nil {
		return fmt.Errorf("credential: save: %w", err)
	}
	return nil
}

func unionStrings(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func dedupeSorted(in []string) []string {
	return unionStrings(in, nil)
}

func diffStrings(old, new []string) (added, removed []string) {
	oldSet := make(map[string]struct{}, len(old))
	for _, s := range old {
		oldSet[s] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(new))
	for _, s := range new {
		newSet[s] = struct{}{}
	}
	for s := range newSet {
		if _, ok := oldSet[s]; !ok {
			added = append(added, s)
		}
	}
	for s := range oldSet {
		if _, ok := newSet[s]; !ok {
			removed = append(removed, s)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
