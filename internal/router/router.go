// Package router implements the Router: given a request's target model
// class and required capabilities, it orders catalog candidates and scores
// (credential, model) pairs so the FallbackExecutor can pick the best one
// and retry through the rest on failure. Grounded on original_source
// hydra/services/router_service.py (the scoring formula is a direct port)
// and on the teacher's internal/router/engine.go scoreModels texture (the
// mode-weight-profile/bandit machinery there doesn't apply — this domain
// uses fixed health/capacity weights, not per-request mode profiles).
package router

import (
	"context"
	"fmt"
	"sort"

	"github.com/ncarlsson/relaygate/internal/catalog"
	"github.com/ncarlsson/relaygate/internal/credential"
	"github.com/ncarlsson/relaygate/internal/rateaccountant"
)

// Default scoring weights, from original_source DEFAULT_HEALTH_WEIGHT /
// DEFAULT_CAPACITY_WEIGHT.
const (
	DefaultHealthWeight   = 0.4
	DefaultCapacityWeight = 0.6
)

// Candidate is one scored (credential, model) pair.
type Candidate struct {
	Handle string
	Model  string
	Score  float64
}

// ExcludeFunc reports whether the (handle, model) pair should be skipped —
// either because this exact pair was already tried this request, or
// because the model itself is blocked request-wide.
type ExcludeFunc func(handle, model string) bool

// Router scores candidates from the credential registry and rate
// accountant against the static catalog.
type Router struct {
	registry       *credential.Registry
	accountant     *rateaccountant.Accountant
	healthWeight   float64
	capacityWeight float64
}

// New constructs a Router with the default scoring weights.
func New(registry *credential.Registry, accountant *rateaccountant.Accountant) *Router {
	return &Router{
		registry:       registry,
		accountant:     accountant,
		healthWeight:   DefaultHealthWeight,
		capacityWeight: DefaultCapacityWeight,
	}
}

// Select returns the best-scoring eligible (credential, model) pair for a
// request targeting class with the given required capabilities, or
// found=false if nothing is eligible. Candidate models are tried in
// ascending catalog Priority order within class, except that preferredModel
// (the model the client actually asked for), if non-empty and a member of
// class, is moved to the front of that order — per original_source
// _build_model_order and spec.md §4.4 step 1. A credential is eligible for
// a model only if it lists that model in its own Models set, is active,
// has the required capability bits, and has spare rate capacity for
// estimatedTokens.
func (r *Router) Select(ctx context.Context, class catalog.Class, requiredCaps catalog.Capability, estimatedTokens int, preferredModel string, exclude ExcludeFunc) (Candidate, bool, error) {
	models := orderModels(catalog.ByClass(class), preferredModel)
	creds, err := r.registry.ListActive(ctx)
	if err != nil {
		return Candidate{}, false, fmt.Errorf("router: list active credentials: %w", err)
	}

	var best Candidate
	found := false

	for _, model := range models {
		if !model.Capabilities.Has(requiredCaps) {
			continue
		}
		if exclude != nil && exclude("", model.ID) {
			// model-wide exclusion (blockedModels) — skip entirely.
			continue
		}
		for _, cred := range creds {
			if !hasModel(cred.Models, model.ID) {
				continue
			}
			if exclude != nil && exclude(cred.Handle, model.ID) {
				continue
			}
			ok, window, err := r.accountant.Check(ctx, cred.Handle, model.ID, model.RPM, model.RPD, model.TPM, estimatedTokens)
			if err != nil {
				return Candidate{}, false, fmt.Errorf("router: check capacity: %w", err)
			}
			if !ok {
				continue
			}
			score := r.score(cred.HealthScore, window)
			cand := Candidate{Handle: cred.Handle, Model: model.ID, Score: score}
			if !found || better(cand, best) {
				best, found = cand, true
			}
		}
		if found {
			// A candidate was found at this (higher-priority) model; don't
			// fall through to lower-priority models in the same request.
			break
		}
	}
	return best, found, nil
}

// score implements capacityScore = 100 - (rpmPct+rpdPct+tpmPct)/3 and
// score = health*healthWeight + capacityScore*capacityWeight.
func (r *Router) score(health int, w rateaccountant.Window) float64 {
	rpmPct := pct(w.RPMUsed, w.RPMLimit)
	rpdPct := pct(w.RPDUsed, w.RPDLimit)
	tpmPct := pct(w.TPMUsed, w.TPMLimit)
	capacityScore := 100 - (rpmPct+rpdPct+tpmPct)/3
	return float64(health)*r.healthWeight + capacityScore*r.capacityWeight
}

func pct(used, limit int) float64 {
	if limit <= 0 {
		return 100
	}
	return float64(used) / float64(limit) * 100
}

// better reports whether a outranks b: higher score wins; ties broken by
// ascending lexicographic handle, per spec.md §4.4's deterministic
// tie-break requirement.
func better(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Handle < b.Handle
}

func hasModel(models []string, id string) bool {
	i := sort.SearchStrings(models, id)
	return i < len(models) && models[i] == id
}

// orderModels returns models with preferredModel moved to the front, if
// present, leaving the relative order of the rest (ascending catalog
// Priority) unchanged.
func orderModels(models []catalog.Model, preferredModel string) []catalog.Model {
	if preferredModel == "" {
		return models
	}
	idx := -1
	for i, m := range models {
		if m.ID == preferredModel {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return models
	}
	ordered := make([]catalog.Model, 0, len(models))
	ordered = append(ordered, models[idx])
	ordered = append(ordered, models[:idx]...)
	ordered = append(ordered, models[idx+1:]...)
	return ordered
}
