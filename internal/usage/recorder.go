// Package usage implements the Usage Recorder: fire-and-forget append of
// tool-invocation records, with date-range aggregation for the quota
// system and the /v1/me/usage endpoint.
package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shibaleo/mcpist/internal/store"
	"github.com/shibaleo/mcpist/pkg/models"
)

// Recorder wraps a store.UsageStore with fire-and-forget semantics: a
// persistence failure is logged, never surfaced to the caller.
type Recorder struct {
	db store.UsageStore
}

// New builds a Recorder over db.
func New(db store.UsageStore) *Recorder {
	return &Recorder{db: db}
}

// Record appends a usage record off the response path. Intended to be
// called as `go recorder.Record(...)` by callers that don't want to block
// on persistence.
func (r *Recorder) Record(ctx context.Context, userID string, metaTool models.MetaTool, requestID string, details []models.UsageDetail) {
	rec := &models.UsageRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		MetaTool:  metaTool,
		RequestID: requestID,
		Details:   details,
		CreatedAt: time.Now(),
	}
	if err := r.db.RecordUsage(ctx, rec); err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("request_id", requestID).Msg("usage record failed to persist")
	}
}

// CountSince returns how many usage records (one per run call or
// successful batch sub-task) userID has since the given time, for the
// Authorizer's daily quota check.
func (r *Recorder) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return r.db.CountUsageSince(ctx, userID, since)
}

// Summarize aggregates usage in [start, end] into total and per-module
// counts, for GET /v1/me/usage.
func (r *Recorder) Summarize(ctx context.Context, userID string, start, end time.Time) (*models.UsageSummary, error) {
	return r.db.SummarizeUsage(ctx, userID, start, end)
}
