package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	learningRepos "github.com/yungbote/microlearn-backend/internal/data/repos/learning"
	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
	"github.com/yungbote/microlearn-backend/internal/platform/dbctx"
	"github.com/yungbote/microlearn-backend/internal/platform/logger"
)

const (
	// fastPaceWindow / fastPaceThreshold: more than 8 attempts inside 72h
	// reads as a fast learner.
	fastPaceWindow    = 72 * time.Hour
	fastPaceThreshold = 8

	attemptSampleLimit = 200
)

// ProgressMetricsService derives the accuracy/pace snapshot. Recomputation
// is event-driven: it only happens when an attempt newer than the cached
// snapshot exists, never on idle polling.
type ProgressMetricsService interface {
	Snapshot(ctx context.Context, userID uuid.UUID, subject string) (types.ProgressMetricsSnapshot, error)
	// Compute is the pure rollup over an attempt set; exposed for reuse by
	// the snapshot path and tests.
	Compute(attempts []*types.AttemptRow, subject string, now time.Time) types.ProgressMetricsSnapshot
	RecordAttempt(ctx context.Context, row *types.AttemptRow) error
}

type progressMetricsService struct {
	db          *gorm.DB
	log         *logger.Logger
	attemptRepo learningRepos.AttemptRepo
	progRepo    learningRepos.ProgressRepo

	group singleflight.Group
}

func NewProgressMetricsService(
	db *gorm.DB,
	baseLog *logger.Logger,
	attemptRepo learningRepos.AttemptRepo,
	progRepo learningRepos.ProgressRepo,
) ProgressMetricsService {
	return &progressMetricsService{
		db:          db,
		log:         baseLog.With("service", "ProgressMetricsService"),
		attemptRepo: attemptRepo,
		progRepo:    progRepo,
	}
}

func (s *progressMetricsService) RecordAttempt(ctx context.Context, row *types.AttemptRow) error {
	if row == nil || row.UserID == uuid.Nil {
		return fmt.Errorf("attempt requires a user")
	}
	_, err := s.attemptRepo.Create(dbctx.New(ctx), []*types.AttemptRow{row})
	return err
}

func (s *progressMetricsService) Snapshot(ctx context.Context, userID uuid.UUID, subject string) (types.ProgressMetricsSnapshot, error) {
	dbc := dbctx.New(ctx)

	row, err := s.progRepo.GetByUserSubject(dbc, userID, subject)
	if err != nil {
		return types.ProgressMetricsSnapshot{Pace: types.PaceSlow}, err
	}

	latest, err := s.attemptRepo.LatestAttemptAt(dbc, userID)
	if err != nil {
		return types.ProgressMetricsSnapshot{Pace: types.PaceSlow}, err
	}

	if row != nil && !staleSnapshot(row, latest) {
		return row.Snapshot(), nil
	}

	// Duplicate concurrent recomputes for the same key collapse into one.
	key := userID.String() + "|" + normalizeSubject(subject)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.recompute(ctx, userID, subject, row)
	})
	if err != nil {
		return types.ProgressMetricsSnapshot{Pace: types.PaceSlow}, err
	}
	return v.(types.ProgressMetricsSnapshot), nil
}

func staleSnapshot(row *types.ProgressRow, latest *types.AttemptRow) bool {
	if row.ComputedAt == nil {
		return true
	}
	if latest == nil {
		return false
	}
	if row.LastAttemptAt == nil {
		return true
	}
	return latest.CreatedAt.After(*row.LastAttemptAt)
}

func (s *progressMetricsService) recompute(ctx context.Context, userID uuid.UUID, subject string, prev *types.ProgressRow) (types.ProgressMetricsSnapshot, error) {
	dbc := dbctx.New(ctx)

	attempts, err := s.attemptRepo.GetByUser(dbc, userID, attemptSampleLimit)
	if err != nil {
		return types.ProgressMetricsSnapshot{Pace: types.PaceSlow}, err
	}

	snap := s.Compute(attempts, subject, time.Now().UTC())

	row := prev
	if row == nil {
		row = &types.ProgressRow{
			ID:      uuid.New(),
			UserID:  userID,
			Subject: subject,
		}
	}
	computedAt := snap.ComputedAt
	row.AccuracyPct = snap.AccuracyPct
	row.Pace = string(snap.Pace)
	row.SampleSize = snap.SampleSize
	row.RecentSample = snap.RecentSample
	row.ComputedAt = &computedAt
	row.LastAttemptAt = snap.LastAttemptAt

	if err := s.progRepo.Upsert(dbc, row); err != nil {
		// Snapshot persistence is an optimization; serve the fresh values.
		s.log.Warn("Failed to persist metrics snapshot", "error", err, "subject", subject)
	}
	return snap, nil
}

// Compute filters attempts by subject (case-insensitive), widening to
// untagged attempts and then the full set so a cold-start subject still
// reports something when the learner has any history at all.
func (s *progressMetricsService) Compute(attempts []*types.AttemptRow, subject string, now time.Time) types.ProgressMetricsSnapshot {
	subjectNorm := normalizeSubject(subject)

	var tagged, untagged []*types.AttemptRow
	for _, a := range attempts {
		if a == nil {
			continue
		}
		if normalizeSubject(a.Subject) == subjectNorm && subjectNorm != "" {
			tagged = append(tagged, a)
		}
		if strings.TrimSpace(a.Subject) == "" {
			untagged = append(untagged, a)
		}
	}

	sample := tagged
	if len(sample) == 0 {
		sample = untagged
	}
	if len(sample) == 0 {
		sample = attempts
	}

	snap := types.ProgressMetricsSnapshot{
		Pace:       types.PaceSlow,
		ComputedAt: now,
		SampleSize: len(sample),
	}

	var correct, recent int
	var lastAt *time.Time
	cutoff := now.Add(-fastPaceWindow)
	for _, a := range sample {
		if a == nil {
			continue
		}
		if a.Correct {
			correct++
		}
		if a.CreatedAt.After(cutoff) {
			recent++
		}
		if lastAt == nil || a.CreatedAt.After(*lastAt) {
			t := a.CreatedAt
			lastAt = &t
		}
	}

	if len(sample) > 0 {
		pct := int(math.Round(100 * float64(correct) / float64(len(sample))))
		snap.AccuracyPct = &pct
	}
	snap.RecentSample = recent
	if recent > fastPaceThreshold {
		snap.Pace = types.PaceFast
	}
	snap.LastAttemptAt = lastAt
	return snap
}
