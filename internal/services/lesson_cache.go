package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	learningRepos "github.com/yungbote/microlearn-backend/internal/data/repos/learning"
	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
	"github.com/yungbote/microlearn-backend/internal/platform/dbctx"
	"github.com/yungbote/microlearn-backend/internal/platform/logger"
)

// LessonCacheService keeps up to LessonCacheCap recent lessons per
// (user, subject, topic label), fingerprinted by persona. Stale-persona
// entries are retained (cheap reuse if the persona reverts) but never
// served.
type LessonCacheService interface {
	Get(ctx context.Context, key types.CacheKey) ([]types.CachedLesson, error)
	Put(ctx context.Context, key types.CacheKey, lesson types.CachedLesson) error
	// Select picks the first servable entry: current persona, not excluded,
	// not a near-duplicate of the recent embeddings. Failing entries are
	// skipped, not evicted.
	Select(entries []types.CachedLesson, personaHash string, gr Guardrails, recentEmbeddings [][]float32, dedup DedupService) *types.CachedLesson
	// StartJanitor sweeps rows past the max age on a fixed interval until
	// ctx is done. Reads already filter by age; the sweep just reclaims
	// storage.
	StartJanitor(ctx context.Context, interval time.Duration)
}

type lessonCacheService struct {
	log  *logger.Logger
	repo learningRepos.LessonCacheRepo
}

func NewLessonCacheService(baseLog *logger.Logger, repo learningRepos.LessonCacheRepo) LessonCacheService {
	return &lessonCacheService{log: baseLog.With("service", "LessonCacheService"), repo: repo}
}

func (s *lessonCacheService) Get(ctx context.Context, key types.CacheKey) ([]types.CachedLesson, error) {
	rows, err := s.repo.ListByKey(dbctx.New(ctx), key, types.LessonCacheMaxAge)
	if err != nil {
		return nil, err
	}
	out := make([]types.CachedLesson, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		cl, decErr := row.Decode()
		if decErr != nil {
			s.log.Warn("Dropping undecodable cache entry", "cache_row_id", row.ID, "error", decErr)
			continue
		}
		out = append(out, cl)
		if len(out) >= types.LessonCacheCap {
			break
		}
	}
	return out, nil
}

func (s *lessonCacheService) Put(ctx context.Context, key types.CacheKey, lesson types.CachedLesson) error {
	dbc := dbctx.New(ctx)

	lessonRaw, err := json.Marshal(lesson.Lesson)
	if err != nil {
		return err
	}
	row := &types.CachedLessonRow{
		ID:            uuid.New(),
		UserID:        key.UserID,
		Subject:       key.Subject,
		TopicLabel:    key.TopicLabel,
		LessonID:      lesson.Lesson.ID,
		Lesson:        datatypes.JSON(lessonRaw),
		PersonaHash:   lesson.PersonaHash,
		NextTopicHint: lesson.NextTopicHint,
		CachedAt:      time.Now().UTC(),
	}
	if len(lesson.Embedding) > 0 {
		if embRaw, mErr := json.Marshal(lesson.Embedding); mErr == nil {
			row.Embedding = datatypes.JSON(embRaw)
		}
	}
	if err := s.repo.Put(dbc, row); err != nil {
		return err
	}

	return s.trim(dbc, key, lesson.PersonaHash)
}

func (s *lessonCacheService) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		s.log.Info("Lesson cache janitor started", "interval", interval)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.log.Info("Lesson cache janitor stopped")
				return
			case <-ticker.C:
				s.sweepExpired(ctx)
			}
		}
	}()
}

func (s *lessonCacheService) sweepExpired(ctx context.Context) {
	n, err := s.repo.DeleteExpired(dbctx.New(ctx), types.LessonCacheMaxAge)
	if err != nil {
		s.log.Warn("Lesson cache sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("Expired cached lessons removed", "count", n)
	}
}

// trim enforces the per-label cap, evicting oldest-first among entries not
// matching the current persona before touching matching ones.
func (s *lessonCacheService) trim(dbc dbctx.Context, key types.CacheKey, currentPersona string) error {
	rows, err := s.repo.ListByKey(dbc, key, 0)
	if err != nil {
		return err
	}
	excess := len(rows) - types.LessonCacheCap
	if excess <= 0 {
		return nil
	}

	victims := make([]uuid.UUID, 0, excess)
	// rows are most-recent-first; walk from the oldest.
	for i := len(rows) - 1; i >= 0 && len(victims) < excess; i-- {
		if rows[i].PersonaHash != currentPersona {
			victims = append(victims, rows[i].ID)
		}
	}
	for i := len(rows) - 1; i >= 0 && len(victims) < excess; i-- {
		if rows[i].PersonaHash == currentPersona && !containsID(victims, rows[i].ID) {
			victims = append(victims, rows[i].ID)
		}
	}
	return s.repo.DeleteByIDs(dbc, victims)
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (s *lessonCacheService) Select(entries []types.CachedLesson, personaHash string, gr Guardrails, recentEmbeddings [][]float32, dedup DedupService) *types.CachedLesson {
	for i := range entries {
		e := &entries[i]
		if e.PersonaHash != personaHash {
			continue
		}
		if gr.ExcludesID(e.Lesson.ID) || gr.ExcludesTitle(e.Lesson.Title) {
			continue
		}
		if dedup != nil && len(e.Embedding) > 0 {
			if dedup.IsNearDuplicate(dedup.MaxSimilarity(e.Embedding, recentEmbeddings)) {
				continue
			}
		}
		return e
	}
	return nil
}
