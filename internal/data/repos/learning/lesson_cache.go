package learning

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
	"github.com/yungbote/microlearn-backend/internal/platform/dbctx"
	"github.com/yungbote/microlearn-backend/internal/platform/logger"
)

type LessonCacheRepo interface {
	// ListByKey returns non-expired entries, most recent first.
	ListByKey(dbc dbctx.Context, key types.CacheKey, maxAge time.Duration) ([]*types.CachedLessonRow, error)
	// Put inserts the entry, evicting any row with the same lesson id first.
	Put(dbc dbctx.Context, row *types.CachedLessonRow) error
	DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) error
	DeleteExpired(dbc dbctx.Context, maxAge time.Duration) (int64, error)
}

type lessonCacheRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLessonCacheRepo(db *gorm.DB, baseLog *logger.Logger) LessonCacheRepo {
	return &lessonCacheRepo{db: db, log: baseLog.With("repo", "LessonCacheRepo")}
}

func (r *lessonCacheRepo) ListByKey(dbc dbctx.Context, key types.CacheKey, maxAge time.Duration) ([]*types.CachedLessonRow, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.CachedLessonRow
	if key.UserID == uuid.Nil || key.Subject == "" || key.TopicLabel == "" {
		return out, nil
	}
	q := t.WithContext(dbc.Ctx).
		Where("user_id = ? AND subject = ? AND topic_label = ?", key.UserID, key.Subject, key.TopicLabel)
	if maxAge > 0 {
		q = q.Where("cached_at > ?", time.Now().UTC().Add(-maxAge))
	}
	if err := q.Order("cached_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *lessonCacheRepo) Put(dbc dbctx.Context, row *types.CachedLessonRow) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if row == nil {
		return nil
	}
	return t.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		if row.LessonID != "" {
			if err := tx.
				Where("user_id = ? AND subject = ? AND topic_label = ? AND lesson_id = ?",
					row.UserID, row.Subject, row.TopicLabel, row.LessonID).
				Delete(&types.CachedLessonRow{}).Error; err != nil {
				return err
			}
		}
		return tx.Create(row).Error
	})
}

func (r *lessonCacheRepo) DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	return t.WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Delete(&types.CachedLessonRow{}).Error
}

func (r *lessonCacheRepo) DeleteExpired(dbc dbctx.Context, maxAge time.Duration) (int64, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if maxAge <= 0 {
		return 0, nil
	}
	res := t.WithContext(dbc.Ctx).
		Where("cached_at <= ?", time.Now().UTC().Add(-maxAge)).
		Delete(&types.CachedLessonRow{})
	return res.RowsAffected, res.Error
}
