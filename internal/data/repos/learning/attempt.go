package learning

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
	"github.com/yungbote/microlearn-backend/internal/platform/dbctx"
	"github.com/yungbote/microlearn-backend/internal/platform/logger"
)

type AttemptRepo interface {
	Create(dbc dbctx.Context, rows []*types.AttemptRow) ([]*types.AttemptRow, error)
	// GetByUser returns the most recent attempts first. The subject filter
	// lives in the metrics service, not here: the widening fallback needs
	// the full set anyway.
	GetByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.AttemptRow, error)
	LatestAttemptAt(dbc dbctx.Context, userID uuid.UUID) (*types.AttemptRow, error)
}

type attemptRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAttemptRepo(db *gorm.DB, baseLog *logger.Logger) AttemptRepo {
	return &attemptRepo{db: db, log: baseLog.With("repo", "AttemptRepo")}
}

func (r *attemptRepo) Create(dbc dbctx.Context, rows []*types.AttemptRow) ([]*types.AttemptRow, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if len(rows) == 0 {
		return []*types.AttemptRow{}, nil
	}
	if err := t.WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *attemptRepo) GetByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.AttemptRow, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.AttemptRow
	if userID == uuid.Nil {
		return out, nil
	}
	q := t.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *attemptRepo) LatestAttemptAt(dbc dbctx.Context, userID uuid.UUID) (*types.AttemptRow, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if userID == uuid.Nil {
		return nil, nil
	}
	var out types.AttemptRow
	err := t.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&out).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}
