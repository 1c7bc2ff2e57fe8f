package learning

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
	"github.com/yungbote/microlearn-backend/internal/platform/dbctx"
	"github.com/yungbote/microlearn-backend/internal/platform/logger"
)

type ProgressRepo interface {
	GetByUserSubject(dbc dbctx.Context, userID uuid.UUID, subject string) (*types.ProgressRow, error)
	Upsert(dbc dbctx.Context, row *types.ProgressRow) error
	UpdateFields(dbc dbctx.Context, userID uuid.UUID, subject string, updates map[string]interface{}) error
}

type progressRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProgressRepo(db *gorm.DB, baseLog *logger.Logger) ProgressRepo {
	return &progressRepo{db: db, log: baseLog.With("repo", "ProgressRepo")}
}

func (r *progressRepo) GetByUserSubject(dbc dbctx.Context, userID uuid.UUID, subject string) (*types.ProgressRow, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if userID == uuid.Nil || subject == "" {
		return nil, nil
	}
	var out types.ProgressRow
	err := t.WithContext(dbc.Ctx).
		Where("user_id = ? AND subject = ?", userID, subject).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *progressRepo) Upsert(dbc dbctx.Context, row *types.ProgressRow) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if row == nil {
		return nil
	}
	row.UpdatedAt = time.Now().UTC()
	return t.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "subject"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"accuracy_pct", "pace", "sample_size", "recent_sample",
				"computed_at", "last_attempt_at", "preferences", "tone_signature", "updated_at",
			}),
		}).
		Create(row).Error
}

func (r *progressRepo) UpdateFields(dbc dbctx.Context, userID uuid.UUID, subject string, updates map[string]interface{}) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if userID == uuid.Nil || subject == "" || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return t.WithContext(dbc.Ctx).
		Model(&types.ProgressRow{}).
		Where("user_id = ? AND subject = ?", userID, subject).
		Updates(updates).Error
}
