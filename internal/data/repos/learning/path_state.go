package learning

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
	"github.com/yungbote/microlearn-backend/internal/platform/dbctx"
	"github.com/yungbote/microlearn-backend/internal/platform/logger"
)

type PathStateRepo interface {
	GetByUserSubject(dbc dbctx.Context, userID uuid.UUID, subject string) (*types.PathStateRow, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.PathStateRow, error)
	Upsert(dbc dbctx.Context, row *types.PathStateRow) error
	// ApplyProgressPatch applies the full post-delivery patch as one atomic
	// store operation (row lock inside a single transaction).
	ApplyProgressPatch(dbc dbctx.Context, userID uuid.UUID, subject string, patch types.ProgressPatch) (*types.PathStateRow, error)
}

type pathStateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPathStateRepo(db *gorm.DB, baseLog *logger.Logger) PathStateRepo {
	return &pathStateRepo{db: db, log: baseLog.With("repo", "PathStateRepo")}
}

func (r *pathStateRepo) GetByUserSubject(dbc dbctx.Context, userID uuid.UUID, subject string) (*types.PathStateRow, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if userID == uuid.Nil || subject == "" {
		return nil, nil
	}
	var out types.PathStateRow
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

func (r *pathStateRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.PathStateRow, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.PathStateRow
	if userID == uuid.Nil {
		return out, nil
	}
	if err := t.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *pathStateRepo) Upsert(dbc dbctx.Context, row *types.PathStateRow) error {
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
				"path", "topic_index", "subtopic_index", "delivered_mini_count",
				"completion", "delivery", "recent_embeddings", "next_topic", "updated_at",
			}),
		}).
		Create(row).Error
}

func (r *pathStateRepo) ApplyProgressPatch(dbc dbctx.Context, userID uuid.UUID, subject string, patch types.ProgressPatch) (*types.PathStateRow, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out *types.PathStateRow

	err := t.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var row types.PathStateRow
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND subject = ?", userID, subject).
			First(&row).Error; err != nil {
			return err
		}

		row.TopicIndex = patch.Cursor.TopicIndex
		row.SubtopicIndex = patch.Cursor.SubtopicIndex
		delivered := patch.Cursor.DeliveredMiniCount + 1
		if patch.PlannedMini > 0 && delivered > patch.PlannedMini {
			delivered = patch.PlannedMini
		}
		row.DeliveredMiniCount = delivered

		if patch.LessonID != "" && patch.FocusLabel != "" {
			log := row.DecodeDelivery()
			rec := log[patch.FocusLabel]
			rec.IDs = appendCapped(rec.IDs, patch.LessonID, types.DeliveryRetention)
			rec.Titles = appendCapped(rec.Titles, patch.LessonTitle, types.DeliveryRetention)
			log[patch.FocusLabel] = rec
			raw, err := json.Marshal(log)
			if err != nil {
				return err
			}
			row.Delivery = datatypes.JSON(raw)
		}

		if len(patch.Embedding) > 0 {
			embs := row.DecodeRecentEmbeddings()
			embs = append(embs, patch.Embedding)
			if len(embs) > types.RecentEmbeddingWindow {
				embs = embs[len(embs)-types.RecentEmbeddingWindow:]
			}
			raw, err := json.Marshal(embs)
			if err != nil {
				return err
			}
			row.RecentEmbeddings = datatypes.JSON(raw)
		}

		if patch.MarkCompleted && patch.FocusLabel != "" {
			completion := row.DecodeCompletion()
			completion[patch.FocusLabel] = true
			raw, err := json.Marshal(completion)
			if err != nil {
				return err
			}
			row.Completion = datatypes.JSON(raw)
		}

		if patch.NextTopic != "" {
			row.NextTopic = patch.NextTopic
		}
		row.UpdatedAt = time.Now().UTC()

		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		out = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// appendCapped appends keeping insertion order and trims to the most-recent
// cap entries.
func appendCapped(list []string, v string, limit int) []string {
	list = append(list, v)
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}
