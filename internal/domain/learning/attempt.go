package learning

import (
	"time"

	"github.com/google/uuid"
)

// AttemptRow is one answered question. Subject may be empty for attempts
// recorded before subject tagging existed; the metrics fallback relies on
// that distinction.
type AttemptRow struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Subject   string    `gorm:"column:subject;index" json:"subject,omitempty"`
	LessonID  string    `gorm:"column:lesson_id" json:"lesson_id,omitempty"`
	Correct   bool      `gorm:"column:correct;not null" json:"correct"`
	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (AttemptRow) TableName() string { return "attempt" }
