package learning

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// LessonQuestion is the single check-for-understanding question attached to
// a micro-lesson.
type LessonQuestion struct {
	Prompt      string   `json:"prompt"`
	Choices     []string `json:"choices"`
	AnswerIndex int      `json:"answer_index"`
	Explanation string   `json:"explanation,omitempty"`
}

// Lesson is one generated micro-lesson payload.
type Lesson struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	TopicLabel       string         `json:"topic_label"`
	Body             string         `json:"body"`
	KeyTakeaway      string         `json:"key_takeaway,omitempty"`
	Question         LessonQuestion `json:"question"`
	EstimatedMinutes int            `json:"estimated_minutes,omitempty"`
}

// CachedLesson is a lesson retained for reuse, fingerprinted with the
// persona it was generated for.
type CachedLesson struct {
	Lesson        Lesson    `json:"lesson"`
	CachedAt      time.Time `json:"cached_at"`
	PersonaHash   string    `json:"persona_hash"`
	Embedding     []float32 `json:"embedding,omitempty"`
	NextTopicHint string    `json:"next_topic_hint,omitempty"`
}

const (
	// LessonCacheCap is the retained-lesson count per (user, subject, label).
	LessonCacheCap = 5
	// LessonCacheMaxAge expires entries regardless of slot pressure.
	LessonCacheMaxAge = 14 * 24 * time.Hour
)

// PendingLesson is a fully generated lesson queued ahead of demand. It is
// re-validated at consumption time and discarded on any mismatch.
type PendingLesson struct {
	Lesson      Lesson    `json:"lesson"`
	TopicLabel  string    `json:"topic_label"`
	PersonaHash string    `json:"persona_hash"`
	Embedding   []float32 `json:"embedding,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

const PendingQueueMaxDepth = 2

// CachedLessonRow is the persisted cache entry.
type CachedLessonRow struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID        uuid.UUID      `gorm:"type:uuid;not null;index:idx_lesson_cache_key,priority:1" json:"user_id"`
	Subject       string         `gorm:"column:subject;not null;index:idx_lesson_cache_key,priority:2" json:"subject"`
	TopicLabel    string         `gorm:"column:topic_label;not null;index:idx_lesson_cache_key,priority:3" json:"topic_label"`
	LessonID      string         `gorm:"column:lesson_id;not null;index" json:"lesson_id"`
	Lesson        datatypes.JSON `gorm:"column:lesson;type:jsonb;not null" json:"lesson"`
	PersonaHash   string         `gorm:"column:persona_hash;not null" json:"persona_hash"`
	Embedding     datatypes.JSON `gorm:"column:embedding;type:jsonb" json:"-"`
	NextTopicHint string         `gorm:"column:next_topic_hint" json:"next_topic_hint,omitempty"`
	CachedAt      time.Time      `gorm:"column:cached_at;not null;default:now();index" json:"cached_at"`
}

func (CachedLessonRow) TableName() string { return "lesson_cache" }

func (r *CachedLessonRow) Decode() (CachedLesson, error) {
	out := CachedLesson{
		CachedAt:      r.CachedAt,
		PersonaHash:   r.PersonaHash,
		NextTopicHint: r.NextTopicHint,
	}
	if err := json.Unmarshal(r.Lesson, &out.Lesson); err != nil {
		return out, err
	}
	if len(r.Embedding) > 0 {
		_ = json.Unmarshal(r.Embedding, &out.Embedding)
	}
	return out, nil
}
