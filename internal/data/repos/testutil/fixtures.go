package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
)

// SamplePath is a small two-topic path used across repo and service tests.
func SamplePath() *types.LearningPath {
	return &types.LearningPath{
		Topics: []types.Topic{
			{
				Name: "Topic 1",
				Subtopics: []types.Subtopic{
					{Name: "Subtopic 1", PlannedMiniLessons: 2},
					{Name: "Subtopic 2", PlannedMiniLessons: 1},
				},
			},
			{
				Name: "Topic 2",
				Subtopics: []types.Subtopic{
					{Name: "Subtopic 1", PlannedMiniLessons: 3},
				},
			},
		},
	}
}

func SeedPathState(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, subject string, path *types.LearningPath) *types.PathStateRow {
	tb.Helper()
	raw, err := json.Marshal(path)
	if err != nil {
		tb.Fatalf("marshal path: %v", err)
	}
	row := &types.PathStateRow{
		ID:      uuid.New(),
		UserID:  userID,
		Subject: subject,
		Path:    datatypes.JSON(raw),
	}
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		tb.Fatalf("seed path state: %v", err)
	}
	return row
}

func SeedAttempt(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, subject string, correct bool, at time.Time) *types.AttemptRow {
	tb.Helper()
	a := &types.AttemptRow{
		ID:        uuid.New(),
		UserID:    userID,
		Subject:   subject,
		LessonID:  uuid.NewString(),
		Correct:   correct,
		CreatedAt: at,
	}
	if err := tx.WithContext(ctx).Create(a).Error; err != nil {
		tb.Fatalf("seed attempt: %v", err)
	}
	return a
}

func SeedCachedLesson(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, subject, topicLabel, persona string, cachedAt time.Time) *types.CachedLessonRow {
	tb.Helper()
	lesson := types.Lesson{
		ID:         uuid.NewString(),
		Title:      "lesson " + uuid.NewString()[:8],
		TopicLabel: topicLabel,
		Body:       "body",
		Question: types.LessonQuestion{
			Prompt:      "q",
			Choices:     []string{"a", "b"},
			AnswerIndex: 0,
		},
	}
	raw, err := json.Marshal(lesson)
	if err != nil {
		tb.Fatalf("marshal lesson: %v", err)
	}
	row := &types.CachedLessonRow{
		ID:          uuid.New(),
		UserID:      userID,
		Subject:     subject,
		TopicLabel:  topicLabel,
		LessonID:    lesson.ID,
		Lesson:      datatypes.JSON(raw),
		PersonaHash: persona,
		CachedAt:    cachedAt,
	}
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		tb.Fatalf("seed cached lesson: %v", err)
	}
	return row
}

func PtrInt(v int) *int { return &v }

func PtrTime(v time.Time) *time.Time { return &v }
