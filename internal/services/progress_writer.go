package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	learningRepos "github.com/yungbote/microlearn-backend/internal/data/repos/learning"
	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
	"github.com/yungbote/microlearn-backend/internal/platform/dbctx"
	"github.com/yungbote/microlearn-backend/internal/platform/logger"
)

// ProgressWriterService turns a served lesson into the single atomic state
// patch: cursor advance, delivery bookkeeping, embedding history, completion
// flip and next-topic hint. It also owns the preference/feedback writes.
type ProgressWriterService interface {
	CommitDelivery(ctx context.Context, in CommitDeliveryInput) (*types.PathStateRow, error)
	RecordFeedback(ctx context.Context, userID uuid.UUID, subject, lessonID, action string) error
	SetToneSignature(ctx context.Context, userID uuid.UUID, subject, tone string) error
}

type CommitDeliveryInput struct {
	UserID     uuid.UUID
	Subject    string
	Path       *types.LearningPath
	Cursor     types.PathCursor
	Completion types.CompletionMap
	Lesson     *types.Lesson
	Embedding  []float32
}

type progressWriterService struct {
	log       *logger.Logger
	pathRepo  learningRepos.PathStateRepo
	progRepo  learningRepos.ProgressRepo
	pathState PathStateService
}

func NewProgressWriterService(
	baseLog *logger.Logger,
	pathRepo learningRepos.PathStateRepo,
	progRepo learningRepos.ProgressRepo,
	pathState PathStateService,
) ProgressWriterService {
	return &progressWriterService{
		log:       baseLog.With("service", "ProgressWriterService"),
		pathRepo:  pathRepo,
		progRepo:  progRepo,
		pathState: pathState,
	}
}

func (s *progressWriterService) CommitDelivery(ctx context.Context, in CommitDeliveryInput) (*types.PathStateRow, error) {
	if in.Lesson == nil || in.Path == nil {
		return nil, fmt.Errorf("commit requires a lesson and a path")
	}
	if !in.Cursor.InBounds(in.Path) {
		return nil, fmt.Errorf("cursor out of bounds for path")
	}

	planned := in.Path.Topics[in.Cursor.TopicIndex].Subtopics[in.Cursor.SubtopicIndex].PlannedMiniLessons
	focus := in.Path.LabelAt(in.Cursor.TopicIndex, in.Cursor.SubtopicIndex)
	markCompleted := in.Cursor.DeliveredMiniCount+1 >= planned

	patch := types.ProgressPatch{
		Cursor:        in.Cursor,
		FocusLabel:    focus,
		LessonID:      in.Lesson.ID,
		LessonTitle:   in.Lesson.Title,
		Embedding:     in.Embedding,
		PlannedMini:   planned,
		MarkCompleted: markCompleted,
		// Every delivery refreshes the pointer; the scan starts strictly
		// after the cursor, so the focus pair's own state is irrelevant.
		NextTopic: s.pathState.NextIncompleteAfter(in.Path, in.Completion, in.Cursor),
	}

	row, err := s.pathRepo.ApplyProgressPatch(dbctx.New(ctx), in.UserID, in.Subject, patch)
	if err != nil {
		return nil, err
	}
	if markCompleted {
		s.log.Info("Subtopic completed", "subject", in.Subject, "label", focus)
	}
	return row, nil
}

// RecordFeedback files a like/dislike/save against the lesson id. Unknown
// actions are rejected; everything else is append-and-trim.
func (s *progressWriterService) RecordFeedback(ctx context.Context, userID uuid.UUID, subject, lessonID, action string) error {
	if lessonID == "" {
		return fmt.Errorf("feedback requires a lesson id")
	}

	dbc := dbctx.New(ctx)
	row, err := s.progRepo.GetByUserSubject(dbc, userID, subject)
	if err != nil {
		return err
	}
	if row == nil {
		row = &types.ProgressRow{
			ID:      uuid.New(),
			UserID:  userID,
			Subject: subject,
			Pace:    string(types.PaceSlow),
		}
	}

	prefs := row.DecodePreferences()
	switch action {
	case "like", "liked":
		prefs.Liked = types.PushRecent(prefs.Liked, lessonID, types.PreferenceRetention)
		prefs.Disliked = removeID(prefs.Disliked, lessonID)
	case "dislike", "disliked":
		prefs.Disliked = types.PushRecent(prefs.Disliked, lessonID, types.PreferenceRetention)
		prefs.Liked = removeID(prefs.Liked, lessonID)
	case "save", "saved":
		prefs.Saved = types.PushRecent(prefs.Saved, lessonID, types.PreferenceRetention)
	default:
		return fmt.Errorf("unknown feedback action %q", action)
	}

	raw, err := json.Marshal(prefs)
	if err != nil {
		return err
	}
	row.Preferences = datatypes.JSON(raw)
	return s.progRepo.Upsert(dbc, row)
}

func (s *progressWriterService) SetToneSignature(ctx context.Context, userID uuid.UUID, subject, tone string) error {
	return s.progRepo.UpdateFields(dbctx.New(ctx), userID, subject, map[string]interface{}{
		"tone_signature": tone,
	})
}

func removeID(list []string, id string) []string {
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
