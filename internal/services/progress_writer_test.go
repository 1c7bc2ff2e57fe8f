package services

import (
	"context"
	"testing"

	"github.com/google/uuid"

	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
	"github.com/yungbote/microlearn-backend/internal/platform/dbctx"
	"github.com/yungbote/microlearn-backend/internal/platform/logger"
)

type fakePathStateRepo struct {
	patches []types.ProgressPatch
}

func (f *fakePathStateRepo) GetByUserSubject(dbc dbctx.Context, userID uuid.UUID, subject string) (*types.PathStateRow, error) {
	return nil, nil
}

func (f *fakePathStateRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.PathStateRow, error) {
	return nil, nil
}

func (f *fakePathStateRepo) Upsert(dbc dbctx.Context, row *types.PathStateRow) error { return nil }

func (f *fakePathStateRepo) ApplyProgressPatch(dbc dbctx.Context, userID uuid.UUID, subject string, patch types.ProgressPatch) (*types.PathStateRow, error) {
	f.patches = append(f.patches, patch)
	return &types.PathStateRow{NextTopic: patch.NextTopic}, nil
}

func newWriterHarness(t *testing.T) (*progressWriterService, *fakePathStateRepo) {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	repo := &fakePathStateRepo{}
	svc := &progressWriterService{
		log:       log,
		pathRepo:  repo,
		progRepo:  &fakeProgRepo{},
		pathState: &pathStateService{},
	}
	return svc, repo
}

func TestCommitDeliveryMidBudget(t *testing.T) {
	svc, repo := newWriterHarness(t)
	path := twoTopicPath()

	lesson := &types.Lesson{ID: "l1", Title: "T"}
	_, err := svc.CommitDelivery(context.Background(), CommitDeliveryInput{
		UserID:  uuid.New(),
		Subject: "spanish",
		Path:    path,
		Cursor:  types.PathCursor{TopicIndex: 0, SubtopicIndex: 0, DeliveredMiniCount: 0},
		Lesson:  lesson,
	})
	if err != nil {
		t.Fatalf("CommitDelivery: %v", err)
	}
	if len(repo.patches) != 1 {
		t.Fatalf("patches = %d", len(repo.patches))
	}
	p := repo.patches[0]
	if p.MarkCompleted {
		t.Fatalf("completed mid-budget (delivered 1 of 2)")
	}
	if p.FocusLabel != "Topic 1 > Subtopic 1" || p.PlannedMini != 2 {
		t.Fatalf("patch = %+v", p)
	}
	// Mid-budget deliveries refresh the pointer too; the hint is not gated
	// on completion.
	if p.NextTopic != "Topic 1 > Subtopic 2" {
		t.Fatalf("next topic = %q, want the following subtopic", p.NextTopic)
	}
}

func TestCommitDeliveryCompletesAndHints(t *testing.T) {
	svc, repo := newWriterHarness(t)
	path := twoTopicPath()

	// Second of two planned mini-lessons: completes the pair and hints the
	// next incomplete one.
	_, err := svc.CommitDelivery(context.Background(), CommitDeliveryInput{
		UserID:  uuid.New(),
		Subject: "spanish",
		Path:    path,
		Cursor:  types.PathCursor{TopicIndex: 0, SubtopicIndex: 0, DeliveredMiniCount: 1},
		Lesson:  &types.Lesson{ID: "l2", Title: "T2"},
	})
	if err != nil {
		t.Fatalf("CommitDelivery: %v", err)
	}
	p := repo.patches[0]
	if !p.MarkCompleted {
		t.Fatalf("expected completion at budget")
	}
	if p.NextTopic != "Topic 1 > Subtopic 2" {
		t.Fatalf("next topic = %q", p.NextTopic)
	}
}

type memProgRepo struct {
	row *types.ProgressRow
}

func (m *memProgRepo) GetByUserSubject(dbc dbctx.Context, userID uuid.UUID, subject string) (*types.ProgressRow, error) {
	return m.row, nil
}

func (m *memProgRepo) Upsert(dbc dbctx.Context, row *types.ProgressRow) error {
	m.row = row
	return nil
}

func (m *memProgRepo) UpdateFields(dbc dbctx.Context, userID uuid.UUID, subject string, updates map[string]interface{}) error {
	return nil
}

func TestRecordFeedbackAcceptsBothActionForms(t *testing.T) {
	svc, _ := newWriterHarness(t)
	repo := &memProgRepo{}
	svc.progRepo = repo

	ctx := context.Background()
	userID := uuid.New()
	for lessonID, action := range map[string]string{
		"l1": "liked",
		"l2": "dislike",
		"l3": "saved",
	} {
		if err := svc.RecordFeedback(ctx, userID, "spanish", lessonID, action); err != nil {
			t.Fatalf("RecordFeedback(%s): %v", action, err)
		}
	}
	prefs := repo.row.DecodePreferences()
	if len(prefs.Liked) != 1 || prefs.Liked[0] != "l1" {
		t.Fatalf("liked = %v", prefs.Liked)
	}
	if len(prefs.Disliked) != 1 || prefs.Disliked[0] != "l2" {
		t.Fatalf("disliked = %v", prefs.Disliked)
	}
	if len(prefs.Saved) != 1 || prefs.Saved[0] != "l3" {
		t.Fatalf("saved = %v", prefs.Saved)
	}

	// Disliking a liked lesson moves it across lists, whichever spelling.
	if err := svc.RecordFeedback(ctx, userID, "spanish", "l1", "disliked"); err != nil {
		t.Fatalf("RecordFeedback(disliked): %v", err)
	}
	prefs = repo.row.DecodePreferences()
	if len(prefs.Liked) != 0 {
		t.Fatalf("liked after dislike = %v", prefs.Liked)
	}

	if err := svc.RecordFeedback(ctx, userID, "spanish", "l4", "meh"); err == nil {
		t.Fatalf("unknown action accepted")
	}
}

func TestCommitDeliveryRejectsBadInput(t *testing.T) {
	svc, _ := newWriterHarness(t)
	if _, err := svc.CommitDelivery(context.Background(), CommitDeliveryInput{}); err == nil {
		t.Fatalf("expected error without lesson and path")
	}
	if _, err := svc.CommitDelivery(context.Background(), CommitDeliveryInput{
		Path:   twoTopicPath(),
		Cursor: types.PathCursor{TopicIndex: 7},
		Lesson: &types.Lesson{ID: "x"},
	}); err == nil {
		t.Fatalf("expected error for out-of-bounds cursor")
	}
}
