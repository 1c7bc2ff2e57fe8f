package learning

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/microlearn-backend/internal/data/repos/testutil"
	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
	"github.com/yungbote/microlearn-backend/internal/platform/dbctx"
)

func TestPathStateRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewPathStateRepo(db, testutil.Logger(t))

	userID := uuid.New()
	path := testutil.SamplePath()
	row := testutil.SeedPathState(t, ctx, tx, userID, "spanish", path)

	got, err := repo.GetByUserSubject(dbc, userID, "spanish")
	if err != nil || got == nil || got.ID != row.ID {
		t.Fatalf("GetByUserSubject: got=%v err=%v", got, err)
	}
	if got, err := repo.GetByUserSubject(dbc, userID, "statistics"); err != nil || got != nil {
		t.Fatalf("GetByUserSubject(miss): got=%v err=%v", got, err)
	}

	if rows, err := repo.ListByUser(dbc, userID); err != nil || len(rows) != 1 {
		t.Fatalf("ListByUser: err=%v len=%d", err, len(rows))
	}

	// Upsert on the same (user, subject) must update in place.
	row.NextTopic = "Topic 2 > Subtopic 1"
	if err := repo.Upsert(dbc, row); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if rows, err := repo.ListByUser(dbc, userID); err != nil || len(rows) != 1 {
		t.Fatalf("Upsert duplicated the row: err=%v len=%d", err, len(rows))
	}
}

func TestPathStateRepoApplyProgressPatch(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewPathStateRepo(db, testutil.Logger(t))

	userID := uuid.New()
	path := testutil.SamplePath()
	testutil.SeedPathState(t, ctx, tx, userID, "spanish", path)

	patch := types.ProgressPatch{
		Cursor:      types.PathCursor{TopicIndex: 0, SubtopicIndex: 0, DeliveredMiniCount: 0},
		FocusLabel:  "Topic 1 > Subtopic 1",
		LessonID:    "lesson-1",
		LessonTitle: "First Lesson",
		Embedding:   []float32{0.1, 0.2},
		PlannedMini: 2,
	}
	updated, err := repo.ApplyProgressPatch(dbc, userID, "spanish", patch)
	if err != nil {
		t.Fatalf("ApplyProgressPatch: %v", err)
	}
	if updated.DeliveredMiniCount != 1 {
		t.Fatalf("delivered = %d, want 1", updated.DeliveredMiniCount)
	}
	rec := updated.DecodeDelivery()["Topic 1 > Subtopic 1"]
	if len(rec.IDs) != 1 || rec.IDs[0] != "lesson-1" || rec.Titles[0] != "First Lesson" {
		t.Fatalf("delivery record = %+v", rec)
	}
	if embs := updated.DecodeRecentEmbeddings(); len(embs) != 1 {
		t.Fatalf("recent embeddings = %d, want 1", len(embs))
	}
	if updated.DecodeCompletion()["Topic 1 > Subtopic 1"] {
		t.Fatalf("completion set before budget exhausted")
	}

	// Second delivery exhausts the 2-lesson budget and completes the pair.
	patch.Cursor.DeliveredMiniCount = 1
	patch.LessonID = "lesson-2"
	patch.LessonTitle = "Second Lesson"
	patch.MarkCompleted = true
	patch.NextTopic = "Topic 1 > Subtopic 2"
	updated, err = repo.ApplyProgressPatch(dbc, userID, "spanish", patch)
	if err != nil {
		t.Fatalf("ApplyProgressPatch(2): %v", err)
	}
	if updated.DeliveredMiniCount != 2 {
		t.Fatalf("delivered = %d, want 2 (capped at planned)", updated.DeliveredMiniCount)
	}
	if !updated.DecodeCompletion()["Topic 1 > Subtopic 1"] {
		t.Fatalf("completion not recorded")
	}
	if updated.NextTopic != "Topic 1 > Subtopic 2" {
		t.Fatalf("next topic = %q", updated.NextTopic)
	}
	rec = updated.DecodeDelivery()["Topic 1 > Subtopic 1"]
	if len(rec.IDs) != 2 {
		t.Fatalf("delivery ids = %d, want 2", len(rec.IDs))
	}
}

func TestPathStateRepoDeliveryRetentionCap(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewPathStateRepo(db, testutil.Logger(t))

	userID := uuid.New()
	testutil.SeedPathState(t, ctx, tx, userID, "spanish", testutil.SamplePath())

	for i := 0; i < types.DeliveryRetention+5; i++ {
		patch := types.ProgressPatch{
			Cursor:      types.PathCursor{},
			FocusLabel:  "Topic 1 > Subtopic 1",
			LessonID:    uuid.NewString(),
			LessonTitle: "t",
			PlannedMini: 100,
		}
		if _, err := repo.ApplyProgressPatch(dbc, userID, "spanish", patch); err != nil {
			t.Fatalf("ApplyProgressPatch(%d): %v", i, err)
		}
	}

	row, err := repo.GetByUserSubject(dbc, userID, "spanish")
	if err != nil {
		t.Fatalf("GetByUserSubject: %v", err)
	}
	rec := row.DecodeDelivery()["Topic 1 > Subtopic 1"]
	if len(rec.IDs) != types.DeliveryRetention {
		t.Fatalf("delivery ids = %d, want cap %d", len(rec.IDs), types.DeliveryRetention)
	}
}
