package learning

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/microlearn-backend/internal/data/repos/testutil"
	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
	"github.com/yungbote/microlearn-backend/internal/platform/dbctx"
)

func TestLessonCacheRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewLessonCacheRepo(db, testutil.Logger(t))

	userID := uuid.New()
	key := types.CacheKey{UserID: userID, Subject: "spanish", TopicLabel: "Topic 1 > Subtopic 1"}
	now := time.Now().UTC()

	fresh := testutil.SeedCachedLesson(t, ctx, tx, userID, "spanish", key.TopicLabel, "p1", now.Add(-time.Hour))
	older := testutil.SeedCachedLesson(t, ctx, tx, userID, "spanish", key.TopicLabel, "p1", now.Add(-48*time.Hour))
	testutil.SeedCachedLesson(t, ctx, tx, userID, "spanish", key.TopicLabel, "p1", now.Add(-20*24*time.Hour))
	testutil.SeedCachedLesson(t, ctx, tx, userID, "spanish", "Topic 1 > Subtopic 2", "p1", now)

	rows, err := repo.ListByKey(dbc, key, types.LessonCacheMaxAge)
	if err != nil {
		t.Fatalf("ListByKey: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("ListByKey: len=%d, want 2 (expired and other-label rows excluded)", len(rows))
	}
	if rows[0].ID != fresh.ID || rows[1].ID != older.ID {
		t.Fatalf("ListByKey order: got %v then %v", rows[0].ID, rows[1].ID)
	}

	if rows, err := repo.ListByKey(dbc, key, 0); err != nil || len(rows) != 3 {
		t.Fatalf("ListByKey(no age filter): err=%v len=%d", err, len(rows))
	}

	if err := repo.DeleteByIDs(dbc, []uuid.UUID{older.ID}); err != nil {
		t.Fatalf("DeleteByIDs: %v", err)
	}
	if rows, err := repo.ListByKey(dbc, key, types.LessonCacheMaxAge); err != nil || len(rows) != 1 {
		t.Fatalf("after delete: err=%v len=%d", err, len(rows))
	}

	if n, err := repo.DeleteExpired(dbc, types.LessonCacheMaxAge); err != nil || n != 1 {
		t.Fatalf("DeleteExpired: n=%d err=%v", n, err)
	}
}

func TestLessonCacheRepoPutReplacesSameLesson(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewLessonCacheRepo(db, testutil.Logger(t))

	userID := uuid.New()
	key := types.CacheKey{UserID: userID, Subject: "spanish", TopicLabel: "Topic 1 > Subtopic 1"}
	seed := testutil.SeedCachedLesson(t, ctx, tx, userID, "spanish", key.TopicLabel, "p1", time.Now().UTC())

	replacement := &types.CachedLessonRow{
		ID:          uuid.New(),
		UserID:      userID,
		Subject:     "spanish",
		TopicLabel:  key.TopicLabel,
		LessonID:    seed.LessonID,
		Lesson:      seed.Lesson,
		PersonaHash: "p2",
		CachedAt:    time.Now().UTC(),
	}
	if err := repo.Put(dbc, replacement); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rows, err := repo.ListByKey(dbc, key, 0)
	if err != nil || len(rows) != 1 {
		t.Fatalf("Put must replace, not duplicate: err=%v len=%d", err, len(rows))
	}
	if rows[0].PersonaHash != "p2" {
		t.Fatalf("replacement not persisted: %+v", rows[0])
	}
}
