package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
	"github.com/yungbote/microlearn-backend/internal/platform/dbctx"
	"github.com/yungbote/microlearn-backend/internal/platform/logger"
)

// --- fakes -----------------------------------------------------------------

type fakePathState struct {
	pathStateService // embeds the real NextFocus/NextIncompleteAfter

	row  *types.PathStateRow
	path *types.LearningPath
}

func (f *fakePathState) Load(ctx context.Context, userID uuid.UUID, subject string) (*types.PathStateRow, *types.LearningPath, error) {
	return f.row, f.path, nil
}

func (f *fakePathState) Ensure(ctx context.Context, userID uuid.UUID, subject, masteryEstimate, paceNote string) (*types.PathStateRow, *types.LearningPath, error) {
	return f.row, f.path, nil
}

func (f *fakePathState) ListByUser(ctx context.Context, userID uuid.UUID) ([]*types.PathStateRow, error) {
	if f.row == nil {
		return nil, nil
	}
	return []*types.PathStateRow{f.row}, nil
}

type fakeMetrics struct {
	snap types.ProgressMetricsSnapshot
}

func (f *fakeMetrics) Snapshot(ctx context.Context, userID uuid.UUID, subject string) (types.ProgressMetricsSnapshot, error) {
	return f.snap, nil
}

func (f *fakeMetrics) Compute(attempts []*types.AttemptRow, subject string, now time.Time) types.ProgressMetricsSnapshot {
	return f.snap
}

func (f *fakeMetrics) RecordAttempt(ctx context.Context, row *types.AttemptRow) error { return nil }

type fakeProgRepo struct{}

func (f *fakeProgRepo) GetByUserSubject(dbc dbctx.Context, userID uuid.UUID, subject string) (*types.ProgressRow, error) {
	return nil, nil
}
func (f *fakeProgRepo) Upsert(dbc dbctx.Context, row *types.ProgressRow) error { return nil }
func (f *fakeProgRepo) UpdateFields(dbc dbctx.Context, userID uuid.UUID, subject string, updates map[string]interface{}) error {
	return nil
}

type fakeCurriculum struct{}

func (f *fakeCurriculum) CourseFor(subject string) (*CurriculumCourse, bool) {
	if normalizeSubject(subject) == "spanish" {
		return &CurriculumCourse{Subject: "spanish", Title: "Spanish", Description: "desc"}, true
	}
	return nil, false
}

func (f *fakeCurriculum) DefaultInterests() []string { return []string{"spanish"} }

type fakeCache struct {
	lessonCacheService // real Select

	entries []types.CachedLesson
	puts    []types.CachedLesson
}

func (f *fakeCache) Get(ctx context.Context, key types.CacheKey) ([]types.CachedLesson, error) {
	return f.entries, nil
}

func (f *fakeCache) Put(ctx context.Context, key types.CacheKey, lesson types.CachedLesson) error {
	f.puts = append(f.puts, lesson)
	return nil
}

type fakePending struct {
	entry  *types.PendingLesson
	topUps int
}

func (f *fakePending) Consume(ctx context.Context, key types.SubjectKey, personaHash string, gr Guardrails, recentEmbeddings [][]float32) (*types.PendingLesson, bool, error) {
	if f.entry == nil || f.entry.PersonaHash != personaHash {
		return nil, false, nil
	}
	e := f.entry
	f.entry = nil
	return e, true, nil
}

func (f *fakePending) RequestTopUp(key types.SubjectKey) { f.topUps++ }

func (f *fakePending) FillNow(ctx context.Context, userID uuid.UUID, subject, topicLabel string, count int) (*FillResult, error) {
	return &FillResult{MaxCount: types.PendingQueueMaxDepth}, nil
}

func (f *fakePending) StartWorker(ctx context.Context) {}

type fakeGenerator struct {
	calls  int
	lesson *types.Lesson
}

func (f *fakeGenerator) GenerateLesson(ctx context.Context, sc StructuredContext, speed ModelSpeed) (*types.Lesson, error) {
	f.calls++
	l := *f.lesson
	l.TopicLabel = sc.FocusLabel
	return &l, nil
}

func (f *fakeGenerator) GeneratePath(ctx context.Context, course *CurriculumCourse, masteryEstimate, paceNote string) (*types.LearningPath, error) {
	return twoTopicPath(), nil
}

type fakeWriter struct {
	commits []CommitDeliveryInput
}

func (f *fakeWriter) CommitDelivery(ctx context.Context, in CommitDeliveryInput) (*types.PathStateRow, error) {
	f.commits = append(f.commits, in)
	return nil, nil
}

func (f *fakeWriter) RecordFeedback(ctx context.Context, userID uuid.UUID, subject, lessonID, action string) error {
	return nil
}

func (f *fakeWriter) SetToneSignature(ctx context.Context, userID uuid.UUID, subject, tone string) error {
	return nil
}

// --- harness ---------------------------------------------------------------

type deliveryHarness struct {
	svc       *deliveryService
	cache     *fakeCache
	pending   *fakePending
	generator *fakeGenerator
	writer    *fakeWriter
	persona   string
}

func newDeliveryHarness(t *testing.T) *deliveryHarness {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	path := twoTopicPath()
	raw, _ := json.Marshal(path)
	row := &types.PathStateRow{
		ID:      uuid.New(),
		UserID:  uuid.New(),
		Subject: "spanish",
		Path:    datatypes.JSON(raw),
	}

	snap := types.ProgressMetricsSnapshot{Pace: types.PaceSlow}
	assembler := &contextAssembler{log: log}

	h := &deliveryHarness{
		cache:   &fakeCache{},
		pending: &fakePending{},
		generator: &fakeGenerator{lesson: &types.Lesson{
			ID:    uuid.NewString(),
			Title: "Fresh Lesson",
			Body:  "body",
			Question: types.LessonQuestion{
				Prompt: "q", Choices: []string{"a", "b"}, AnswerIndex: 0,
			},
		}},
		writer:  &fakeWriter{},
		persona: assembler.Persona(snap, ""),
	}
	h.svc = &deliveryService{
		log:        log,
		pathState:  &fakePathState{row: row, path: path},
		metrics:    &fakeMetrics{snap: snap},
		progRepo:   &fakeProgRepo{},
		curric:     &fakeCurriculum{},
		assembler:  assembler,
		cache:      h.cache,
		pending:    h.pending,
		generator:  h.generator,
		dedup:      &dedupService{log: log},
		writer:     h.writer,
		genTimeout: 5 * time.Second,
	}
	return h
}

// --- tests -----------------------------------------------------------------

func TestNextLessonColdStartGenerates(t *testing.T) {
	h := newDeliveryHarness(t)

	res, err := h.svc.NextLesson(context.Background(), uuid.New(), "spanish", 0)
	if err != nil {
		t.Fatalf("NextLesson: %v", err)
	}
	if res.Source != SourceGenerated {
		t.Fatalf("source = %q, want generated", res.Source)
	}
	if res.FocusLabel != "Topic 1 > Subtopic 1" {
		t.Fatalf("focus = %q", res.FocusLabel)
	}
	if res.NextTopicHint != "Topic 1 > Subtopic 2" {
		t.Fatalf("next topic hint = %q, want the following subtopic", res.NextTopicHint)
	}
	if h.generator.calls != 1 {
		t.Fatalf("generator calls = %d, want 1", h.generator.calls)
	}
	if len(h.writer.commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(h.writer.commits))
	}
	commit := h.writer.commits[0]
	if commit.Cursor != (types.PathCursor{}) {
		t.Fatalf("commit cursor = %+v, want zero cursor", commit.Cursor)
	}
	if len(h.cache.puts) != 1 {
		t.Fatalf("cache puts = %d, want 1 (opportunistic fill)", len(h.cache.puts))
	}
	if h.pending.topUps != 1 {
		t.Fatalf("top-ups = %d, want 1", h.pending.topUps)
	}
}

func TestNextLessonWarmCacheSkipsGenerator(t *testing.T) {
	h := newDeliveryHarness(t)
	h.cache.entries = []types.CachedLesson{{
		Lesson: types.Lesson{
			ID:    uuid.NewString(),
			Title: "Cached Lesson",
			Body:  "body",
			Question: types.LessonQuestion{
				Prompt: "q", Choices: []string{"a", "b"}, AnswerIndex: 0,
			},
		},
		PersonaHash: h.persona,
	}}

	res, err := h.svc.NextLesson(context.Background(), uuid.New(), "spanish", 0)
	if err != nil {
		t.Fatalf("NextLesson: %v", err)
	}
	if res.Source != SourceCache {
		t.Fatalf("source = %q, want cache", res.Source)
	}
	if res.Lesson.Title != "Cached Lesson" {
		t.Fatalf("lesson = %q", res.Lesson.Title)
	}
	if h.generator.calls != 0 {
		t.Fatalf("generator called on warm cache")
	}
	if len(h.writer.commits) != 1 {
		t.Fatalf("cache hit must still commit progress")
	}
}

func TestNextLessonPrefetchReturnsCacheCandidates(t *testing.T) {
	h := newDeliveryHarness(t)
	for _, title := range []string{"First", "Second", "Third"} {
		h.cache.entries = append(h.cache.entries, types.CachedLesson{
			Lesson: types.Lesson{
				ID:    uuid.NewString(),
				Title: title,
				Body:  "body",
				Question: types.LessonQuestion{
					Prompt: "q", Choices: []string{"a", "b"}, AnswerIndex: 0,
				},
			},
			PersonaHash: h.persona,
		})
	}

	res, err := h.svc.NextLesson(context.Background(), uuid.New(), "spanish", 2)
	if err != nil {
		t.Fatalf("NextLesson: %v", err)
	}
	if res.Lesson.Title != "First" {
		t.Fatalf("served %q, want first cache entry", res.Lesson.Title)
	}
	if len(res.Prefetch) != 2 {
		t.Fatalf("prefetch = %d entries, want 2", len(res.Prefetch))
	}
	for _, l := range res.Prefetch {
		if l.ID == res.Lesson.ID {
			t.Fatalf("prefetch repeated the served lesson")
		}
	}
	if res.Prefetch[0].Title != "Second" || res.Prefetch[1].Title != "Third" {
		t.Fatalf("prefetch order: %q, %q", res.Prefetch[0].Title, res.Prefetch[1].Title)
	}
}

func TestNextLessonPendingHit(t *testing.T) {
	h := newDeliveryHarness(t)
	h.pending.entry = &types.PendingLesson{
		Lesson: types.Lesson{
			ID:    uuid.NewString(),
			Title: "Pending Lesson",
			Body:  "body",
			Question: types.LessonQuestion{
				Prompt: "q", Choices: []string{"a", "b"}, AnswerIndex: 0,
			},
		},
		TopicLabel:  "Topic 1 > Subtopic 1",
		PersonaHash: h.persona,
	}

	res, err := h.svc.NextLesson(context.Background(), uuid.New(), "spanish", 0)
	if err != nil {
		t.Fatalf("NextLesson: %v", err)
	}
	if res.Source != SourcePending {
		t.Fatalf("source = %q, want pending", res.Source)
	}
	if h.generator.calls != 0 {
		t.Fatalf("generator called despite pending hit")
	}
}

func TestNextLessonDiscardsDriftedPendingEntry(t *testing.T) {
	h := newDeliveryHarness(t)
	// Entry targets a different topic than the current focus.
	h.pending.entry = &types.PendingLesson{
		Lesson:      types.Lesson{ID: uuid.NewString(), Title: "Drifted", Body: "body"},
		TopicLabel:  "Topic 2 > Subtopic 1",
		PersonaHash: h.persona,
	}

	res, err := h.svc.NextLesson(context.Background(), uuid.New(), "spanish", 0)
	if err != nil {
		t.Fatalf("NextLesson: %v", err)
	}
	if res.Source != SourceGenerated {
		t.Fatalf("source = %q, want generated after discarding drifted entry", res.Source)
	}
}

func TestNextLessonResolvesSubjectFromState(t *testing.T) {
	h := newDeliveryHarness(t)

	res, err := h.svc.NextLesson(context.Background(), uuid.New(), "", 0)
	if err != nil {
		t.Fatalf("NextLesson: %v", err)
	}
	if res.Subject != "spanish" {
		t.Fatalf("subject = %q, want spanish (most recent state)", res.Subject)
	}
}
