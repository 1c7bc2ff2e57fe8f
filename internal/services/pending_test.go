package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
	"github.com/yungbote/microlearn-backend/internal/platform/logger"
)

type fakeQueue struct {
	entries []types.PendingLesson
}

func (f *fakeQueue) Enqueue(ctx context.Context, key types.SubjectKey, lesson types.PendingLesson, maxDepth int) (bool, error) {
	if len(f.entries) >= maxDepth {
		return false, nil
	}
	f.entries = append(f.entries, lesson)
	return true, nil
}

func (f *fakeQueue) Dequeue(ctx context.Context, key types.SubjectKey) (types.PendingLesson, bool, error) {
	if len(f.entries) == 0 {
		return types.PendingLesson{}, false, nil
	}
	e := f.entries[0]
	f.entries = f.entries[1:]
	return e, true, nil
}

func (f *fakeQueue) Depth(ctx context.Context, key types.SubjectKey) (int, error) {
	return len(f.entries), nil
}

func newPendingHarness(t *testing.T, queue *fakeQueue) *pendingService {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return &pendingService{
		log:   log,
		queue: queue,
		dedup: &dedupService{log: log},
		topUp: make(chan types.SubjectKey, 4),
	}
}

func pendingEntry(title, topic, persona string) types.PendingLesson {
	return types.PendingLesson{
		Lesson:      types.Lesson{ID: uuid.NewString(), Title: title, Body: "body"},
		TopicLabel:  topic,
		PersonaHash: persona,
	}
}

func TestConsumeDiscardsStaleEntries(t *testing.T) {
	queue := &fakeQueue{entries: []types.PendingLesson{
		pendingEntry("Old Persona", "Topic 1 > Subtopic 1", "stale"),
		pendingEntry("Good", "Topic 1 > Subtopic 1", "current"),
	}}
	svc := newPendingHarness(t, queue)

	got, ok, err := svc.Consume(context.Background(), types.SubjectKey{}, "current", Guardrails{}, nil)
	if err != nil || !ok {
		t.Fatalf("Consume: ok=%v err=%v", ok, err)
	}
	if got.Lesson.Title != "Good" {
		t.Fatalf("served %q, want the persona-matched entry", got.Lesson.Title)
	}
	if len(queue.entries) != 0 {
		t.Fatalf("stale entry requeued")
	}
}

func TestConsumeDiscardsExcludedEntries(t *testing.T) {
	entry := pendingEntry("Seen Before", "Topic 1 > Subtopic 1", "current")
	queue := &fakeQueue{entries: []types.PendingLesson{entry}}
	svc := newPendingHarness(t, queue)

	gr := Guardrails{ExcludeIDs: map[string]bool{entry.Lesson.ID: true}}
	if _, ok, err := svc.Consume(context.Background(), types.SubjectKey{}, "current", gr, nil); err != nil || ok {
		t.Fatalf("excluded entry served: ok=%v err=%v", ok, err)
	}
}

func TestConsumeEmptyQueue(t *testing.T) {
	svc := newPendingHarness(t, &fakeQueue{})
	if _, ok, err := svc.Consume(context.Background(), types.SubjectKey{}, "current", Guardrails{}, nil); err != nil || ok {
		t.Fatalf("empty queue: ok=%v err=%v", ok, err)
	}
}

func TestFillNowRespectsCountAndLabel(t *testing.T) {
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
	queue := &fakeQueue{}
	svc := &pendingService{
		log:       log,
		queue:     queue,
		pathState: &fakePathState{row: row, path: path},
		metrics:   &fakeMetrics{snap: types.ProgressMetricsSnapshot{Pace: types.PaceSlow}},
		progRepo:  &fakeProgRepo{},
		curric:    &fakeCurriculum{},
		assembler: &contextAssembler{log: log},
		generator: &fakeGenerator{lesson: &types.Lesson{
			ID:    uuid.NewString(),
			Title: "Prefetched",
			Body:  "body",
			Question: types.LessonQuestion{
				Prompt: "q", Choices: []string{"a", "b"}, AnswerIndex: 0,
			},
		}},
		dedup: &dedupService{log: log},
		topUp: make(chan types.SubjectKey, 4),
	}

	res, err := svc.FillNow(context.Background(), row.UserID, "spanish", "", 1)
	if err != nil {
		t.Fatalf("FillNow: %v", err)
	}
	if res.Generated != 1 || res.CurrentCount != 1 || res.MaxCount != types.PendingQueueMaxDepth {
		t.Fatalf("FillNow(count=1) = %+v", res)
	}
	if queue.entries[0].TopicLabel != "Topic 1 > Subtopic 1" {
		t.Fatalf("default fill targeted %q", queue.entries[0].TopicLabel)
	}

	// Unknown label generates nothing rather than guessing.
	if res, err := svc.FillNow(context.Background(), row.UserID, "spanish", "Nope > Nothing", 1); err != nil || res.Generated != 0 {
		t.Fatalf("FillNow(unknown label) = %+v err=%v", res, err)
	}

	// Explicit label targets that subtopic; count 0 fills remaining capacity.
	res, err = svc.FillNow(context.Background(), row.UserID, "spanish", "Topic 2 > Subtopic 1", 0)
	if err != nil {
		t.Fatalf("FillNow(label): %v", err)
	}
	if res.Generated != 1 || res.CurrentCount != types.PendingQueueMaxDepth {
		t.Fatalf("FillNow(label) = %+v", res)
	}
	if queue.entries[1].TopicLabel != "Topic 2 > Subtopic 1" {
		t.Fatalf("label override targeted %q", queue.entries[1].TopicLabel)
	}
}

func TestRequestTopUpNeverBlocks(t *testing.T) {
	svc := newPendingHarness(t, &fakeQueue{})
	key := types.SubjectKey{UserID: uuid.New(), Subject: "spanish"}
	// Overflow the buffer; extra signals are dropped, not blocked on.
	for i := 0; i < 20; i++ {
		svc.RequestTopUp(key)
	}
	if len(svc.topUp) != cap(svc.topUp) {
		t.Fatalf("buffer = %d, want full at %d", len(svc.topUp), cap(svc.topUp))
	}
}
