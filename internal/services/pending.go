package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	redisclients "github.com/yungbote/microlearn-backend/internal/clients/redis"
	learningRepos "github.com/yungbote/microlearn-backend/internal/data/repos/learning"
	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
	"github.com/yungbote/microlearn-backend/internal/platform/dbctx"
	"github.com/yungbote/microlearn-backend/internal/platform/logger"
)

const topUpBufferSize = 64

// PendingService manages the small per-(user, subject) queue of lessons
// generated ahead of demand. Entries are speculative: consumption
// re-validates every one against current persona, exclusions and
// similarity, and silently discards mismatches. Requests never wait on
// the producer.
type PendingService interface {
	// Consume pops entries until one survives validation. ok=false means the
	// queue drained without a servable lesson.
	Consume(ctx context.Context, key types.SubjectKey, personaHash string, gr Guardrails, recentEmbeddings [][]float32) (*types.PendingLesson, bool, error)
	// RequestTopUp nudges the background producer. Drops the signal when the
	// buffer is full; a missed top-up only costs one cache miss later.
	RequestTopUp(key types.SubjectKey)
	// FillNow synchronously generates up to count lessons (count <= 0 means
	// fill to capacity), bounded by remaining queue space. topicLabel, when
	// non-empty, targets that subtopic instead of the current focus. Serves
	// the explicit prefetch endpoint.
	FillNow(ctx context.Context, userID uuid.UUID, subject, topicLabel string, count int) (*FillResult, error)
	StartWorker(ctx context.Context)
}

type FillResult struct {
	Generated    int      `json:"generated"`
	LessonIDs    []string `json:"lessonIds"`
	CurrentCount int      `json:"currentCount"`
	MaxCount     int      `json:"maxCount"`
}

type pendingService struct {
	log       *logger.Logger
	queue     redisclients.PendingQueue
	pathState PathStateService
	metrics   ProgressMetricsService
	progRepo  learningRepos.ProgressRepo
	curric    CurriculumService
	assembler ContextAssembler
	generator GeneratorService
	dedup     DedupService

	topUp chan types.SubjectKey
}

func NewPendingService(
	baseLog *logger.Logger,
	queue redisclients.PendingQueue,
	pathState PathStateService,
	metrics ProgressMetricsService,
	progRepo learningRepos.ProgressRepo,
	curric CurriculumService,
	assembler ContextAssembler,
	generator GeneratorService,
	dedup DedupService,
) PendingService {
	return &pendingService{
		log:       baseLog.With("service", "PendingService"),
		queue:     queue,
		pathState: pathState,
		metrics:   metrics,
		progRepo:  progRepo,
		curric:    curric,
		assembler: assembler,
		generator: generator,
		dedup:     dedup,
		topUp:     make(chan types.SubjectKey, topUpBufferSize),
	}
}

func (s *pendingService) Consume(ctx context.Context, key types.SubjectKey, personaHash string, gr Guardrails, recentEmbeddings [][]float32) (*types.PendingLesson, bool, error) {
	// Bounded: the queue never holds more than maxDepth entries.
	for i := 0; i < types.PendingQueueMaxDepth; i++ {
		entry, ok, err := s.queue.Dequeue(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		if entry.PersonaHash != personaHash {
			s.log.Debug("Discarding pending lesson with stale persona", "subject", key.Subject)
			continue
		}
		if gr.ExcludesID(entry.Lesson.ID) || gr.ExcludesTitle(entry.Lesson.Title) {
			continue
		}
		if len(entry.Embedding) > 0 &&
			s.dedup.IsNearDuplicate(s.dedup.MaxSimilarity(entry.Embedding, recentEmbeddings)) {
			continue
		}
		return &entry, true, nil
	}
	return nil, false, nil
}

func (s *pendingService) RequestTopUp(key types.SubjectKey) {
	select {
	case s.topUp <- key:
	default:
	}
}

// StartWorker drains top-up signals until ctx is done. One lesson per
// signal keeps a slow model from monopolizing the worker.
func (s *pendingService) StartWorker(ctx context.Context) {
	go func() {
		s.log.Info("Pending lesson producer started")
		for {
			select {
			case <-ctx.Done():
				s.log.Info("Pending lesson producer stopped")
				return
			case key := <-s.topUp:
				if err := s.fillOne(ctx, key); err != nil {
					s.log.Warn("Pending top-up failed", "subject", key.Subject, "error", err)
				}
			}
		}
	}()
}

func (s *pendingService) fillOne(ctx context.Context, key types.SubjectKey) error {
	depth, err := s.queue.Depth(ctx, key)
	if err != nil {
		return err
	}
	if depth >= types.PendingQueueMaxDepth {
		return nil
	}
	entry, err := s.synthesize(ctx, key, "")
	if err != nil || entry == nil {
		return err
	}
	added, err := s.queue.Enqueue(ctx, key, *entry, types.PendingQueueMaxDepth)
	if err != nil {
		return err
	}
	if !added {
		s.log.Debug("Pending queue filled concurrently; dropping lesson", "subject", key.Subject)
	}
	return nil
}

func (s *pendingService) FillNow(ctx context.Context, userID uuid.UUID, subject, topicLabel string, count int) (*FillResult, error) {
	key := types.SubjectKey{UserID: userID, Subject: subject}
	res := &FillResult{MaxCount: types.PendingQueueMaxDepth}

	depth, err := s.queue.Depth(ctx, key)
	if err != nil {
		return nil, err
	}
	want := types.PendingQueueMaxDepth - depth
	if count > 0 && count < want {
		want = count
	}
	for res.Generated < want && depth < types.PendingQueueMaxDepth {
		entry, err := s.synthesize(ctx, key, topicLabel)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}
		added, err := s.queue.Enqueue(ctx, key, *entry, types.PendingQueueMaxDepth)
		if err != nil {
			return nil, err
		}
		if !added {
			break
		}
		res.Generated++
		res.LessonIDs = append(res.LessonIDs, entry.Lesson.ID)
		depth++
	}
	res.CurrentCount = depth
	return res, nil
}

// synthesize generates one queue-ready lesson from current state. Returns
// (nil, nil) when there is nothing useful to prefetch: no path yet, an
// unknown label override, or the generated lesson fails its own validation.
func (s *pendingService) synthesize(ctx context.Context, key types.SubjectKey, labelOverride string) (*types.PendingLesson, error) {
	row, path, err := s.pathState.Load(ctx, key.UserID, key.Subject)
	if err != nil {
		return nil, err
	}
	if row == nil || path == nil {
		// Path synthesis belongs to the request path; prefetch never triggers it.
		return nil, nil
	}

	cursor := row.Cursor()
	if labelOverride != "" {
		target, found := cursorForLabel(path, labelOverride)
		if !found {
			s.log.Debug("Prefetch label not in path; skipping", "subject", key.Subject, "label", labelOverride)
			return nil, nil
		}
		cursor = target
	} else if focus, ok := s.pathState.NextFocus(path, cursor, row.DecodeCompletion()); ok {
		cursor = focus
	}

	snap, err := s.metrics.Snapshot(ctx, key.UserID, key.Subject)
	if err != nil {
		return nil, err
	}

	tone := ""
	prefs := types.PreferenceSet{}
	if prog, pErr := s.progRepo.GetByUserSubject(dbctx.New(ctx), key.UserID, key.Subject); pErr == nil && prog != nil {
		tone = prog.ToneSignature
		prefs = prog.DecodePreferences()
	}

	course, _ := s.curric.CourseFor(key.Subject)
	sc, gr := s.assembler.Assemble(AssembleInput{
		Subject:       key.Subject,
		Course:        course,
		Path:          path,
		Cursor:        cursor,
		Metrics:       snap,
		ToneSignature: tone,
		Delivery:      row.DecodeDelivery(),
		Preferences:   prefs,
	})

	// Background generation always takes the quality model.
	lesson, err := s.generator.GenerateLesson(ctx, sc, ModelSlow)
	if err != nil {
		return nil, err
	}
	if gr.ExcludesID(lesson.ID) || gr.ExcludesTitle(lesson.Title) {
		return nil, nil
	}

	emb := s.dedup.EmbedLesson(ctx, lesson.Title, lesson.Body)
	if len(emb) > 0 &&
		s.dedup.IsNearDuplicate(s.dedup.MaxSimilarity(emb, row.DecodeRecentEmbeddings())) {
		s.log.Debug("Prefetched lesson was a near-duplicate; dropped", "subject", key.Subject)
		return nil, nil
	}

	return &types.PendingLesson{
		Lesson:      *lesson,
		TopicLabel:  sc.FocusLabel,
		PersonaHash: s.assembler.Persona(snap, tone),
		Embedding:   emb,
		EnqueuedAt:  time.Now().UTC(),
	}, nil
}

// cursorForLabel locates the subtopic carrying the given "Topic > Subtopic"
// label.
func cursorForLabel(path *types.LearningPath, label string) (types.PathCursor, bool) {
	for ti := range path.Topics {
		for si := range path.Topics[ti].Subtopics {
			if path.LabelAt(ti, si) == label {
				return types.PathCursor{TopicIndex: ti, SubtopicIndex: si}, true
			}
		}
	}
	return types.PathCursor{}, false
}
