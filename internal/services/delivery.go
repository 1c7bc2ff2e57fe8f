package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	learningRepos "github.com/yungbote/microlearn-backend/internal/data/repos/learning"
	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
	"github.com/yungbote/microlearn-backend/internal/platform/dbctx"
	"github.com/yungbote/microlearn-backend/internal/platform/envutil"
	"github.com/yungbote/microlearn-backend/internal/platform/logger"
)

// LessonSource reports where the served lesson came from.
type LessonSource string

const (
	SourceCache     LessonSource = "cache"
	SourcePending   LessonSource = "pending"
	SourceGenerated LessonSource = "generated"
)

// MaxPrefetch caps how many extra cache candidates a single request may
// ask for alongside the served lesson.
const MaxPrefetch = 3

// DeliveryResult is the full answer to "give me my next lesson".
type DeliveryResult struct {
	Lesson        types.Lesson   `json:"lesson"`
	Subject       string         `json:"subject"`
	FocusLabel    string         `json:"focusLabel"`
	Source        LessonSource   `json:"source"`
	ReviewMode    bool           `json:"reviewMode,omitempty"`
	NextTopicHint string         `json:"nextTopicHint,omitempty"`
	Prefetch      []types.Lesson `json:"prefetch,omitempty"`
}

// DeliveryService is the orchestrator: resolve subject, ensure path, pick
// focus, then cache -> pending -> generate, commit progress, respond.
// prefetch asks for up to that many additional servable cache candidates
// (clamped to MaxPrefetch) in the response.
type DeliveryService interface {
	NextLesson(ctx context.Context, userID uuid.UUID, subjectParam string, prefetch int) (*DeliveryResult, error)
}

type deliveryService struct {
	log       *logger.Logger
	pathState PathStateService
	metrics   ProgressMetricsService
	progRepo  learningRepos.ProgressRepo
	curric    CurriculumService
	assembler ContextAssembler
	cache     LessonCacheService
	pending   PendingService
	generator GeneratorService
	dedup     DedupService
	writer    ProgressWriterService

	genTimeout time.Duration
}

func NewDeliveryService(
	baseLog *logger.Logger,
	pathState PathStateService,
	metrics ProgressMetricsService,
	progRepo learningRepos.ProgressRepo,
	curric CurriculumService,
	assembler ContextAssembler,
	cache LessonCacheService,
	pending PendingService,
	generator GeneratorService,
	dedup DedupService,
	writer ProgressWriterService,
) DeliveryService {
	return &deliveryService{
		log:        baseLog.With("service", "DeliveryService"),
		pathState:  pathState,
		metrics:    metrics,
		progRepo:   progRepo,
		curric:     curric,
		assembler:  assembler,
		cache:      cache,
		pending:    pending,
		generator:  generator,
		dedup:      dedup,
		writer:     writer,
		genTimeout: envutil.Seconds("GENERATION_TIMEOUT_SECONDS", 45*time.Second),
	}
}

func (s *deliveryService) NextLesson(ctx context.Context, userID uuid.UUID, subjectParam string, prefetch int) (*DeliveryResult, error) {
	subject, err := s.resolveSubject(ctx, userID, subjectParam)
	if err != nil {
		return nil, err
	}

	row, path, err := s.pathState.Ensure(ctx, userID, subject, "", "")
	if err != nil {
		return nil, err
	}

	completion := row.DecodeCompletion()
	cursor, active := s.pathState.NextFocus(path, row.Cursor(), completion)
	reviewMode := !active
	focus := path.LabelAt(cursor.TopicIndex, cursor.SubtopicIndex)
	if focus == "" {
		return nil, fmt.Errorf("path has no addressable focus")
	}

	snap, err := s.metrics.Snapshot(ctx, userID, subject)
	if err != nil {
		return nil, err
	}

	tone := ""
	prefs := types.PreferenceSet{}
	if prog, pErr := s.progRepo.GetByUserSubject(dbctx.New(ctx), userID, subject); pErr == nil && prog != nil {
		tone = prog.ToneSignature
		prefs = prog.DecodePreferences()
	}

	course, _ := s.curric.CourseFor(subject)
	sc, gr := s.assembler.Assemble(AssembleInput{
		Subject:       subject,
		Course:        course,
		Path:          path,
		Cursor:        cursor,
		Metrics:       snap,
		ToneSignature: tone,
		Delivery:      row.DecodeDelivery(),
		Preferences:   prefs,
	})
	persona := s.assembler.Persona(snap, tone)
	recentEmb := row.DecodeRecentEmbeddings()

	key := types.SubjectKey{UserID: userID, Subject: subject}
	cacheKey := types.CacheKey{UserID: userID, Subject: subject, TopicLabel: focus}

	res := &DeliveryResult{Subject: subject, FocusLabel: focus, ReviewMode: reviewMode}

	// Cache first: cheapest path.
	entries, cErr := s.cache.Get(ctx, cacheKey)
	if cErr != nil {
		s.log.Warn("Lesson cache read failed", "subject", subject, "error", cErr)
	}
	if hit := s.cache.Select(entries, persona, gr, recentEmb, s.dedup); hit != nil {
		res.Lesson = hit.Lesson
		res.Source = SourceCache
		res.NextTopicHint = hit.NextTopicHint
		res.Prefetch = s.prefetchCandidates(entries, hit.Lesson.ID, persona, gr, recentEmb, prefetch)
		s.finish(ctx, res, key, path, cursor, completion, hit.Embedding)
		return res, nil
	}

	// Pending queue next. Entries are speculative; topic drift discards them.
	if pl, ok, pErr := s.pending.Consume(ctx, key, persona, gr, recentEmb); pErr != nil {
		s.log.Warn("Pending queue read failed", "subject", subject, "error", pErr)
	} else if ok && pl.TopicLabel == focus {
		res.Lesson = pl.Lesson
		res.Source = SourcePending
		res.Prefetch = s.prefetchCandidates(entries, pl.Lesson.ID, persona, gr, recentEmb, prefetch)
		s.finish(ctx, res, key, path, cursor, completion, pl.Embedding)
		return res, nil
	}

	// Generate inline. The timeout is decoupled from the client connection:
	// a dropped request must not abandon a generation already paid for.
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.genTimeout)
	defer cancel()

	lesson, emb, err := s.generateChecked(genCtx, sc, gr, recentEmb)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: generation still in flight", ErrGenerating)
		}
		return nil, err
	}

	res.Lesson = *lesson
	res.Source = SourceGenerated
	res.Prefetch = s.prefetchCandidates(entries, lesson.ID, persona, gr, recentEmb, prefetch)

	// Opportunistic cache fill, so a persona-stable retry is free.
	if putErr := s.cache.Put(genCtx, cacheKey, types.CachedLesson{
		Lesson:      *lesson,
		PersonaHash: persona,
		Embedding:   emb,
	}); putErr != nil {
		s.log.Warn("Lesson cache write failed", "subject", subject, "error", putErr)
	}

	s.finish(genCtx, res, key, path, cursor, completion, emb)
	return res, nil
}

// prefetchCandidates collects up to n further servable cache entries so the
// client can queue them locally. Same filters as Select; the served lesson
// is excluded on top.
func (s *deliveryService) prefetchCandidates(entries []types.CachedLesson, servedID, persona string, gr Guardrails, recentEmb [][]float32, n int) []types.Lesson {
	if n <= 0 || len(entries) == 0 {
		return nil
	}
	if n > MaxPrefetch {
		n = MaxPrefetch
	}

	exclude := make(map[string]bool, len(gr.ExcludeIDs)+n+1)
	for id := range gr.ExcludeIDs {
		exclude[id] = true
	}
	exclude[servedID] = true
	scoped := gr
	scoped.ExcludeIDs = exclude

	var out []types.Lesson
	for len(out) < n {
		hit := s.cache.Select(entries, persona, scoped, recentEmb, s.dedup)
		if hit == nil {
			break
		}
		out = append(out, hit.Lesson)
		exclude[hit.Lesson.ID] = true
	}
	return out
}

// generateChecked generates once, and retries a single time when the result
// is a near-duplicate of recent deliveries. A still-duplicate second draft is
// served anyway: repetition degrades quality, it never blocks delivery.
func (s *deliveryService) generateChecked(ctx context.Context, sc StructuredContext, gr Guardrails, recentEmb [][]float32) (*types.Lesson, []float32, error) {
	lesson, err := s.generator.GenerateLesson(ctx, sc, ModelFast)
	if err != nil {
		return nil, nil, err
	}
	emb := s.dedup.EmbedLesson(ctx, lesson.Title, lesson.Body)

	dup := gr.ExcludesTitle(lesson.Title) ||
		(len(emb) > 0 && s.dedup.IsNearDuplicate(s.dedup.MaxSimilarity(emb, recentEmb)))
	if !dup {
		return lesson, emb, nil
	}

	s.log.Info("Generated lesson too similar to recent ones; regenerating", "focus", sc.FocusLabel)
	retrySC := sc
	retrySC.AvoidTitles = append(append([]string(nil), sc.AvoidTitles...), lesson.Title)
	retry, rErr := s.generator.GenerateLesson(ctx, retrySC, ModelFast)
	if rErr != nil {
		return lesson, emb, nil
	}
	return retry, s.dedup.EmbedLesson(ctx, retry.Title, retry.Body), nil
}

// finish commits the progress patch and nudges the prefetcher. Both are
// best-effort: the lesson is already in the response.
func (s *deliveryService) finish(ctx context.Context, res *DeliveryResult, key types.SubjectKey, path *types.LearningPath, cursor types.PathCursor, completion types.CompletionMap, emb []float32) {
	updated, err := s.writer.CommitDelivery(ctx, CommitDeliveryInput{
		UserID:     key.UserID,
		Subject:    key.Subject,
		Path:       path,
		Cursor:     cursor,
		Completion: completion,
		Lesson:     &res.Lesson,
		Embedding:  emb,
	})
	if err != nil {
		s.log.Error("Progress commit failed; lesson served without state advance",
			"subject", key.Subject, "lesson_id", res.Lesson.ID, "error", err)
	} else if res.NextTopicHint == "" && updated != nil {
		res.NextTopicHint = updated.NextTopic
	}
	// The hint rides on every response, commit outcome notwithstanding.
	if res.NextTopicHint == "" {
		res.NextTopicHint = s.pathState.NextIncompleteAfter(path, completion, cursor)
	}

	s.pending.RequestTopUp(key)
}

// resolveSubject: explicit parameter wins, then the most recently touched
// subject, then the catalog's default interests.
func (s *deliveryService) resolveSubject(ctx context.Context, userID uuid.UUID, subjectParam string) (string, error) {
	if subject := normalizeSubject(subjectParam); subject != "" {
		return subject, nil
	}

	rows, err := s.pathState.ListByUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(rows) > 0 {
		return rows[0].Subject, nil
	}

	for _, candidate := range s.curric.DefaultInterests() {
		if _, ok := s.curric.CourseFor(candidate); ok {
			return normalizeSubject(candidate), nil
		}
	}
	return "", ErrNoSubject
}
