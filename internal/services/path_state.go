package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	redisclients "github.com/yungbote/microlearn-backend/internal/clients/redis"
	learningRepos "github.com/yungbote/microlearn-backend/internal/data/repos/learning"
	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
	"github.com/yungbote/microlearn-backend/internal/platform/dbctx"
	"github.com/yungbote/microlearn-backend/internal/platform/logger"
)

const pathSynthesisLockTTL = 90 * time.Second

// PathStateService owns the per-(user, subject) curriculum document and
// cursor. Synthesis runs under a cross-process lock; losers get
// ErrGenerating instead of blocking or duplicating the generation call.
type PathStateService interface {
	Load(ctx context.Context, userID uuid.UUID, subject string) (*types.PathStateRow, *types.LearningPath, error)
	Ensure(ctx context.Context, userID uuid.UUID, subject, masteryEstimate, paceNote string) (*types.PathStateRow, *types.LearningPath, error)
	// NextFocus computes the cursor the next lesson should be delivered
	// under. ok=false means every subtopic is complete; the cursor is then
	// returned unchanged (review mode).
	NextFocus(path *types.LearningPath, cursor types.PathCursor, completion types.CompletionMap) (types.PathCursor, bool)
	// NextIncompleteAfter returns the label of the first incomplete subtopic
	// strictly after the given cursor position, or "".
	NextIncompleteAfter(path *types.LearningPath, completion types.CompletionMap, cursor types.PathCursor) string
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*types.PathStateRow, error)
}

type pathStateService struct {
	log        *logger.Logger
	repo       learningRepos.PathStateRepo
	curriculum CurriculumService
	generator  GeneratorService
	lock       redisclients.LockClient

	// Best-effort guard when the lock backend is down. Cross-process races
	// are then possible but rare.
	localMu sync.Mutex
	local   map[types.SubjectKey]*sync.Mutex
}

func NewPathStateService(
	baseLog *logger.Logger,
	repo learningRepos.PathStateRepo,
	curriculum CurriculumService,
	generator GeneratorService,
	lock redisclients.LockClient,
) PathStateService {
	return &pathStateService{
		log:        baseLog.With("service", "PathStateService"),
		repo:       repo,
		curriculum: curriculum,
		generator:  generator,
		lock:       lock,
		local:      map[types.SubjectKey]*sync.Mutex{},
	}
}

func (s *pathStateService) Load(ctx context.Context, userID uuid.UUID, subject string) (*types.PathStateRow, *types.LearningPath, error) {
	row, err := s.repo.GetByUserSubject(dbctx.New(ctx), userID, subject)
	if err != nil {
		return nil, nil, err
	}
	if row == nil {
		return nil, nil, nil
	}
	path, err := row.DecodePath()
	if err != nil || path == nil || !path.Valid() {
		// Structurally invalid documents are treated as absent and
		// regenerated wholesale.
		s.log.Warn("Discarding invalid learning path document", "subject", subject, "error", err)
		return row, nil, nil
	}
	return row, path, nil
}

func (s *pathStateService) ListByUser(ctx context.Context, userID uuid.UUID) ([]*types.PathStateRow, error) {
	return s.repo.ListByUser(dbctx.New(ctx), userID)
}

func (s *pathStateService) Ensure(ctx context.Context, userID uuid.UUID, subject, masteryEstimate, paceNote string) (*types.PathStateRow, *types.LearningPath, error) {
	row, path, err := s.Load(ctx, userID, subject)
	if err != nil {
		return nil, nil, err
	}
	if path != nil {
		return row, path, nil
	}

	course, ok := s.curriculum.CourseFor(subject)
	if !ok {
		return nil, nil, fmt.Errorf("%w: subject %q has no curriculum mapping", ErrNotReady, subject)
	}

	key := types.SubjectKey{UserID: userID, Subject: subject}
	release, held, err := s.acquire(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if !held {
		return nil, nil, ErrGenerating
	}
	defer release()

	// Someone may have finished synthesis while we waited on the lock.
	row, path, err = s.Load(ctx, userID, subject)
	if err != nil {
		return nil, nil, err
	}
	if path != nil {
		return row, path, nil
	}

	synthesized, err := s.generator.GeneratePath(ctx, course, masteryEstimate, paceNote)
	if err != nil {
		return nil, nil, err
	}

	raw, err := json.Marshal(synthesized)
	if err != nil {
		return nil, nil, err
	}
	newRow := &types.PathStateRow{
		ID:      uuid.New(),
		UserID:  userID,
		Subject: subject,
		Path:    datatypes.JSON(raw),
	}
	if row != nil {
		// Reuse identity when replacing an invalid document.
		newRow.ID = row.ID
		newRow.CreatedAt = row.CreatedAt
	}
	if err := s.repo.Upsert(dbctx.New(ctx), newRow); err != nil {
		return nil, nil, err
	}

	s.log.Info("Learning path synthesized", "subject", subject, "topics", len(synthesized.Topics))
	return newRow, synthesized, nil
}

// acquire takes the cross-process lock, degrading to the in-process guard
// when the lock backend is unavailable.
func (s *pathStateService) acquire(ctx context.Context, key types.SubjectKey) (release func(), held bool, err error) {
	if s.lock != nil {
		gotIt, token, lockErr := s.lock.Acquire(ctx, key, pathSynthesisLockTTL)
		if lockErr == nil {
			if !gotIt {
				return nil, false, nil
			}
			return func() {
				if rErr := s.lock.Release(context.Background(), key, token); rErr != nil {
					s.log.Warn("Failed to release synthesis lock", "error", rErr)
				}
			}, true, nil
		}
		if !errors.Is(lockErr, redisclients.ErrLockUnavailable) {
			return nil, false, lockErr
		}
		s.log.Warn("Lock backend unavailable; using in-process guard", "error", lockErr)
	}

	s.localMu.Lock()
	mu, ok := s.local[key]
	if !ok {
		mu = &sync.Mutex{}
		s.local[key] = mu
	}
	s.localMu.Unlock()

	if !mu.TryLock() {
		return nil, false, nil
	}
	return mu.Unlock, true, nil
}

// NextFocus: stay on the current pair while it is incomplete and has
// mini-lessons left; otherwise scan forward from the cursor, then from the
// start. Earliest topic/subtopic wins, deterministically.
func (s *pathStateService) NextFocus(path *types.LearningPath, cursor types.PathCursor, completion types.CompletionMap) (types.PathCursor, bool) {
	if path == nil || len(path.Topics) == 0 {
		return cursor, false
	}
	if !cursor.InBounds(path) {
		cursor = types.PathCursor{}
	}

	if completion.Done(path, cursor.TopicIndex, cursor.SubtopicIndex) {
		// Pointed-at subtopic already finished: full scan from the start so
		// the earliest unresolved pair wins.
		if next, ok := scanIncomplete(path, completion, 0, 0); ok {
			return next, true
		}
		return cursor, false
	}

	planned := path.Topics[cursor.TopicIndex].Subtopics[cursor.SubtopicIndex].PlannedMiniLessons
	if cursor.DeliveredMiniCount < planned {
		return cursor, true
	}

	// Mini-lesson budget exhausted: forward from just after the cursor,
	// wrapping to a from-start scan.
	if next, ok := scanIncomplete(path, completion, cursor.TopicIndex, cursor.SubtopicIndex+1); ok {
		return next, true
	}
	if next, ok := scanIncomplete(path, completion, 0, 0); ok {
		return next, true
	}
	return cursor, false
}

func scanIncomplete(path *types.LearningPath, completion types.CompletionMap, fromTopic, fromSub int) (types.PathCursor, bool) {
	for ti := fromTopic; ti < len(path.Topics); ti++ {
		start := 0
		if ti == fromTopic {
			start = fromSub
		}
		for si := start; si < len(path.Topics[ti].Subtopics); si++ {
			if !completion.Done(path, ti, si) {
				return types.PathCursor{TopicIndex: ti, SubtopicIndex: si, DeliveredMiniCount: 0}, true
			}
		}
	}
	return types.PathCursor{}, false
}

func (s *pathStateService) NextIncompleteAfter(path *types.LearningPath, completion types.CompletionMap, cursor types.PathCursor) string {
	if path == nil {
		return ""
	}
	if next, ok := scanIncomplete(path, completion, cursor.TopicIndex, cursor.SubtopicIndex+1); ok {
		return path.LabelAt(next.TopicIndex, next.SubtopicIndex)
	}
	return ""
}
