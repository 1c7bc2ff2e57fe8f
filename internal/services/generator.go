package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
	"github.com/yungbote/microlearn-backend/internal/platform/envutil"
	"github.com/yungbote/microlearn-backend/internal/platform/logger"
	"github.com/yungbote/microlearn-backend/internal/platform/openai"
)

type ModelSpeed string

const (
	ModelFast ModelSpeed = "fast"
	ModelSlow ModelSpeed = "slow"
)

// GeneratorService wraps the external model behind the two shapes the
// engine needs: one micro-lesson, or a whole learning path. Errors are
// classified so the orchestrator can answer retryable vs terminal.
type GeneratorService interface {
	GenerateLesson(ctx context.Context, sc StructuredContext, speed ModelSpeed) (*types.Lesson, error)
	GeneratePath(ctx context.Context, course *CurriculumCourse, masteryEstimate string, paceNote string) (*types.LearningPath, error)
}

type generatorService struct {
	log       *logger.Logger
	ai        openai.Client
	fastModel string
}

func NewGeneratorService(baseLog *logger.Logger, ai openai.Client) GeneratorService {
	return &generatorService{
		log:       baseLog.With("service", "GeneratorService"),
		ai:        ai,
		fastModel: envutil.Str("OPENAI_FAST_MODEL", ""),
	}
}

var lessonSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title":        map[string]any{"type": "string"},
		"body":         map[string]any{"type": "string"},
		"key_takeaway": map[string]any{"type": "string"},
		"question": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt":       map[string]any{"type": "string"},
				"choices":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"answer_index": map[string]any{"type": "integer"},
				"explanation":  map[string]any{"type": "string"},
			},
			"required":             []string{"prompt", "choices", "answer_index", "explanation"},
			"additionalProperties": false,
		},
		"estimated_minutes": map[string]any{"type": "integer"},
	},
	"required":             []string{"title", "body", "key_takeaway", "question", "estimated_minutes"},
	"additionalProperties": false,
}

func (g *generatorService) GenerateLesson(ctx context.Context, sc StructuredContext, speed ModelSpeed) (*types.Lesson, error) {
	ai := g.ai
	if speed == ModelFast && g.fastModel != "" {
		ai = openai.WithModel(g.ai, g.fastModel)
	}

	ctxJSON, err := json.Marshal(sc)
	if err != nil {
		return nil, err
	}

	obj, err := ai.GenerateJSON(ctx,
		"You write focused micro-lessons: 2-4 short paragraphs, one concrete example, one check question. Match the learner context you are given.",
		fmt.Sprintf("Learner context:\n%s\n\nWrite the next micro-lesson for %q. Do not repeat the avoid_titles verbatim.", ctxJSON, sc.FocusLabel),
		"micro_lesson", lessonSchema,
	)
	if err != nil {
		return nil, classifyGeneratorError(err)
	}

	lesson, err := lessonFromObject(obj, sc.FocusLabel)
	if err != nil {
		g.log.Warn("Generated lesson failed validation", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return lesson, nil
}

func lessonFromObject(obj map[string]any, focusLabel string) (*types.Lesson, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var lesson types.Lesson
	if err := json.Unmarshal(raw, &lesson); err != nil {
		return nil, err
	}
	if strings.TrimSpace(lesson.Title) == "" || strings.TrimSpace(lesson.Body) == "" {
		return nil, errors.New("missing title or body")
	}
	if len(lesson.Question.Choices) < 2 ||
		lesson.Question.AnswerIndex < 0 ||
		lesson.Question.AnswerIndex >= len(lesson.Question.Choices) {
		return nil, errors.New("question is malformed")
	}
	lesson.ID = uuid.NewString()
	lesson.TopicLabel = focusLabel
	if lesson.EstimatedMinutes <= 0 {
		lesson.EstimatedMinutes = 3
	}
	return &lesson, nil
}

var pathSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"topics": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{"type": "string"},
					"subtopics": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"name":                 map[string]any{"type": "string"},
								"planned_mini_lessons": map[string]any{"type": "integer"},
							},
							"required":             []string{"name", "planned_mini_lessons"},
							"additionalProperties": false,
						},
					},
				},
				"required":             []string{"name", "subtopics"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"topics"},
	"additionalProperties": false,
}

func (g *generatorService) GeneratePath(ctx context.Context, course *CurriculumCourse, masteryEstimate string, paceNote string) (*types.LearningPath, error) {
	if course == nil {
		return nil, fmt.Errorf("%w: no course frame", ErrNotReady)
	}

	hints := strings.Join(course.UnitHints, "; ")
	obj, err := g.ai.GenerateJSON(ctx,
		"You design structured, coherent learning paths: ordered topics, each split into small subtopics sized for micro-lessons.",
		fmt.Sprintf(
			"Course: %s\nSubject: %s\nLevel: %s\nDescription: %s\nUnit hints: %s\nLearner mastery estimate: %s\nPace note: %s\n\nCreate 3-6 topics with 2-5 subtopics each. planned_mini_lessons is 1-4 per subtopic. Keep names specific.",
			course.Title, course.Subject, course.Level, course.Description, hints, masteryEstimate, paceNote,
		),
		"learning_path", pathSchema,
	)
	if err != nil {
		return nil, classifyGeneratorError(err)
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var path types.LearningPath
	if err := json.Unmarshal(raw, &path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	for ti := range path.Topics {
		for si := range path.Topics[ti].Subtopics {
			if path.Topics[ti].Subtopics[si].PlannedMiniLessons < 1 {
				path.Topics[ti].Subtopics[si].PlannedMiniLessons = 1
			}
		}
	}
	if !path.Valid() {
		return nil, fmt.Errorf("%w: synthesized path is empty or malformed", ErrNotReady)
	}
	return &path, nil
}

// classifyGeneratorError maps upstream failures into the engine taxonomy.
func classifyGeneratorError(err error) error {
	if err == nil {
		return nil
	}
	var he *openai.HTTPError
	if errors.As(err, &he) {
		switch he.StatusCode {
		case http.StatusPaymentRequired, http.StatusForbidden, http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrUsageLimit, err)
		}
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "failed to parse model JSON") ||
		strings.Contains(msg, "no output_text") ||
		strings.Contains(msg, "model refused") {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return err
}
