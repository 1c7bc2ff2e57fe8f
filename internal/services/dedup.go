package services

import (
	"context"
	"math"

	"github.com/yungbote/microlearn-backend/internal/platform/logger"
	"github.com/yungbote/microlearn-backend/internal/platform/openai"
)

// SimilarityThreshold is the cosine score above which a candidate counts as
// a near-duplicate of a recently delivered lesson.
const SimilarityThreshold = 0.85

// DedupService flags near-duplicate lessons. Embedding failures degrade to
// "similarity unknown, accept": repetition is a quality problem, never a
// delivery blocker.
type DedupService interface {
	EmbedLesson(ctx context.Context, title, body string) []float32
	MaxSimilarity(candidate []float32, recent [][]float32) float64
	IsNearDuplicate(score float64) bool
}

type dedupService struct {
	log *logger.Logger
	ai  openai.Client
}

func NewDedupService(baseLog *logger.Logger, ai openai.Client) DedupService {
	return &dedupService{log: baseLog.With("service", "DedupService"), ai: ai}
}

func (s *dedupService) EmbedLesson(ctx context.Context, title, body string) []float32 {
	if s.ai == nil {
		return nil
	}
	text := title + "\n" + body
	if len(text) > 4000 {
		text = text[:4000]
	}
	vecs, err := s.ai.Embed(ctx, []string{text})
	if err != nil || len(vecs) == 0 {
		s.log.Warn("Embedding unavailable; skipping similarity check", "error", err)
		return nil
	}
	return vecs[0]
}

func (s *dedupService) MaxSimilarity(candidate []float32, recent [][]float32) float64 {
	if len(candidate) == 0 {
		return 0
	}
	best := 0.0
	for _, r := range recent {
		if sim := cosineSimilarity(candidate, r); sim > best {
			best = sim
		}
	}
	return best
}

func (s *dedupService) IsNearDuplicate(score float64) bool {
	return score > SimilarityThreshold
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
