package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
	"github.com/yungbote/microlearn-backend/internal/platform/logger"
)

// Character budgets for the compressed knowledge fragment. The whole
// StructuredContext has to stay small: it is the entire payload sent to the
// generator besides the instruction prompt.
const (
	defBudget      = 160
	appBudget      = 140
	prereqBudget   = 100
	reminderBudget = 100
	maxStyleCues   = 3
	maxAvoidTitles = 3
)

// KnowledgeFragment is the compact what/why/before/last-time slice of
// curriculum context.
type KnowledgeFragment struct {
	Definition   string `json:"definition,omitempty"`
	Application  string `json:"application,omitempty"`
	Prerequisite string `json:"prerequisite,omitempty"`
	Reminder     string `json:"reminder,omitempty"`
}

// StructuredContext is everything the generator sees about the learner.
type StructuredContext struct {
	Subject     string            `json:"subject"`
	FocusLabel  string            `json:"focus_label"`
	Pace        types.Pace        `json:"pace"`
	AccuracyPct *int              `json:"accuracy_pct,omitempty"`
	Knowledge   KnowledgeFragment `json:"knowledge"`
	StyleCues   []string          `json:"style_cues,omitempty"`
	AvoidTitles []string          `json:"avoid_titles,omitempty"`
}

// Guardrails never reach the generator. Exclusion is enforced locally after
// the fact, which keeps the prompt small.
type Guardrails struct {
	ExcludeIDs    map[string]bool
	ExcludeTitles map[string]bool
}

func (g Guardrails) ExcludesID(id string) bool {
	return g.ExcludeIDs[strings.TrimSpace(id)]
}

func (g Guardrails) ExcludesTitle(title string) bool {
	return g.ExcludeTitles[normalizeTitle(title)]
}

func normalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// PersonaHash fingerprints pace + accuracy band + tone signature. Cached
// lessons generated under a different persona are not served.
func PersonaHash(pace types.Pace, accuracyBand int, toneSignature string) string {
	raw := fmt.Sprintf("%s|%d|%s", pace, accuracyBand, strings.TrimSpace(strings.ToLower(toneSignature)))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:12]
}

type ContextAssembler interface {
	Assemble(in AssembleInput) (StructuredContext, Guardrails)
	Persona(metrics types.ProgressMetricsSnapshot, toneSignature string) string
}

type AssembleInput struct {
	Subject       string
	Course        *CurriculumCourse
	Path          *types.LearningPath
	Cursor        types.PathCursor
	Metrics       types.ProgressMetricsSnapshot
	ToneSignature string
	Delivery      types.DeliveryLog
	Preferences   types.PreferenceSet
}

type contextAssembler struct {
	log *logger.Logger
}

func NewContextAssembler(baseLog *logger.Logger) ContextAssembler {
	return &contextAssembler{log: baseLog.With("service", "ContextAssembler")}
}

func (a *contextAssembler) Persona(metrics types.ProgressMetricsSnapshot, toneSignature string) string {
	return PersonaHash(metrics.Pace, metrics.AccuracyBand(), toneSignature)
}

func (a *contextAssembler) Assemble(in AssembleInput) (StructuredContext, Guardrails) {
	focus := in.Path.LabelAt(in.Cursor.TopicIndex, in.Cursor.SubtopicIndex)
	rec := in.Delivery[focus]

	sc := StructuredContext{
		Subject:     in.Subject,
		FocusLabel:  focus,
		Pace:        in.Metrics.Pace,
		AccuracyPct: in.Metrics.AccuracyPct,
		Knowledge:   a.knowledge(in, focus, rec),
		StyleCues:   styleCues(in.Metrics, in.ToneSignature),
		AvoidTitles: lastN(rec.Titles, maxAvoidTitles),
	}

	gr := Guardrails{
		ExcludeIDs:    map[string]bool{},
		ExcludeTitles: map[string]bool{},
	}
	for _, id := range rec.IDs {
		if id = strings.TrimSpace(id); id != "" {
			gr.ExcludeIDs[id] = true
		}
	}
	for _, t := range rec.Titles {
		if n := normalizeTitle(t); n != "" {
			gr.ExcludeTitles[n] = true
		}
	}
	// Disliked lessons are excluded too: re-serving one is worse than a
	// near-duplicate.
	for _, id := range in.Preferences.Disliked {
		if id = strings.TrimSpace(id); id != "" {
			gr.ExcludeIDs[id] = true
		}
	}

	return sc, gr
}

func (a *contextAssembler) knowledge(in AssembleInput, focus string, rec types.DeliveryRecord) KnowledgeFragment {
	frag := KnowledgeFragment{}

	if in.Cursor.InBounds(in.Path) {
		topic := in.Path.Topics[in.Cursor.TopicIndex]
		sub := topic.Subtopics[in.Cursor.SubtopicIndex]
		frag.Definition = truncateRunes(
			fmt.Sprintf("%s, part of %s", sub.Name, topic.Name), defBudget)

		if in.Cursor.SubtopicIndex > 0 {
			frag.Prerequisite = truncateRunes(topic.Subtopics[in.Cursor.SubtopicIndex-1].Name, prereqBudget)
		} else if in.Cursor.TopicIndex > 0 {
			prev := in.Path.Topics[in.Cursor.TopicIndex-1]
			frag.Prerequisite = truncateRunes(prev.Name, prereqBudget)
		}
	}

	if in.Course != nil && in.Course.Description != "" {
		frag.Application = truncateRunes(in.Course.Description, appBudget)
	}

	if len(rec.Titles) > 0 {
		frag.Reminder = truncateRunes("last covered: "+rec.Titles[len(rec.Titles)-1], reminderBudget)
	}

	return frag
}

// styleCues maps performance band + tone history to at most three cues.
func styleCues(metrics types.ProgressMetricsSnapshot, toneSignature string) []string {
	cues := make([]string, 0, maxStyleCues)

	switch metrics.AccuracyBand() {
	case 0:
		cues = append(cues, "stepwise", "avoid jargon")
	case 1:
		cues = append(cues, "concrete examples")
	case 2:
		cues = append(cues, "brisk")
	case 3:
		cues = append(cues, "stretch")
	}

	if tone := strings.TrimSpace(strings.ToLower(toneSignature)); tone != "" && tone != "neutral" {
		cues = append(cues, tone)
	}

	if len(cues) > maxStyleCues {
		cues = cues[:maxStyleCues]
	}
	return cues
}

func lastN(list []string, n int) []string {
	if len(list) <= n {
		return append([]string(nil), list...)
	}
	return append([]string(nil), list[len(list)-n:]...)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
