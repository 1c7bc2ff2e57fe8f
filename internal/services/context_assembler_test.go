package services

import (
	"strings"
	"testing"

	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
)

func assemblerInput() AssembleInput {
	return AssembleInput{
		Subject: "spanish",
		Course:  &CurriculumCourse{Subject: "spanish", Description: "Everyday conversational Spanish."},
		Path:    twoTopicPath(),
		Cursor:  types.PathCursor{TopicIndex: 0, SubtopicIndex: 1},
		Metrics: types.ProgressMetricsSnapshot{Pace: types.PaceSlow},
		Delivery: types.DeliveryLog{
			"Topic 1 > Subtopic 2": types.DeliveryRecord{
				IDs:    []string{"id-1", "id-2", "id-3", "id-4"},
				Titles: []string{"One", "Two", "Three", "Four"},
			},
		},
		Preferences: types.PreferenceSet{Disliked: []string{"bad-1"}},
	}
}

func TestAssembleBuildsContextAndGuardrails(t *testing.T) {
	a := &contextAssembler{}
	sc, gr := a.Assemble(assemblerInput())

	if sc.FocusLabel != "Topic 1 > Subtopic 2" {
		t.Fatalf("focus = %q", sc.FocusLabel)
	}
	if len(sc.AvoidTitles) != 3 {
		t.Fatalf("avoid titles = %v, want last 3", sc.AvoidTitles)
	}
	if sc.AvoidTitles[0] != "Two" || sc.AvoidTitles[2] != "Four" {
		t.Fatalf("avoid titles must be the most recent: %v", sc.AvoidTitles)
	}
	if sc.Knowledge.Definition == "" || !strings.Contains(sc.Knowledge.Definition, "Subtopic 2") {
		t.Fatalf("definition = %q", sc.Knowledge.Definition)
	}
	if sc.Knowledge.Prerequisite != "Subtopic 1" {
		t.Fatalf("prerequisite = %q", sc.Knowledge.Prerequisite)
	}

	for _, id := range []string{"id-1", "id-4", "bad-1"} {
		if !gr.ExcludesID(id) {
			t.Fatalf("guardrails missing id %q", id)
		}
	}
	if !gr.ExcludesTitle("  three ") {
		t.Fatalf("title exclusion should be whitespace/case insensitive")
	}
	if gr.ExcludesTitle("Five") {
		t.Fatalf("unrelated title excluded")
	}
}

func TestStyleCuesByBand(t *testing.T) {
	low := 30
	high := 92
	cases := []struct {
		snap types.ProgressMetricsSnapshot
		want string
	}{
		{types.ProgressMetricsSnapshot{AccuracyPct: &low}, "stepwise"},
		{types.ProgressMetricsSnapshot{}, "concrete examples"},
		{types.ProgressMetricsSnapshot{AccuracyPct: &high}, "stretch"},
	}
	for _, c := range cases {
		cues := styleCues(c.snap, "")
		found := false
		for _, cue := range cues {
			if cue == c.want {
				found = true
			}
		}
		if !found {
			t.Fatalf("cues %v missing %q", cues, c.want)
		}
		if len(cues) > maxStyleCues {
			t.Fatalf("too many cues: %v", cues)
		}
	}

	cues := styleCues(types.ProgressMetricsSnapshot{}, "playful")
	joined := strings.Join(cues, ",")
	if !strings.Contains(joined, "playful") {
		t.Fatalf("tone missing from cues: %v", cues)
	}
	if strings.Contains(strings.Join(styleCues(types.ProgressMetricsSnapshot{}, "neutral"), ","), "neutral") {
		t.Fatalf("neutral tone should not produce a cue")
	}
}

func TestPersonaHashStability(t *testing.T) {
	h1 := PersonaHash(types.PaceSlow, 1, "neutral")
	h2 := PersonaHash(types.PaceSlow, 1, " Neutral ")
	if h1 != h2 {
		t.Fatalf("persona hash must normalize tone: %q vs %q", h1, h2)
	}
	if len(h1) != 12 {
		t.Fatalf("persona hash length = %d, want 12", len(h1))
	}

	if PersonaHash(types.PaceFast, 1, "neutral") == h1 {
		t.Fatalf("pace change must change the hash")
	}
	if PersonaHash(types.PaceSlow, 2, "neutral") == h1 {
		t.Fatalf("band change must change the hash")
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("short", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
	got := truncateRunes("ABCDEFGHIJ", 5)
	if len([]rune(got)) != 5 {
		t.Fatalf("truncated length = %d, want 5", len([]rune(got)))
	}
}
