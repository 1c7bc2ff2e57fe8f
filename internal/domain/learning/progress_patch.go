package learning

// ProgressPatch is the single atomic unit applied after a lesson is served:
// cursor move, delivered id/title append, embedding append, completion and
// next-topic update. It is applied in one store call so concurrent requests
// for the same (user, subject) cannot lose updates.
type ProgressPatch struct {
	Cursor      PathCursor
	FocusLabel  string
	LessonID    string
	LessonTitle string
	Embedding   []float32
	// PlannedMini caps DeliveredMiniCount for the focused subtopic.
	PlannedMini int
	// MarkCompleted flips the focus label in the CompletionMap. Never unset.
	MarkCompleted bool
	NextTopic     string
}
