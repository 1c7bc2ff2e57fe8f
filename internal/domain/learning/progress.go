package learning

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Pace string

const (
	PaceSlow Pace = "slow"
	PaceFast Pace = "fast"
)

// ProgressMetricsSnapshot is the cached accuracy/pace rollup. It is
// recomputed only when a newer attempt than LastAttemptAt shows up.
type ProgressMetricsSnapshot struct {
	AccuracyPct   *int       `json:"accuracy_pct,omitempty"`
	Pace          Pace       `json:"pace"`
	ComputedAt    time.Time  `json:"computed_at"`
	SampleSize    int        `json:"sample_size"`
	RecentSample  int        `json:"recent_sample"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
}

// AccuracyBand buckets accuracy for compact signaling and stable persona
// hashes: 0 <50, 1 50-69, 2 70-84, 3 >=85. Unknown accuracy maps to band 1.
func (s ProgressMetricsSnapshot) AccuracyBand() int {
	if s.AccuracyPct == nil {
		return 1
	}
	pct := *s.AccuracyPct
	switch {
	case pct < 50:
		return 0
	case pct < 70:
		return 1
	case pct < 85:
		return 2
	default:
		return 3
	}
}

// PreferenceSet holds liked/disliked/saved lesson ids, each capped and
// de-duplicated on most-recent occurrence (newest first).
type PreferenceSet struct {
	Liked    []string `json:"liked,omitempty"`
	Disliked []string `json:"disliked,omitempty"`
	Saved    []string `json:"saved,omitempty"`
}

const PreferenceRetention = 50

// PushRecent prepends id, dropping any earlier occurrence and trimming to cap.
func PushRecent(list []string, id string, limit int) []string {
	out := make([]string, 0, len(list)+1)
	out = append(out, id)
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ProgressRow persists the metrics snapshot and preference sets per
// (user, subject).
type ProgressRow struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID        uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_progress_user_subject,priority:1" json:"user_id"`
	Subject       string         `gorm:"column:subject;not null;uniqueIndex:idx_progress_user_subject,priority:2" json:"subject"`
	AccuracyPct   *int           `gorm:"column:accuracy_pct" json:"accuracy_pct,omitempty"`
	Pace          string         `gorm:"column:pace;not null;default:'slow'" json:"pace"`
	SampleSize    int            `gorm:"column:sample_size;not null;default:0" json:"sample_size"`
	RecentSample  int            `gorm:"column:recent_sample;not null;default:0" json:"recent_sample"`
	ComputedAt    *time.Time     `gorm:"column:computed_at" json:"computed_at,omitempty"`
	LastAttemptAt *time.Time     `gorm:"column:last_attempt_at" json:"last_attempt_at,omitempty"`
	Preferences   datatypes.JSON `gorm:"column:preferences;type:jsonb" json:"preferences,omitempty"`
	ToneSignature string         `gorm:"column:tone_signature" json:"tone_signature,omitempty"`
	CreatedAt     time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (ProgressRow) TableName() string { return "learner_progress" }

func (r *ProgressRow) Snapshot() ProgressMetricsSnapshot {
	snap := ProgressMetricsSnapshot{
		AccuracyPct:   r.AccuracyPct,
		Pace:          Pace(r.Pace),
		SampleSize:    r.SampleSize,
		RecentSample:  r.RecentSample,
		LastAttemptAt: r.LastAttemptAt,
	}
	if r.ComputedAt != nil {
		snap.ComputedAt = *r.ComputedAt
	}
	if snap.Pace == "" {
		snap.Pace = PaceSlow
	}
	return snap
}

func (r *ProgressRow) DecodePreferences() PreferenceSet {
	var p PreferenceSet
	if len(r.Preferences) > 0 {
		_ = json.Unmarshal(r.Preferences, &p)
	}
	return p
}
