package learning

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Subtopic carries an embedded completed flag only as a migration fallback;
// the CompletionMap on PathStateRow is authoritative.
type Subtopic struct {
	Name               string `json:"name"`
	PlannedMiniLessons int    `json:"planned_mini_lessons"`
	Completed          bool   `json:"completed,omitempty"`
}

type Topic struct {
	Name      string     `json:"name"`
	Subtopics []Subtopic `json:"subtopics"`
}

// LearningPath is the per-(user, subject) curriculum tree. Ordering is
// stable once created; mutation only appends or marks completion.
type LearningPath struct {
	Topics []Topic `json:"topics"`
}

func (p *LearningPath) Valid() bool {
	if p == nil || len(p.Topics) == 0 {
		return false
	}
	for _, t := range p.Topics {
		if strings.TrimSpace(t.Name) == "" || len(t.Subtopics) == 0 {
			return false
		}
		for _, s := range t.Subtopics {
			if strings.TrimSpace(s.Name) == "" || s.PlannedMiniLessons < 1 {
				return false
			}
		}
	}
	return true
}

// PathCursor points at the current (topic, subtopic) pair plus how many
// mini-lessons were already delivered for it.
type PathCursor struct {
	TopicIndex         int `json:"topic_index"`
	SubtopicIndex      int `json:"subtopic_index"`
	DeliveredMiniCount int `json:"delivered_mini_count"`
}

func (c PathCursor) InBounds(p *LearningPath) bool {
	if p == nil || c.TopicIndex < 0 || c.TopicIndex >= len(p.Topics) {
		return false
	}
	return c.SubtopicIndex >= 0 && c.SubtopicIndex < len(p.Topics[c.TopicIndex].Subtopics)
}

// FocusLabel renders the "Topic > Subtopic" string used for completion and
// delivery bookkeeping. Labels are display/persistence artifacts; in-process
// keys use the typed key structs below.
func FocusLabel(topic, subtopic string) string {
	return fmt.Sprintf("%s > %s", topic, subtopic)
}

func (p *LearningPath) LabelAt(topicIdx, subIdx int) string {
	if p == nil || topicIdx < 0 || topicIdx >= len(p.Topics) {
		return ""
	}
	t := p.Topics[topicIdx]
	if subIdx < 0 || subIdx >= len(t.Subtopics) {
		return ""
	}
	return FocusLabel(t.Name, t.Subtopics[subIdx].Name)
}

// CompletionMap is the authoritative record of finished subtopics, keyed by
// focus label. Once true, an entry never reverts.
type CompletionMap map[string]bool

// Done consults the map first and falls back to the embedded subtopic flag
// for documents written before the map existed.
func (m CompletionMap) Done(p *LearningPath, topicIdx, subIdx int) bool {
	label := p.LabelAt(topicIdx, subIdx)
	if label == "" {
		return false
	}
	if v, ok := m[label]; ok {
		return v
	}
	return p.Topics[topicIdx].Subtopics[subIdx].Completed
}

// DeliveryRecord is the per-label history of delivered lessons, insertion
// order, capped at DeliveryRetention. Used for exclusion and descriptive
// context, never for ranking.
type DeliveryRecord struct {
	IDs    []string `json:"ids"`
	Titles []string `json:"titles"`
}

const DeliveryRetention = 15

// RecentEmbeddingWindow bounds the per-subject embedding history used by
// the deduplicator.
const RecentEmbeddingWindow = 10

type DeliveryLog map[string]DeliveryRecord

// SubjectKey and CacheKey are the composite keys for per-user state. Typed
// on purpose: topic names may contain the label delimiter.
type SubjectKey struct {
	UserID  uuid.UUID
	Subject string
}

type CacheKey struct {
	UserID     uuid.UUID
	Subject    string
	TopicLabel string
}

// PathStateRow is the persisted (user, subject) curriculum document plus
// cursor and delivery bookkeeping.
type PathStateRow struct {
	ID                 uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID             uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_path_state_user_subject,priority:1" json:"user_id"`
	Subject            string         `gorm:"column:subject;not null;uniqueIndex:idx_path_state_user_subject,priority:2" json:"subject"`
	Path               datatypes.JSON `gorm:"column:path;type:jsonb" json:"path"`
	TopicIndex         int            `gorm:"column:topic_index;not null;default:0" json:"topic_index"`
	SubtopicIndex      int            `gorm:"column:subtopic_index;not null;default:0" json:"subtopic_index"`
	DeliveredMiniCount int            `gorm:"column:delivered_mini_count;not null;default:0" json:"delivered_mini_count"`
	Completion         datatypes.JSON `gorm:"column:completion;type:jsonb" json:"completion,omitempty"`
	Delivery           datatypes.JSON `gorm:"column:delivery;type:jsonb" json:"delivery,omitempty"`
	RecentEmbeddings   datatypes.JSON `gorm:"column:recent_embeddings;type:jsonb" json:"-"`
	NextTopic          string         `gorm:"column:next_topic" json:"next_topic,omitempty"`
	CreatedAt          time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (PathStateRow) TableName() string { return "path_state" }

func (r *PathStateRow) Cursor() PathCursor {
	return PathCursor{
		TopicIndex:         r.TopicIndex,
		SubtopicIndex:      r.SubtopicIndex,
		DeliveredMiniCount: r.DeliveredMiniCount,
	}
}

func (r *PathStateRow) DecodePath() (*LearningPath, error) {
	if len(r.Path) == 0 {
		return nil, nil
	}
	var p LearningPath
	if err := json.Unmarshal(r.Path, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PathStateRow) DecodeCompletion() CompletionMap {
	m := CompletionMap{}
	if len(r.Completion) > 0 {
		_ = json.Unmarshal(r.Completion, &m)
	}
	return m
}

func (r *PathStateRow) DecodeDelivery() DeliveryLog {
	d := DeliveryLog{}
	if len(r.Delivery) > 0 {
		_ = json.Unmarshal(r.Delivery, &d)
	}
	return d
}

func (r *PathStateRow) DecodeRecentEmbeddings() [][]float32 {
	var out [][]float32
	if len(r.RecentEmbeddings) > 0 {
		_ = json.Unmarshal(r.RecentEmbeddings, &out)
	}
	return out
}
