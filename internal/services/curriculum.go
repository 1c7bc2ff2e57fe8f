package services

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/microlearn-backend/internal/platform/envutil"
	"github.com/yungbote/microlearn-backend/internal/platform/logger"
)

// CurriculumCourse is one catalog entry: the course frame a subject's
// learning path is synthesized from.
type CurriculumCourse struct {
	Subject     string   `yaml:"subject"`
	Title       string   `yaml:"title"`
	Level       string   `yaml:"level"`
	Description string   `yaml:"description"`
	UnitHints   []string `yaml:"unit_hints"`
	Prereqs     []string `yaml:"prereqs"`
}

type curriculumCatalog struct {
	Courses          []CurriculumCourse `yaml:"courses"`
	DefaultInterests []string           `yaml:"default_interests"`
}

// CurriculumService answers "does this subject have a curriculum mapping"
// and supplies the course frame used for path synthesis.
type CurriculumService interface {
	CourseFor(subject string) (*CurriculumCourse, bool)
	DefaultInterests() []string
}

type curriculumService struct {
	log      *logger.Logger
	bySubj   map[string]*CurriculumCourse
	defaults []string
}

func NewCurriculumService(baseLog *logger.Logger) (CurriculumService, error) {
	log := baseLog.With("service", "CurriculumService")

	path := envutil.Str("CURRICULUM_PATH", "curriculum.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read curriculum catalog %s: %w", path, err)
	}

	var catalog curriculumCatalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("parse curriculum catalog: %w", err)
	}
	if len(catalog.Courses) == 0 {
		return nil, fmt.Errorf("curriculum catalog %s has no courses", path)
	}

	bySubj := make(map[string]*CurriculumCourse, len(catalog.Courses))
	for i := range catalog.Courses {
		c := &catalog.Courses[i]
		bySubj[normalizeSubject(c.Subject)] = c
	}

	log.Info("Curriculum catalog loaded", "path", path, "courses", len(catalog.Courses))
	return &curriculumService{log: log, bySubj: bySubj, defaults: catalog.DefaultInterests}, nil
}

func (s *curriculumService) CourseFor(subject string) (*CurriculumCourse, bool) {
	c, ok := s.bySubj[normalizeSubject(subject)]
	return c, ok
}

func (s *curriculumService) DefaultInterests() []string {
	return s.defaults
}

func normalizeSubject(subject string) string {
	return strings.ToLower(strings.TrimSpace(subject))
}
