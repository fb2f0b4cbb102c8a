package silicon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultGradePath is the well-known location of the persisted grade.
const DefaultGradePath = "/etc/overkill/silicon_grade.json"

// gradeForIndex maps the highest passing ladder index to a letter grade.
// The index set is closed: anything outside it is the floor grade.
func gradeForIndex(idx int) (letter, description string) {
	switch idx {
	case 0:
		return "C", "Average - Mild overclock capable"
	case 1:
		return "B", "Good - Moderate overclock capable"
	case 2:
		return "A", "Excellent - Aggressive overclock capable"
	case 3:
		return "S", "Golden Sample - Extreme overclock capable"
	case 4:
		return "S+", "Exceptional - Maximum overclock achieved"
	default:
		return "D", "Below Average - Stock only"
	}
}

// grade derives the verdict from the highest passing ladder index. The
// recommended profile sits one rung below the highest pass for safety
// margin, falling back to stock.
func (t *Tester) grade(maxStableIdx int, results []Result) *Grade {
	letter, description := gradeForIndex(maxStableIdx)

	recommended := "stock"
	if maxStableIdx > 0 {
		recommended = t.Profiles[maxStableIdx-1].Name
	}

	maxStable := "none"
	if maxStableIdx >= 0 {
		maxStable = t.Profiles[maxStableIdx].Name
	}

	return &Grade{
		Grade:              letter,
		Description:        description,
		MaxStableProfile:   maxStable,
		RecommendedProfile: recommended,
		TestedAt:           time.Now(),
		Results:            results,
	}
}

// Record is the persisted grade artifact: the verdict plus a compact
// per-profile summary.
type Record struct {
	Grade              string          `json:"grade"`
	Description        string          `json:"description"`
	MaxStableProfile   string          `json:"max_stable_profile"`
	RecommendedProfile string          `json:"recommended_profile"`
	TestDate           string          `json:"test_date"`
	TestResults        []ResultSummary `json:"test_results"`
}

// ResultSummary is the compact per-profile entry inside a Record
type ResultSummary struct {
	Profile   string  `json:"profile"`
	Stable    bool    `json:"stable"`
	MaxTemp   float64 `json:"max_temp"`
	Throttled bool    `json:"throttled"`
}

// GradeStore persists the most recent grade to a fixed path
type GradeStore struct {
	Path string
}

// NewGradeStore creates a store at the given path, or the default when empty
func NewGradeStore(path string) *GradeStore {
	if path == "" {
		path = DefaultGradePath
	}
	return &GradeStore{Path: path}
}

// Save writes the grade record, creating parent directories as needed
func (s *GradeStore) Save(g *Grade) error {
	record := Record{
		Grade:              g.Grade,
		Description:        g.Description,
		MaxStableProfile:   g.MaxStableProfile,
		RecommendedProfile: g.RecommendedProfile,
		TestDate:           g.TestedAt.Format(time.RFC3339),
	}
	for _, r := range g.Results {
		record.TestResults = append(record.TestResults, ResultSummary{
			Profile:   r.ProfileName,
			Stable:    r.Stable,
			MaxTemp:   r.MaxTemp,
			Throttled: r.Throttled,
		})
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal grade: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return fmt.Errorf("create grade dir: %w", err)
	}
	if err := os.WriteFile(s.Path, data, 0644); err != nil {
		return fmt.Errorf("write grade: %w", err)
	}
	return nil
}

// Load reads the persisted grade record
func (s *GradeStore) Load() (*Record, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read grade: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse grade: %w", err)
	}
	return &record, nil
}
