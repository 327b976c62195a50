package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"alfredoptarigan/resume-optimizer/internal/pipeline"
)

type JobState string

const (
	JobNotStarted JobState = "not_started"
	JobRunning    JobState = "processing"
	JobSucceeded  JobState = "completed"
	JobFailed     JobState = "error"
)

// JobMetadata is the status blob attached to a document. It is the only
// coordination medium between the job runner and status readers.
type JobMetadata struct {
	Processing          bool      `json:"processing"`
	ProcessingCompleted bool      `json:"processingCompleted"`
	ProcessingStatus    string    `json:"processingStatus,omitempty"`
	ProcessingProgress  int       `json:"processingProgress"`
	StartTime           time.Time `json:"startTime"`
	LastUpdated         time.Time `json:"lastUpdated"`
	Error               *string   `json:"error"`

	AtsScore         *float64 `json:"atsScore"`
	ImprovedAtsScore *float64 `json:"improvedAtsScore"`
	OptimizedText    *string  `json:"optimizedText"`
	Improvements     []string `json:"improvements"`
	SelectedTemplate *string  `json:"selectedTemplate"`

	Stage       pipeline.Stage `json:"stage"`
	RunID       string         `json:"runId,omitempty"`
	UserID      string         `json:"userId,omitempty"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Note        string         `json:"note,omitempty"`

	// Older records used these names.
	LegacyProcessed        bool    `json:"processed,omitempty"`
	LegacyOptimizedContent *string `json:"optimizedContent,omitempty"`
}

var ErrImpossibleState = errors.New("impossible job metadata state")

// DecodeMetadata parses a stored blob. Empty or null input yields empty metadata.
func DecodeMetadata(raw []byte) (*JobMetadata, error) {
	meta := &JobMetadata{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return meta, nil
	}
	if err := json.Unmarshal(trimmed, meta); err != nil {
		return &JobMetadata{}, fmt.Errorf("failed to decode job metadata: %w", err)
	}
	return meta, nil
}

func (m *JobMetadata) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (m *JobMetadata) Clone() *JobMetadata {
	if m == nil {
		return &JobMetadata{}
	}
	c := *m
	c.Error = cloneString(m.Error)
	c.AtsScore = cloneFloat(m.AtsScore)
	c.ImprovedAtsScore = cloneFloat(m.ImprovedAtsScore)
	c.OptimizedText = cloneString(m.OptimizedText)
	c.SelectedTemplate = cloneString(m.SelectedTemplate)
	c.LegacyOptimizedContent = cloneString(m.LegacyOptimizedContent)
	if m.Improvements != nil {
		c.Improvements = append([]string(nil), m.Improvements...)
	}
	return &c
}

func (m *JobMetadata) HasError() bool {
	return m.Error != nil && strings.TrimSpace(*m.Error) != ""
}

// IsCompleted honors the legacy "processed" flag.
func (m *JobMetadata) IsCompleted() bool {
	return m.ProcessingCompleted || m.LegacyProcessed
}

// ResultText prefers the current field name over the legacy one.
func (m *JobMetadata) ResultText() string {
	if m.OptimizedText != nil && strings.TrimSpace(*m.OptimizedText) != "" {
		return *m.OptimizedText
	}
	if m.LegacyOptimizedContent != nil {
		return *m.LegacyOptimizedContent
	}
	return ""
}

// State collapses the flag soup into one exhaustive value.
func (m *JobMetadata) State() JobState {
	switch {
	case m.HasError():
		return JobFailed
	case m.IsCompleted():
		return JobSucceeded
	case m.Processing:
		return JobRunning
	default:
		return JobNotStarted
	}
}

// Machine rebuilds the stage machine from the stored marker.
func (m *JobMetadata) Machine() *pipeline.Machine {
	return pipeline.NewMachine(m.Stage, m.HasError())
}

// Validate rejects combinations no writer may persist.
func (m *JobMetadata) Validate() error {
	if m.ProcessingCompleted && m.Processing {
		return fmt.Errorf("%w: completed while processing", ErrImpossibleState)
	}
	if m.ProcessingCompleted && m.ResultText() == "" && !m.HasError() {
		return fmt.Errorf("%w: completed without result or error", ErrImpossibleState)
	}
	if m.ProcessingProgress < 0 || m.ProcessingProgress > 100 {
		return fmt.Errorf("%w: progress %d out of range", ErrImpossibleState, m.ProcessingProgress)
	}
	return nil
}

// NewRun builds the blob written when a run starts. Every progress, error and
// completion field is reset in the same value so the write is all-or-nothing.
func NewRun(runID, userID, fingerprint string, template *string, now time.Time) *JobMetadata {
	return &JobMetadata{
		Processing:         true,
		ProcessingStatus:   "Starting optimization",
		ProcessingProgress: 0,
		StartTime:          now,
		LastUpdated:        now,
		Stage:              pipeline.StageNotStarted,
		RunID:              runID,
		UserID:             userID,
		Fingerprint:        fingerprint,
		SelectedTemplate:   cloneString(template),
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func StringPtr(s string) *string { return &s }

func FloatPtr(f float64) *float64 { return &f }
