package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"alfredoptarigan/resume-optimizer/internal/pipeline"
)

type AnalysisResult struct {
	AtsScore   float64  `json:"atsScore"`
	Keywords   []string `json:"keywords"`
	Weaknesses []string `json:"weaknesses"`
	Summary    string   `json:"summary"`
}

type OptimizationResult struct {
	OptimizedText    string   `json:"optimizedText"`
	Improvements     []string `json:"improvements"`
	ImprovedAtsScore float64  `json:"improvedAtsScore"`
}

type GenerationResult struct {
	FinalText string `json:"finalText"`
}

var stageSchemas = map[pipeline.Phase]map[string]any{
	pipeline.PhaseAnalyze: {
		"type":     "object",
		"required": []string{"atsScore", "weaknesses"},
		"properties": map[string]any{
			"atsScore":   map[string]any{"type": "number", "minimum": 0, "maximum": 100},
			"keywords":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"weaknesses": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"summary":    map[string]any{"type": "string"},
		},
	},
	pipeline.PhaseOptimize: {
		"type":     "object",
		"required": []string{"optimizedText", "improvements"},
		"properties": map[string]any{
			"optimizedText":    map[string]any{"type": "string", "minLength": 1},
			"improvements":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"improvedAtsScore": map[string]any{"type": "number", "minimum": 0, "maximum": 100},
		},
	},
	pipeline.PhaseGenerate: {
		"type":     "object",
		"required": []string{"finalText"},
		"properties": map[string]any{
			"finalText": map[string]any{"type": "string", "minLength": 1},
		},
	},
}

// StageValidator checks model output against the schema of its stage.
type StageValidator struct {
	schemas map[pipeline.Phase]*jsonschema.Schema
}

func NewStageValidator() (*StageValidator, error) {
	v := &StageValidator{schemas: make(map[pipeline.Phase]*jsonschema.Schema)}
	for phase, schemaMap := range stageSchemas {
		b, err := json.Marshal(schemaMap)
		if err != nil {
			return nil, fmt.Errorf("marshal %s schema: %w", phase, err)
		}
		url := phase.String() + ".json"
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", phase, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", phase, err)
		}
		v.schemas[phase] = schema
	}
	return v, nil
}

// Decode extracts the JSON object from a model response, validates it and
// fills out. Every failure is permanent: retrying the same prompt rarely fixes it.
func (v *StageValidator) Decode(phase pipeline.Phase, response string, out any) error {
	schema, ok := v.schemas[phase]
	if !ok {
		return pipeline.Permanent(pipeline.CodeInternal, fmt.Errorf("no schema for phase %s", phase))
	}

	raw := []byte(extractJSON(response))

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return pipeline.Permanent(pipeline.CodeInvalidResponse, fmt.Errorf("%s response is not JSON: %w", phase, err))
	}
	if err := schema.Validate(doc); err != nil {
		return pipeline.Permanent(pipeline.CodeInvalidResponse, fmt.Errorf("%s response does not match schema: %w", phase, err))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return pipeline.Permanent(pipeline.CodeInvalidResponse, fmt.Errorf("failed to decode %s response: %w", phase, err))
	}
	return nil
}

// extractJSON strips markdown fences and surrounding prose.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		return text[start : end+1]
	}

	return strings.TrimSpace(text)
}
