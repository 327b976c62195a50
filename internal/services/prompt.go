package services

import (
	"fmt"
	"strings"

	"alfredoptarigan/resume-optimizer/internal/pipeline"
)

const (
	analyzeInstruction = `You are a résumé analysis assistant. You read a candidate's résumé against a target job and
extract insights an applicant tracking system (ATS) would use.
- Base every statement on the résumé text provided.
- If information is missing from the résumé, say so instead of inventing it.
- Be objective and specific.`

	optimizeInstruction = `You are a résumé editing assistant. You improve an existing résumé for a target job.
- Preserve the original meaning, employers, dates and facts. Never invent experience.
- Improve clarity, concision and keyword coverage for the target job.
- Explain each significant change you make.`

	generateInstruction = `You are a résumé creation assistant. You produce the final, formatted version of a résumé.
- Organize content logically with clear headings.
- Follow the requested template.
- Keep every fact from the optimized text you are given.`
)

// SystemInstruction returns the mode preamble for a phase.
func SystemInstruction(phase pipeline.Phase) string {
	switch phase {
	case pipeline.PhaseAnalyze:
		return analyzeInstruction
	case pipeline.PhaseOptimize:
		return optimizeInstruction
	default:
		return generateInstruction
	}
}

// PhaseTemperature keeps analysis deterministic and rewriting slightly looser.
func PhaseTemperature(phase pipeline.Phase) float32 {
	switch phase {
	case pipeline.PhaseAnalyze:
		return 0.2
	case pipeline.PhaseOptimize:
		return 0.4
	default:
		return 0.3
	}
}

type PromptBuilder struct {
	chunker  TextChunker
	maxChars int
}

func NewPromptBuilder(maxChars int) *PromptBuilder {
	if maxChars <= 0 {
		maxChars = 4000
	}
	return &PromptBuilder{chunker: NewTextChunker(), maxChars: maxChars}
}

// BuildAnalyzePrompt creates the prompt for the analyze stage.
func (pb *PromptBuilder) BuildAnalyzePrompt(resumeText, jobDescription, guidance string) string {
	if strings.TrimSpace(guidance) == "" {
		guidance = "No additional guidance available."
	}

	return fmt.Sprintf(`TARGET JOB DESCRIPTION:
%s

ATS GUIDANCE:
%s

RÉSUMÉ:
%s

Score how well the résumé would pass an ATS screen for the target job on a 0-100 scale.
List the job keywords the résumé already covers and the weaknesses that lower the score.

Return your response in the following JSON format:
{
  "atsScore": <0-100>,
  "keywords": ["<keyword>", ...],
  "weaknesses": ["<weakness>", ...],
  "summary": "<2-3 sentence assessment>"
}`,
		pb.excerpt(jobDescription), guidance, pb.excerpt(resumeText))
}

// BuildOptimizePrompt creates the prompt for the optimize stage.
func (pb *PromptBuilder) BuildOptimizePrompt(resumeText, jobDescription string, analysis *AnalysisResult) string {
	weaknesses := "none reported"
	if analysis != nil && len(analysis.Weaknesses) > 0 {
		weaknesses = "- " + strings.Join(analysis.Weaknesses, "\n- ")
	}
	summary := ""
	if analysis != nil {
		summary = analysis.Summary
	}

	return fmt.Sprintf(`TARGET JOB DESCRIPTION:
%s

ANALYSIS SUMMARY:
%s

WEAKNESSES TO ADDRESS:
%s

RÉSUMÉ:
%s

Rewrite the résumé so it addresses the weaknesses and covers the job's keywords truthfully.

Return your response in the following JSON format:
{
  "optimizedText": "<full rewritten résumé>",
  "improvements": ["<change made and why>", ...],
  "improvedAtsScore": <0-100, estimated score of the rewritten résumé>
}`,
		pb.excerpt(jobDescription), summary, weaknesses, pb.excerpt(resumeText))
}

// BuildGeneratePrompt creates the prompt for the generate stage.
func (pb *PromptBuilder) BuildGeneratePrompt(optimizedText, template string) string {
	if strings.TrimSpace(template) == "" {
		template = "professional"
	}

	return fmt.Sprintf(`TEMPLATE: %s

OPTIMIZED RÉSUMÉ:
%s

Lay out the optimized résumé in the %s template as plain text with section headings.

Return your response in the following JSON format:
{
  "finalText": "<formatted résumé>"
}`,
		template, optimizedText, template)
}

// BuildRetrievalQuery creates the query used to look up ATS guidance.
func (pb *PromptBuilder) BuildRetrievalQuery(jobDescription string) string {
	return fmt.Sprintf("ATS screening criteria and résumé keywords for: %s", pb.chunker.Excerpt(jobDescription, 500))
}

func (pb *PromptBuilder) excerpt(text string) string {
	return pb.chunker.Excerpt(text, pb.maxChars)
}

// FormatRAGContext renders guidance search hits for a prompt.
func FormatRAGContext(results []GuidanceResult) string {
	if len(results) == 0 {
		return ""
	}

	var parts []string
	for i, result := range results {
		parts = append(parts, fmt.Sprintf("--- Guidance %d (%s, score %.2f) ---\n%s",
			i+1, result.Category, result.Score, strings.TrimSpace(result.Text)))
	}

	return strings.Join(parts, "\n\n")
}
