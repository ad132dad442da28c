package stage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/draftforge/revit-design-orchestrator/internal/llm"
	"github.com/draftforge/revit-design-orchestrator/internal/models"
)

const briefNormalizerName = "brief_normalizer"

const briefPromptTemplate = `You are an AI assistant helping an architect. Your role is to take a user's
free-form request for a building design and structure it into a clear,
itemized brief.

User's request: %q

Output a single JSON object with these fields:
- "building_type": e.g. "Residential House", "Office Space"
- "total_area": e.g. "approx. 200 sqm"
- "floors": e.g. "2"
- "rooms": array of {"name", "details"} entries for each key space
- "style": e.g. "Modern", "Traditional", "Minimalist"
- "constraints": array of specific constraints or preferences

If some information is not provided, use the string "Not specified".
Focus on extracting information relevant to architectural design.
Do not include any text outside the JSON object.`

// LLMBriefNormalizer extracts a structured DesignBrief from a raw
// prompt using a JSON-mode model call.
type LLMBriefNormalizer struct {
	client llm.Client
}

// NewLLMBriefNormalizer creates the LLM-backed brief normalizer.
func NewLLMBriefNormalizer(client llm.Client) *LLMBriefNormalizer {
	return &LLMBriefNormalizer{client: client}
}

// Run implements BriefNormalizer. Any model or parse failure is
// surfaced as a StageError; a partially populated brief is never
// returned.
func (n *LLMBriefNormalizer) Run(ctx context.Context, prompt string) (*models.DesignBrief, *StageError) {
	raw, err := n.client.GenerateJSON(ctx, fmt.Sprintf(briefPromptTemplate, prompt))
	if err != nil {
		return nil, &StageError{Stage: briefNormalizerName, Cause: err.Error()}
	}

	cleaned := stripFences(string(raw))
	var brief models.DesignBrief
	if err := json.Unmarshal([]byte(cleaned), &brief); err != nil {
		return nil, &StageError{
			Stage:     briefNormalizerName,
			RawOutput: string(raw),
			Cause:     fmt.Sprintf("output was not a valid brief: %v", err),
		}
	}

	if brief.BuildingType == "" {
		brief.BuildingType = models.NotSpecified
	}
	if brief.Style == "" {
		brief.Style = models.NotSpecified
	}
	if brief.TotalArea == "" {
		brief.TotalArea = models.NotSpecified
	}
	if brief.Floors == "" {
		brief.Floors = models.NotSpecified
	}

	return &brief, nil
}
