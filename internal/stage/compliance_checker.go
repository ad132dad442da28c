package stage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/draftforge/revit-design-orchestrator/internal/llm"
	"github.com/draftforge/revit-design-orchestrator/internal/models"
)

const complianceCheckerName = "compliance_checker"

const compliancePromptTemplate = `You are a building-regulations reviewer. Check the design proposal below
against this simplified checklist:

1. Minimum Room Sizes:
   - Bedrooms: at least 7.5 sqm. Master bedroom at least 10 sqm.
   - Living Room: at least 15 sqm.
   - Kitchen: at least 5 sqm.
2. Ceiling Height: minimum 2.4 meters for habitable rooms (assume standard if not specified).
3. Natural Light/Ventilation: habitable rooms should have access to natural light (assume the design implies this unless explicitly denied).
4. Safety: balconies must have railings; avoid designs that appear to block evacuation paths.
5. Accessibility: at least one entrance accessible without steps (may not be checkable from a conceptual design).

Design proposal:
%s

Output a single JSON object:
- "approved": true if no violations were found, false otherwise
- "issues": when not approved, an array of {"description", "suggestion"} for each violation; empty when approved

Focus only on the checklist above. Do not include any text outside the JSON object.`

// LLMComplianceChecker evaluates a plan summary against the simplified
// regulations checklist. The checker only ever sees the structural
// summary of a plan, not raw generator output.
type LLMComplianceChecker struct {
	client llm.Client
}

// NewLLMComplianceChecker creates the LLM-backed compliance checker.
func NewLLMComplianceChecker(client llm.Client) *LLMComplianceChecker {
	return &LLMComplianceChecker{client: client}
}

// Run implements ComplianceChecker. The result invariant (issues
// non-empty iff not approved) is enforced here so downstream code can
// rely on it.
func (c *LLMComplianceChecker) Run(ctx context.Context, planSummary string) (*models.ComplianceResult, *StageError) {
	raw, err := c.client.GenerateJSON(ctx, fmt.Sprintf(compliancePromptTemplate, planSummary))
	if err != nil {
		return nil, &StageError{Stage: complianceCheckerName, Cause: err.Error()}
	}

	cleaned := stripFences(string(raw))
	var result models.ComplianceResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, &StageError{
			Stage:     complianceCheckerName,
			RawOutput: string(raw),
			Cause:     fmt.Sprintf("output was not a valid compliance result: %v", err),
		}
	}

	if !result.Approved && len(result.Issues) == 0 {
		return nil, &StageError{
			Stage:     complianceCheckerName,
			RawOutput: string(raw),
			Cause:     "rejection carried no issues",
		}
	}
	if result.Approved {
		result.Issues = nil
	}

	return &result, nil
}
