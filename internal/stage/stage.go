package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/draftforge/revit-design-orchestrator/internal/models"
)

// StageError is the typed failure every stage converts its internal
// errors into before returning to the orchestrator. It carries the raw
// upstream output that failed to convert, for diagnostics.
type StageError struct {
	Stage     string
	RawOutput string
	Cause     string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Stage, e.Cause)
}

// BriefNormalizer turns a free-text design request into a structured brief.
type BriefNormalizer interface {
	Run(ctx context.Context, prompt string) (*models.DesignBrief, *StageError)
}

// DesignGenerator proposes a structured design plan for a brief.
type DesignGenerator interface {
	Run(ctx context.Context, brief *models.DesignBrief) (*models.DesignPlan, *StageError)
}

// ComplianceChecker evaluates a plan summary against the building
// regulations checklist and either approves it or lists required
// modifications.
type ComplianceChecker interface {
	Run(ctx context.Context, planSummary string) (*models.ComplianceResult, *StageError)
}

// stripFences removes a markdown code fence the model sometimes wraps
// around its JSON output.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
