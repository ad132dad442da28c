package stage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/draftforge/revit-design-orchestrator/internal/llm"
	"github.com/draftforge/revit-design-orchestrator/internal/models"
)

const designGeneratorName = "design_generator"

const designPromptTemplate = `You are an AI architectural designer. Your task is to create a conceptual
design proposal based on the following structured brief.

Structured Brief:
%s

Output a single JSON object with these fields:
- "plan_description": concise overall textual description of the design
- "walls": array of wall objects:
    - "start_point" and "end_point": {"x", "y", "z"} baseline coordinates, z=0 for ground level
    - "height": common wall height, e.g. 3.0 (units are feet, stay consistent)
    - "level_name": e.g. "Level 1"
    - "wall_id": unique descriptive ID, e.g. "exterior_north_wall"
- "rooms": array of room objects:
    - "name": e.g. "Living Room"
    - "level_name": e.g. "Level 1"
    - "center_x", "center_y": approximate center coordinates inside the walls
    - "width", "length": room dimensions
    - "room_id": unique descriptive ID, e.g. "living_room_01"

Ensure all coordinates and dimensions are consistent and make sense
spatially: rooms should lie within the span of the defined walls, and
every wall_id and room_id must be unique. Do not include any text
outside the JSON object.`

// LLMDesignGenerator produces a DesignPlan from a DesignBrief via a
// JSON-mode model call. The plan is validated before it is returned;
// output that fails the schema or the plan invariants surfaces as a
// StageError, never as a partially populated plan.
type LLMDesignGenerator struct {
	client llm.Client
}

// NewLLMDesignGenerator creates the LLM-backed design generator.
func NewLLMDesignGenerator(client llm.Client) *LLMDesignGenerator {
	return &LLMDesignGenerator{client: client}
}

// Run implements DesignGenerator.
func (g *LLMDesignGenerator) Run(ctx context.Context, brief *models.DesignBrief) (*models.DesignPlan, *StageError) {
	if brief == nil || brief.BuildingType == "" {
		return nil, &StageError{Stage: designGeneratorName, Cause: "brief is empty or missing a building type"}
	}

	briefJSON, err := json.MarshalIndent(brief, "", "  ")
	if err != nil {
		return nil, &StageError{Stage: designGeneratorName, Cause: fmt.Sprintf("failed to encode brief: %v", err)}
	}

	raw, err := g.client.GenerateJSON(ctx, fmt.Sprintf(designPromptTemplate, string(briefJSON)))
	if err != nil {
		return nil, &StageError{Stage: designGeneratorName, Cause: err.Error()}
	}

	cleaned := stripFences(string(raw))
	var plan models.DesignPlan
	if err := json.Unmarshal([]byte(cleaned), &plan); err != nil {
		return nil, &StageError{
			Stage:     designGeneratorName,
			RawOutput: string(raw),
			Cause:     fmt.Sprintf("output was not a valid design plan: %v", err),
		}
	}

	if err := plan.Validate(); err != nil {
		return nil, &StageError{
			Stage:     designGeneratorName,
			RawOutput: string(raw),
			Cause:     fmt.Sprintf("plan violates invariants: %v", err),
		}
	}

	return &plan, nil
}
