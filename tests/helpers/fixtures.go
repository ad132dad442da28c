package helpers

import (
	"encoding/json"
)

// TestUser represents a test user fixture
type TestUser struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Default test fixtures
var (
	DefaultTestUser = TestUser{
		Email:    "test@example.com",
		Password: "test-password-123",
	}

	// DefaultTestPrompt is a design request every stage can satisfy.
	DefaultTestPrompt = "Design a single-storey two bedroom apartment of about 60 square meters in a minimalist style."
)

// BriefJSON returns a normalized brief as the brief normalizer stage
// would emit it.
func BriefJSON() string {
	return `{
		"building_type": "apartment",
		"total_area": "60 square meters",
		"floors": "1",
		"rooms": [
			{"name": "Bedroom 1"},
			{"name": "Bedroom 2"},
			{"name": "Living Room", "details": "open plan with kitchen"}
		],
		"style": "minimalist",
		"constraints": []
	}`
}

// PlanJSON returns a structured design plan as the design generator
// stage would emit it: a rectangular outline with two rooms.
func PlanJSON() string {
	return `{
		"plan_description": "A single-storey two bedroom apartment with a rectangular outline.",
		"walls": [
			{"start_point": {"x": 0, "y": 0, "z": 0}, "end_point": {"x": 10, "y": 0, "z": 0}, "height": 3, "level_name": "Level 1", "wall_id": "wall_south"},
			{"start_point": {"x": 10, "y": 0, "z": 0}, "end_point": {"x": 10, "y": 6, "z": 0}, "height": 3, "level_name": "Level 1", "wall_id": "wall_east"},
			{"start_point": {"x": 10, "y": 6, "z": 0}, "end_point": {"x": 0, "y": 6, "z": 0}, "height": 3, "level_name": "Level 1", "wall_id": "wall_north"},
			{"start_point": {"x": 0, "y": 6, "z": 0}, "end_point": {"x": 0, "y": 0, "z": 0}, "height": 3, "level_name": "Level 1", "wall_id": "wall_west"}
		],
		"rooms": [
			{"name": "Bedroom 1", "level_name": "Level 1", "center_x": 2.5, "center_y": 3, "width": 4, "length": 4, "room_id": "room_bed1"},
			{"name": "Living Room", "level_name": "Level 1", "center_x": 7, "center_y": 3, "width": 5, "length": 5, "room_id": "room_living"}
		]
	}`
}

// ApprovedComplianceJSON returns an approving compliance decision.
func ApprovedComplianceJSON() string {
	return `{"approved": true, "issues": []}`
}

// RejectedComplianceJSON returns a rejecting compliance decision with
// one issue.
func RejectedComplianceJSON() string {
	return `{
		"approved": false,
		"issues": [
			{"description": "Bedroom 1 is below the 7.5 sqm minimum", "suggestion": "Increase Bedroom 1 to at least 7.5 sqm"}
		]
	}`
}

// ToJSON converts a fixture to JSON string
func ToJSON(fixture interface{}) string {
	data, _ := json.Marshal(fixture)
	return string(data)
}

// CreateTestLoginRequest creates a login request payload
func CreateTestLoginRequest(email, password string) map[string]interface{} {
	return map[string]interface{}{
		"email":    email,
		"password": password,
	}
}
