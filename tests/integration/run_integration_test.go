package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/revit-design-orchestrator/internal/llm"
	"github.com/draftforge/revit-design-orchestrator/internal/models"
	"github.com/draftforge/revit-design-orchestrator/internal/orchestration"
	"github.com/draftforge/revit-design-orchestrator/internal/revithost"
	"github.com/draftforge/revit-design-orchestrator/internal/stage"
	"github.com/draftforge/revit-design-orchestrator/tests/helpers"
)

// cannedClient satisfies llm.Client with a fixed JSON payload, so a
// full pipeline can run without any live model. An optional gate holds
// the response until the test is ready to observe the run.
type cannedClient struct {
	label   string
	payload string
	gate    chan struct{}
}

func (c *cannedClient) GenerateJSON(ctx context.Context, prompt string) (json.RawMessage, error) {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return json.RawMessage(c.payload), nil
}

func (c *cannedClient) Name() string { return c.label }

var _ llm.Client = (*cannedClient)(nil)

// memoryRunStore is an in-memory RunStore for hermetic runs.
type memoryRunStore struct {
	mu   sync.Mutex
	runs map[string]*models.RunResult
}

func newMemoryRunStore() *memoryRunStore {
	return &memoryRunStore{runs: make(map[string]*models.RunResult)}
}

func (m *memoryRunStore) CreateRun(ctx context.Context, run *models.RunResult, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *run
	m.runs[run.RunID] = &clone
	return nil
}

func (m *memoryRunStore) MarkProcessing(ctx context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("run not found: %s", runID)
	}
	run.Status = models.RunStatusProcessing
	return nil
}

func (m *memoryRunStore) FinishRun(ctx context.Context, run *models.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.RunID]; !ok {
		return fmt.Errorf("run not found: %s", run.RunID)
	}
	clone := *run
	m.runs[run.RunID] = &clone
	return nil
}

func (m *memoryRunStore) GetRun(ctx context.Context, runID string) (*models.RunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	clone := *run
	return &clone, nil
}

func (m *memoryRunStore) ListRuns(ctx context.Context, limit int) ([]*models.RunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.RunResult, 0, len(m.runs))
	for _, run := range m.runs {
		clone := *run
		out = append(out, &clone)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// startTestHost boots an in-process tool host on a random port.
func startTestHost(t *testing.T) *revithost.Host {
	t.Helper()
	host := revithost.NewHost("127.0.0.1:0")
	_, err := host.Start()
	require.NoError(t, err)
	t.Cleanup(func() { host.Stop() })
	return host
}

// newPipelineService wires a full orchestration service with canned
// stage outputs and an in-memory store.
func newPipelineService(store orchestration.RunStore, complianceJSON string) *orchestration.Service {
	return orchestration.NewService(
		store,
		stage.NewLLMBriefNormalizer(&cannedClient{label: "canned-normalizer", payload: helpers.BriefJSON()}),
		stage.NewLLMDesignGenerator(&cannedClient{label: "canned-generator", payload: helpers.PlanJSON()}),
		stage.NewLLMComplianceChecker(&cannedClient{label: "canned-checker", payload: complianceJSON}),
	)
}

func TestRunIntegration_ApprovedPlanReachesHost(t *testing.T) {
	host := startTestHost(t)
	store := newMemoryRunStore()

	service := newPipelineService(store, helpers.ApprovedComplianceJSON())
	service.Endpoint = host.URL()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := service.Process(ctx, helpers.DefaultTestPrompt, uuid.New())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, models.RunStatusCompleted, result.Status)
	require.NotNil(t, result.Brief)
	require.NotNil(t, result.Plan)
	require.NotNil(t, result.Compliance)
	assert.True(t, result.Compliance.Approved)

	// Every plan element produced exactly one successful tool call.
	require.NotNil(t, result.Report)
	assert.Len(t, result.Report.Outcomes, result.Plan.ElementCount())
	assert.Equal(t, result.Plan.ElementCount(), result.Report.Succeeded())
	assert.Zero(t, result.Report.Failed())

	// Walls dispatch before rooms.
	for i, outcome := range result.Report.Outcomes {
		if i < len(result.Plan.Walls) {
			assert.Equal(t, "add_wall", outcome.Tool, "outcome %d", i)
		} else {
			assert.Equal(t, "add_room", outcome.Tool, "outcome %d", i)
		}
		assert.NotEmpty(t, outcome.ElementID, "outcome %d", i)
	}

	// The host document holds the created elements.
	doc := host.Doc()
	assert.Equal(t, len(result.Plan.Walls), doc.CountByCategory(revithost.CategoryWall))
	assert.Equal(t, len(result.Plan.Rooms), doc.CountByCategory(revithost.CategoryRoom))

	// The session was released exactly once.
	assert.Equal(t, 1, host.TotalSessionCloses())
	assert.Zero(t, host.OpenSessions())

	// The terminal state was persisted.
	stored, err := service.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
	assert.Equal(t, helpers.DefaultTestPrompt, stored.Prompt)
}

func TestRunIntegration_RejectedPlanNeverTouchesHost(t *testing.T) {
	host := startTestHost(t)
	store := newMemoryRunStore()

	service := newPipelineService(store, helpers.RejectedComplianceJSON())
	service.Endpoint = host.URL()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := service.Process(ctx, helpers.DefaultTestPrompt, uuid.New())
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusRequiresModification, result.Status)
	require.NotNil(t, result.Compliance)
	assert.False(t, result.Compliance.Approved)
	assert.NotEmpty(t, result.Compliance.Issues)
	assert.Nil(t, result.Report)

	// The host saw no session and no mutations.
	assert.Empty(t, host.Doc().Elements())
	assert.Zero(t, host.OpenSessions())
	assert.Zero(t, host.TotalSessionCloses())
}

func TestRunIntegration_UnreachableHostIsErrorRevit(t *testing.T) {
	store := newMemoryRunStore()

	service := newPipelineService(store, helpers.ApprovedComplianceJSON())
	service.Endpoint = "http://127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := service.Process(ctx, helpers.DefaultTestPrompt, uuid.New())
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusErrorRevit, result.Status)
	assert.NotEmpty(t, result.Error)

	stored, err := service.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusErrorRevit, stored.Status)
}

func TestRunIntegration_BackgroundRunStreamsEvents(t *testing.T) {
	host := startTestHost(t)
	store := newMemoryRunStore()

	// The first stage blocks on the gate so no event is emitted before
	// the test subscribes.
	gate := make(chan struct{})
	service := orchestration.NewService(
		store,
		stage.NewLLMBriefNormalizer(&cannedClient{label: "canned-normalizer", payload: helpers.BriefJSON(), gate: gate}),
		stage.NewLLMDesignGenerator(&cannedClient{label: "canned-generator", payload: helpers.PlanJSON()}),
		stage.NewLLMComplianceChecker(&cannedClient{label: "canned-checker", payload: helpers.ApprovedComplianceJSON()}),
	)
	service.Endpoint = host.URL()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	runID, err := service.StartRun(ctx, helpers.DefaultTestPrompt, uuid.New())
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	events, unsubscribe := service.Events.Subscribe(runID)
	defer unsubscribe()
	close(gate)

	var seen []string
	deadline := time.After(10 * time.Second)
	for {
		var ev models.RunEvent
		select {
		case ev = <-events:
		case <-deadline:
			t.Fatalf("timed out waiting for run.finished, saw %v", seen)
		}
		seen = append(seen, ev.EventType)
		if ev.EventType == models.EventTypeRunFinished {
			break
		}
	}

	assert.Contains(t, seen, models.EventTypeStageStarted)
	assert.Contains(t, seen, models.EventTypeStageFinished)
	assert.Contains(t, seen, models.EventTypeCallDispatched)

	require.Eventually(t, func() bool {
		stored, err := service.GetRun(ctx, runID)
		return err == nil && stored.Status == models.RunStatusCompleted
	}, 5*time.Second, 50*time.Millisecond)
}
