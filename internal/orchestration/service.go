package orchestration

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/draftforge/revit-design-orchestrator/internal/bridge"
	"github.com/draftforge/revit-design-orchestrator/internal/metrics"
	"github.com/draftforge/revit-design-orchestrator/internal/models"
	"github.com/draftforge/revit-design-orchestrator/internal/stage"
)

// ToolBridge is the session-oriented connection the service opens to
// the Revit tool host for each approved plan. One bridge serves one
// run and is closed when the run finishes.
type ToolBridge interface {
	Connect(ctx context.Context, endpoint string) (*bridge.ToolCatalog, error)
	HostStatus(ctx context.Context) (string, error)
	Dispatch(ctx context.Context, plan *models.DesignPlan) *models.RunReport
	OnOutcome(fn func(models.ToolCallOutcome))
	Close() error
}

// Stage names as they appear in progress events and error messages.
const (
	StageBriefNormalizer   = "brief_normalizer"
	StageDesignGenerator   = "design_generator"
	StageComplianceChecker = "compliance_checker"
)

// Service drives a design run through its fixed stage sequence: brief
// normalization, design generation, compliance checking, and, only for
// approved plans, dispatch to the tool host. Stages never run
// concurrently or out of order.
type Service struct {
	store RunStore

	Normalizer stage.BriefNormalizer
	Generator  stage.DesignGenerator
	Checker    stage.ComplianceChecker

	// Endpoint is the tool host the bridge dials for approved plans.
	Endpoint string
	// NewBridge builds the per-run bridge; overridable in tests.
	NewBridge func() ToolBridge

	Events  *EventBus
	Metrics *metrics.RunMetrics

	tracer trace.Tracer
}

// NewService creates an orchestration service with the production
// bridge factory and the default tool host endpoint.
func NewService(store RunStore, normalizer stage.BriefNormalizer, generator stage.DesignGenerator, checker stage.ComplianceChecker) *Service {
	return &Service{
		store:      store,
		Normalizer: normalizer,
		Generator:  generator,
		Checker:    checker,
		Endpoint:   bridge.DefaultEndpoint(),
		NewBridge:  func() ToolBridge { return bridge.NewRevitBridge() },
		Events:     NewEventBus(),
		tracer:     otel.Tracer("orchestration-service"),
	}
}

// Process executes one design run from prompt to terminal status. The
// returned result is immutable; every failure mode maps to one of the
// four terminal statuses rather than an error, so the only errors
// returned are persistence failures.
func (s *Service) Process(ctx context.Context, prompt string, userID uuid.UUID) (*models.RunResult, error) {
	run, err := s.createRun(ctx, prompt, userID)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, run)
}

// StartRun creates the run record and executes the pipeline in the
// background, so callers can stream progress while it runs. The
// background execution is detached from the request context.
func (s *Service) StartRun(ctx context.Context, prompt string, userID uuid.UUID) (string, error) {
	run, err := s.createRun(ctx, prompt, userID)
	if err != nil {
		return "", err
	}

	go func() {
		if _, err := s.execute(context.Background(), run); err != nil {
			log.Printf(`{"level":"error","message":"Background run failed to persist","run_id":"%s","error":"%v"}`, run.RunID, err)
		}
	}()

	return run.RunID, nil
}

func (s *Service) createRun(ctx context.Context, prompt string, userID uuid.UUID) (*models.RunResult, error) {
	run := &models.RunResult{
		RunID:     uuid.New().String(),
		Status:    models.RunStatusPending,
		Prompt:    prompt,
		StartedAt: time.Now().UTC(),
	}

	if err := s.store.CreateRun(ctx, run, userID); err != nil {
		return nil, err
	}
	if s.Metrics != nil {
		s.Metrics.RecordRunCreated(ctx, run.RunID)
	}
	if err := s.store.MarkProcessing(ctx, run.RunID); err != nil {
		return nil, err
	}
	run.Status = models.RunStatusProcessing

	log.Printf(`{"level":"info","message":"Design run started","run_id":"%s"}`, run.RunID)
	return run, nil
}

func (s *Service) execute(ctx context.Context, run *models.RunResult) (*models.RunResult, error) {
	ctx, span := s.tracer.Start(ctx, "orchestration.execute")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", run.RunID))

	brief, stageErr := s.runNormalizer(ctx, run, run.Prompt)
	if stageErr != nil {
		return s.finish(ctx, span, run, models.RunStatusError, stageErr.Error())
	}
	run.Brief = brief

	plan, stageErr := s.runGenerator(ctx, run, brief)
	if stageErr != nil {
		return s.finish(ctx, span, run, models.RunStatusError, stageErr.Error())
	}
	run.Plan = plan

	compliance, stageErr := s.runChecker(ctx, run, plan)
	if stageErr != nil {
		return s.finish(ctx, span, run, models.RunStatusError, stageErr.Error())
	}
	run.Compliance = compliance

	// Approval gate: a rejected plan never reaches the tool host.
	if !compliance.Approved {
		log.Printf(`{"level":"info","message":"Plan requires modification","run_id":"%s","issues":%d}`,
			run.RunID, len(compliance.Issues))
		return s.finish(ctx, span, run, models.RunStatusRequiresModification, "")
	}

	report, connErr := s.dispatchPlan(ctx, run, plan)
	if connErr != nil {
		span.RecordError(connErr)
		log.Printf(`{"level":"error","message":"Tool host unreachable","run_id":"%s","error":"%v"}`, run.RunID, connErr)
		return s.finish(ctx, span, run, models.RunStatusErrorRevit, connErr.Error())
	}
	run.Report = report

	return s.finish(ctx, span, run, models.RunStatusCompleted, "")
}

func (s *Service) runNormalizer(ctx context.Context, run *models.RunResult, prompt string) (*models.DesignBrief, *stage.StageError) {
	s.publishStage(run.RunID, models.EventTypeStageStarted, StageBriefNormalizer, nil)
	brief, stageErr := s.Normalizer.Run(ctx, prompt)
	s.publishStageResult(run.RunID, StageBriefNormalizer, stageErr)
	return brief, stageErr
}

func (s *Service) runGenerator(ctx context.Context, run *models.RunResult, brief *models.DesignBrief) (*models.DesignPlan, *stage.StageError) {
	s.publishStage(run.RunID, models.EventTypeStageStarted, StageDesignGenerator, nil)
	plan, stageErr := s.Generator.Run(ctx, brief)
	s.publishStageResult(run.RunID, StageDesignGenerator, stageErr)
	return plan, stageErr
}

func (s *Service) runChecker(ctx context.Context, run *models.RunResult, plan *models.DesignPlan) (*models.ComplianceResult, *stage.StageError) {
	s.publishStage(run.RunID, models.EventTypeStageStarted, StageComplianceChecker, nil)
	compliance, stageErr := s.Checker.Run(ctx, plan.Summary())
	s.publishStageResult(run.RunID, StageComplianceChecker, stageErr)
	return compliance, stageErr
}

// dispatchPlan opens a session, dispatches the approved plan, and
// releases the session on every exit path.
func (s *Service) dispatchPlan(ctx context.Context, run *models.RunResult, plan *models.DesignPlan) (report *models.RunReport, err error) {
	// A faulting bridge must not take down the run goroutine; the
	// deferred Close below still fires during the unwind.
	defer func() {
		if r := recover(); r != nil {
			report = nil
			err = fmt.Errorf("tool dispatch failed: %v", r)
		}
	}()

	b := s.NewBridge()
	if _, err := b.Connect(ctx, s.Endpoint); err != nil {
		return nil, err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Printf(`{"level":"warn","message":"Failed to release tool host session","run_id":"%s","error":"%v"}`, run.RunID, err)
		}
	}()

	if status, err := b.HostStatus(ctx); err != nil {
		log.Printf(`{"level":"warn","message":"Tool host status check failed","run_id":"%s","error":"%v"}`, run.RunID, err)
	} else {
		log.Printf(`{"level":"info","message":"Tool host ready","run_id":"%s","status":"%s"}`, run.RunID, status)
	}

	b.OnOutcome(func(outcome models.ToolCallOutcome) {
		if s.Metrics != nil {
			s.Metrics.RecordToolCall(ctx, outcome.Tool, string(outcome.Status), string(outcome.ErrorKind))
		}
		s.publishStage(run.RunID, models.EventTypeCallDispatched, "", map[string]any{
			"tool":       outcome.Tool,
			"status":     string(outcome.Status),
			"element_id": outcome.ElementID,
			"message":    outcome.Message,
		})
	})

	dispatchStart := time.Now()
	report = b.Dispatch(ctx, plan)
	if s.Metrics != nil {
		s.Metrics.RecordDispatchDuration(ctx, time.Since(dispatchStart), len(report.Outcomes))
	}
	return report, nil
}

// finish records the terminal status, persists the run artifacts, and
// emits the final event.
func (s *Service) finish(ctx context.Context, span trace.Span, run *models.RunResult, status models.RunStatus, errMsg string) (*models.RunResult, error) {
	run.Status = status
	run.Error = errMsg
	run.FinishedAt = time.Now().UTC()

	span.SetAttributes(attribute.String("run.status", string(status)))

	if err := s.store.FinishRun(ctx, run); err != nil {
		return run, fmt.Errorf("failed to persist run result: %w", err)
	}
	if s.Metrics != nil {
		s.Metrics.RecordRunFinished(ctx, run.RunID, string(status), run.FinishedAt.Sub(run.StartedAt))
	}

	s.publishStage(run.RunID, models.EventTypeRunFinished, "", map[string]any{
		"status": string(status),
		"error":  errMsg,
	})

	log.Printf(`{"level":"info","message":"Design run finished","run_id":"%s","status":"%s"}`, run.RunID, status)
	return run, nil
}

func (s *Service) publishStage(runID, eventType, stageName string, data map[string]any) {
	if s.Events == nil {
		return
	}
	if data == nil {
		data = make(map[string]any)
	}
	if stageName != "" {
		data["stage"] = stageName
	}
	s.Events.Publish(models.RunEvent{
		RunID:     runID,
		EventType: eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Service) publishStageResult(runID, stageName string, stageErr *stage.StageError) {
	data := map[string]any{"ok": stageErr == nil}
	if stageErr != nil {
		data["error"] = stageErr.Error()
	}
	s.publishStage(runID, models.EventTypeStageFinished, stageName, data)
}

// GetRun retrieves a persisted run by ID.
func (s *Service) GetRun(ctx context.Context, runID string) (*models.RunResult, error) {
	return s.store.GetRun(ctx, runID)
}

// ListRuns returns the most recent runs.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]*models.RunResult, error) {
	return s.store.ListRuns(ctx, limit)
}
