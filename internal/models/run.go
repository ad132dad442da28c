package models

import (
	"time"
)

// RunStatus is the terminal status of an orchestrated design run.
type RunStatus string

const (
	// RunStatusPending is the initial persisted state before any stage runs.
	RunStatusPending RunStatus = "pending"
	// RunStatusProcessing means stages are executing.
	RunStatusProcessing RunStatus = "processing"
	// RunStatusCompleted means the plan was approved and dispatched to the host.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusRequiresModification means the compliance checker rejected the plan.
	RunStatusRequiresModification RunStatus = "requires_modification"
	// RunStatusError means a stage failed before the approval gate.
	RunStatusError RunStatus = "error"
	// RunStatusErrorRevit means the plan was approved but the host session could not be opened.
	RunStatusErrorRevit RunStatus = "error_revit"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusRequiresModification, RunStatusError, RunStatusErrorRevit:
		return true
	}
	return false
}

// ComplianceIssue is one regulation violation found by the compliance checker.
type ComplianceIssue struct {
	Description string `json:"description"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// ComplianceResult is the approval-gate decision. Invariant: Issues is
// non-empty exactly when Approved is false.
type ComplianceResult struct {
	Approved bool              `json:"approved"`
	Issues   []ComplianceIssue `json:"issues,omitempty"`
}

// ToolCall is one remote mutation request: tool name plus an argument
// mapping whose keys match the host's declared parameter names exactly.
type ToolCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// CallStatus is the per-call outcome status.
type CallStatus string

const (
	CallStatusSuccess CallStatus = "success"
	CallStatusError   CallStatus = "error"
)

// CallErrorKind classifies a failed tool call.
type CallErrorKind string

const (
	// CallErrToolNotFound means the tool name was absent from the catalog fetched at connect time.
	CallErrToolNotFound CallErrorKind = "tool_not_found"
	// CallErrInvalidArguments means the argument mapping failed the tool's parameter contract.
	CallErrInvalidArguments CallErrorKind = "invalid_arguments"
	// CallErrHostExecution means the host attempted the mutation and it failed.
	CallErrHostExecution CallErrorKind = "host_execution_error"
	// CallErrTransport means the call could not be delivered at all.
	CallErrTransport CallErrorKind = "transport_error"
)

// ToolCallOutcome records the result of one dispatched tool call.
type ToolCallOutcome struct {
	Tool      string        `json:"tool"`
	ElementID string        `json:"element_id,omitempty"`
	Status    CallStatus    `json:"status"`
	ErrorKind CallErrorKind `json:"error_kind,omitempty"`
	Message   string        `json:"message"`
}

// RunReport is the ordered, authoritative record of every tool call
// attempted during a dispatch, including failures.
type RunReport struct {
	Outcomes []ToolCallOutcome `json:"outcomes"`
}

// Append records one outcome, preserving dispatch order.
func (r *RunReport) Append(o ToolCallOutcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Succeeded counts the outcomes with success status.
func (r *RunReport) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == CallStatusSuccess {
			n++
		}
	}
	return n
}

// Failed counts the outcomes with error status.
func (r *RunReport) Failed() int {
	return len(r.Outcomes) - r.Succeeded()
}

// RunResult is the top-level lifecycle object returned by one
// orchestrated request. Immutable once returned.
type RunResult struct {
	RunID      string            `json:"run_id"`
	Status     RunStatus         `json:"status"`
	Prompt     string            `json:"prompt"`
	Brief      *DesignBrief      `json:"brief,omitempty"`
	Plan       *DesignPlan       `json:"plan,omitempty"`
	Compliance *ComplianceResult `json:"compliance,omitempty"`
	Report     *RunReport        `json:"report,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}
