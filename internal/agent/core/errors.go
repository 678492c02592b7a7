package core

import "fmt"

// GoalParseError means the model's goal interpretation could not be turned
// into a structured goal. The goal stays out of the account context; the
// caller should ask the operator to rephrase.
type GoalParseError struct {
	Description string
	Reason      string
	Err         error
}

func (e *GoalParseError) Error() string {
	return fmt.Sprintf("cannot interpret goal %q: %s", e.Description, e.Reason)
}

func (e *GoalParseError) Unwrap() error { return e.Err }

// InvalidRoleError means a generated plan assigned a task to a role no
// executor implements. The whole plan is rejected.
type InvalidRoleError struct {
	Role AgentRole
	Task string
}

func (e *InvalidRoleError) Error() string {
	return fmt.Sprintf("plan assigns task %q to unknown role %q", e.Task, e.Role)
}

// TaskStateError reports a forbidden task status transition.
type TaskStateError struct {
	TaskID string
	From   TaskStatus
	To     TaskStatus
}

func (e *TaskStateError) Error() string {
	return fmt.Sprintf("task %s: illegal transition %s -> %s", e.TaskID, e.From, e.To)
}

// TaskExecutionError wraps a failure inside an executor. Retryable failures
// spawn a fresh task record; the original keeps this message.
type TaskExecutionError struct {
	TaskID string
	Role   AgentRole
	Reason string
	Err    error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %s (%s) failed: %s", e.TaskID, e.Role, e.Reason)
}

func (e *TaskExecutionError) Unwrap() error { return e.Err }

// ReasonUnsupportedTask marks a task type no executor claims.
const ReasonUnsupportedTask = "UnsupportedTask"

// PersistenceError wraps storage failures. A persistence failure aborts the
// account's cycle so state is never silently lost.
type PersistenceError struct {
	Op        string
	AccountID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s for account %s: %v", e.Op, e.AccountID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
