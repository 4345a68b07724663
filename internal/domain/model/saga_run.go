package model

import "time"

type SagaStep string

// Steps in execution order.
const (
	StepNone         SagaStep = ""
	StepProduct      SagaStep = "product"
	StepPrice        SagaStep = "price"
	StepCustomer     SagaStep = "customer"
	StepSubscription SagaStep = "subscription"
)

// SagaSteps lists the subscribe saga in order.
var SagaSteps = []SagaStep{StepProduct, StepPrice, StepCustomer, StepSubscription}

type SagaStatus string

const (
	SagaStatusRunning            SagaStatus = "running"
	SagaStatusSucceeded          SagaStatus = "succeeded"
	SagaStatusFailed             SagaStatus = "failed"      // failed, nothing left to undo (or compensation disabled)
	SagaStatusCompensated        SagaStatus = "compensated" // failed, every created object undone
	SagaStatusCompensationFailed SagaStatus = "compensation_failed"
)

// SagaRun is the ledger entry for one subscribe saga. Cursor is the last step that completed;
// the *ID fields are filled as steps succeed and are never rewritten.
type SagaRun struct {
	ID             string // ULID
	IdempotencyKey string
	InputHash      string // fingerprint of the caller input the key was first used with
	Status         SagaStatus
	Cursor         SagaStep
	FailedStep     SagaStep
	Error          string

	Email      string
	UnitAmount int64
	Currency   string
	Interval   string

	ProductID      string
	PriceID        string
	CustomerID     string
	SubscriptionID string
	ItemID         string

	Compensated []SagaStep
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Advance records a completed step.
func (r *SagaRun) Advance(step SagaStep) {
	r.Cursor = step
	r.UpdatedAt = time.Now()
}

// Fail records a failure at step with the provider's message.
func (r *SagaRun) Fail(step SagaStep, msg string) {
	r.Status = SagaStatusFailed
	r.FailedStep = step
	r.Error = msg
	r.UpdatedAt = time.Now()
}

// Completed lists completed steps, oldest first.
func (r *SagaRun) Completed() []SagaStep {
	var out []SagaStep
	for _, s := range SagaSteps {
		out = append(out, s)
		if s == r.Cursor {
			return out
		}
	}
	return nil
}

// Next returns the step after the cursor, or StepNone when every step completed.
func (r *SagaRun) Next() SagaStep {
	if r.Cursor == StepNone {
		return SagaSteps[0]
	}
	for i, s := range SagaSteps {
		if s == r.Cursor && i+1 < len(SagaSteps) {
			return SagaSteps[i+1]
		}
	}
	return StepNone
}

// Stale reports whether a running run has made no progress for at least after.
func (r *SagaRun) Stale(now time.Time, after time.Duration) bool {
	return r.Status == SagaStatusRunning && now.Sub(r.UpdatedAt) >= after
}

// IsCompensated reports whether step was already undone.
func (r *SagaRun) IsCompensated(step SagaStep) bool {
	for _, s := range r.Compensated {
		if s == step {
			return true
		}
	}
	return false
}

// Terminal reports whether the run needs no further work.
func (r *SagaRun) Terminal() bool {
	switch r.Status {
	case SagaStatusSucceeded, SagaStatusFailed, SagaStatusCompensated:
		return true
	}
	return false
}
