// Package dispatch selects and invokes the workflow for a classification
// result, applying the confidence gate and the safety-compliance review
// override. The dispatcher never propagates a workflow failure to the
// caller; it converts it into a conservative escalation outcome.
package dispatch

import (
	"context"
	"fmt"
	"log"

	"triagebot/internal/domain"
)

// Workflow is the per-category handler contract. The surrounding
// application registers one implementation per category.
type Workflow interface {
	Execute(ctx context.Context, req domain.ClassificationRequest, res domain.ClassificationResult) (domain.WorkflowOutcome, error)
}

// Registry maps every category to exactly one workflow. The constructor
// takes all three so an unmapped category cannot be built.
type Registry struct {
	workflows map[domain.Category]Workflow
}

func NewRegistry(informational, serviceAction, safetyCompliance Workflow) Registry {
	return Registry{workflows: map[domain.Category]Workflow{
		domain.CategoryInformational:    informational,
		domain.CategoryServiceAction:    serviceAction,
		domain.CategorySafetyCompliance: safetyCompliance,
	}}
}

type Dispatcher struct {
	registry            Registry
	confidenceThreshold float64
}

func New(registry Registry, confidenceThreshold float64) *Dispatcher {
	if confidenceThreshold <= 0 {
		confidenceThreshold = 0.5
	}
	return &Dispatcher{registry: registry, confidenceThreshold: confidenceThreshold}
}

// Dispatch invokes the workflow for the result's category and applies the
// review gates on whatever the workflow returns.
func (d *Dispatcher) Dispatch(ctx context.Context, req domain.ClassificationRequest, res domain.ClassificationResult) domain.WorkflowOutcome {
	wf := d.registry.workflows[res.Category]
	if wf == nil {
		// Unreachable when the result came through the gateway; guard anyway.
		log.Printf("dispatch no workflow for category=%s, escalating", res.Category)
		return escalationOutcome()
	}

	outcome, err := d.execute(ctx, wf, req, res)
	if err != nil {
		log.Printf("dispatch workflow error category=%s err=%v", res.Category, err)
		return escalationOutcome()
	}

	if res.Confidence < d.confidenceThreshold {
		outcome.RequiresHumanReview = true
	}
	// Non-negotiable domain rule, independent of confidence.
	if res.Category == domain.CategorySafetyCompliance {
		outcome.RequiresHumanReview = true
	}
	return outcome
}

// execute shields the pipeline from workflow panics as well as errors.
func (d *Dispatcher) execute(ctx context.Context, wf Workflow, req domain.ClassificationRequest, res domain.ClassificationResult) (outcome domain.WorkflowOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow panic: %v", r)
		}
	}()
	return wf.Execute(ctx, req, res)
}

func escalationOutcome() domain.WorkflowOutcome {
	return domain.WorkflowOutcome{
		Action:              "escalate_to_human",
		Priority:            domain.PriorityHigh,
		RequiresHumanReview: true,
	}
}
