// Package lifecycle derives a quote's step completion from its proposal
// aggregate.
package lifecycle

import (
	"fmt"

	"github.com/opensource-finance/ratedesk/internal/domain"
)

// Step is one stage of the quote workflow.
type Step string

const (
	ProjectDetails       Step = "project_details"
	InsuredDetails       Step = "insured_details"
	ContractStructure    Step = "contract_structure"
	SiteRisk             Step = "site_risk"
	CoverRequirements    Step = "cover_requirements"
	RequiredDocuments    Step = "required_documents"
	PlanSelected         Step = "plan_selected"
	DeclarationDocuments Step = "declaration_documents"
	PolicyCreated        Step = "policy_created"
)

// Steps is the fixed workflow order.
var Steps = []Step{
	ProjectDetails,
	InsuredDetails,
	ContractStructure,
	SiteRisk,
	CoverRequirements,
	RequiredDocuments,
	PlanSelected,
	DeclarationDocuments,
	PolicyCreated,
}

var predicates = map[Step]func(*domain.ProposalAggregate) bool{
	ProjectDetails: func(a *domain.ProposalAggregate) bool {
		return a.Project != nil
	},
	InsuredDetails: func(a *domain.ProposalAggregate) bool {
		return a.Insured != nil && a.Insured.Details != nil
	},
	ContractStructure: func(a *domain.ProposalAggregate) bool {
		return a.ContractStructure != nil && a.ContractStructure.Details != nil
	},
	SiteRisk: func(a *domain.ProposalAggregate) bool {
		return a.SiteRisks != nil
	},
	CoverRequirements: func(a *domain.ProposalAggregate) bool {
		return a.CoverRequirements != nil
	},
	RequiredDocuments: func(a *domain.ProposalAggregate) bool {
		return len(a.RequiredDocuments) > 0
	},
	PlanSelected: func(a *domain.ProposalAggregate) bool {
		return len(a.Plans) > 0
	},
	DeclarationDocuments: func(a *domain.ProposalAggregate) bool {
		return a.RequiredDocumentsForPolicyIssue != nil
	},
	PolicyCreated: func(a *domain.ProposalAggregate) bool {
		return a.QuoteMeta != nil && a.QuoteMeta.Status == domain.StatusPolicyCreated
	},
}

// Projection is the derived workflow state of one quote.
type Projection struct {
	Completed []Step `json:"completed_steps"`
	Current   Step   `json:"current_step"`
}

// IsComplete reports whether step is among the completed steps.
func (p Projection) IsComplete(step Step) bool {
	for _, s := range p.Completed {
		if s == step {
			return true
		}
	}
	return false
}

// Done reports whether a step's predicate holds. Each step is judged on its
// own data; an earlier incomplete step does not affect a later one.
func Done(step Step, agg *domain.ProposalAggregate) bool {
	pred, ok := predicates[step]
	if !ok || agg == nil {
		return false
	}
	return pred(agg)
}

// Project lists every completed step in workflow order and points at the
// first incomplete one. A quote with every step complete is at policy_created.
func Project(agg *domain.ProposalAggregate) Projection {
	p := Projection{Completed: []Step{}, Current: PolicyCreated}
	found := false
	for _, step := range Steps {
		if Done(step, agg) {
			p.Completed = append(p.Completed, step)
			continue
		}
		if !found {
			p.Current = step
			found = true
		}
	}
	return p
}

// StepIndex returns the position of step in the workflow, or -1.
func StepIndex(step Step) int {
	for i, s := range Steps {
		if s == step {
			return i
		}
	}
	return -1
}

// ParseStep converts a wire value into a Step.
func ParseStep(s string) (Step, error) {
	step := Step(s)
	if StepIndex(step) < 0 {
		return "", fmt.Errorf("unknown lifecycle step %q", s)
	}
	return step, nil
}
