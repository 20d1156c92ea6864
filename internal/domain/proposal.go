package domain

import "time"

// ProposalAggregate is the read-only composite of a quote's sub-resources.
// Each sub-resource is written by its own workflow stage; a nil pointer or an
// empty list means that stage has not produced anything yet.
type ProposalAggregate struct {
	QuoteID                         string                `json:"quote_id"`
	Project                         *ProjectDetails       `json:"project"`
	Insured                         *InsuredSection       `json:"insured"`
	ContractStructure               *ContractSection      `json:"contract_structure"`
	SiteRisks                       *SiteRisks            `json:"site_risks"`
	CoverRequirements               *CoverRequirements    `json:"cover_requirements"`
	RequiredDocuments               []Document            `json:"required_documents"`
	Plans                           []SelectedPlan        `json:"plans"`
	RequiredDocumentsForPolicyIssue *DeclarationDocuments `json:"required_documents_for_policy_issue"`
	QuoteMeta                       *QuoteMeta            `json:"quote_meta"`
}

// ProjectDetails is the first wizard stage.
type ProjectDetails struct {
	Name              string     `json:"name"`
	ProjectType       string     `json:"project_type"`
	SubProjectType    string     `json:"sub_project_type"`
	ConstructionType  string     `json:"construction_type"`
	Country           string     `json:"country"`
	Region            string     `json:"region"`
	Zone              string     `json:"zone"`
	StartDate         *time.Time `json:"start_date,omitempty"`
	DurationMonths    float64    `json:"duration_months"`
	MaintenanceMonths float64    `json:"maintenance_months"`
	ContractValue     float64    `json:"contract_value"`
}

// InsuredSection groups the insured party and its claims history.
type InsuredSection struct {
	Details *InsuredDetails `json:"details"`
	Claims  []ClaimRecord   `json:"claims,omitempty"`
}

// InsuredDetails describes the insured party.
type InsuredDetails struct {
	Name            string  `json:"name"`
	RoleOfInsured   string  `json:"role_of_insured"`
	ExperienceYears float64 `json:"experience_years"`
}

// ClaimRecord is one prior claim.
type ClaimRecord struct {
	Year   int     `json:"year"`
	Amount float64 `json:"amount"`
	Cause  string  `json:"cause,omitempty"`
}

// ContractSection groups the contract structure with its parties.
type ContractSection struct {
	Details        *ContractDetails `json:"details"`
	SubContractors []ContractParty  `json:"sub_contractors,omitempty"`
	Consultants    []ContractParty  `json:"consultants,omitempty"`
}

// ContractDetails describes the main contract.
type ContractDetails struct {
	ContractType   string `json:"contract_type"`
	MainContractor string `json:"main_contractor,omitempty"`
}

// ContractParty is a sub-contractor or consultant.
type ContractParty struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// SiteRisks holds the site-risk questionnaire answers.
type SiteRisks struct {
	SoilType     string            `json:"soil_type"`
	SecurityType string            `json:"security_type,omitempty"`
	AreaType     string            `json:"area_type,omitempty"`
	Answers      map[string]string `json:"answers,omitempty"`
}

// CoverRequirements holds the requested sums insured and extensions.
type CoverRequirements struct {
	SumInsured float64        `json:"sum_insured"`
	Extensions []RawExtension `json:"extensions,omitempty"`
}

// Document is an uploaded supporting document.
type Document struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// SelectedPlan is a plan chosen by the broker.
type SelectedPlan struct {
	PlanID  string  `json:"plan_id"`
	Name    string  `json:"name"`
	Premium float64 `json:"premium"`
}

// DeclarationDocuments are the signed documents needed before issue.
type DeclarationDocuments struct {
	Documents []Document `json:"documents"`
}

// QuoteMeta carries the quote's workflow status.
type QuoteMeta struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// StatusPolicyCreated is the quote status once a policy has been issued.
const StatusPolicyCreated = "policy_created"
