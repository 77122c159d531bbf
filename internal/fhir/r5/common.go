// Package r5 provides the FHIR R5 resources the timeline imports and their
// conversion to record collections.
package r5

// Meta contains metadata about a resource.
type Meta struct {
	VersionID   string   `json:"versionId,omitempty"`
	LastUpdated string   `json:"lastUpdated,omitempty"`
	Source      string   `json:"source,omitempty"`
	Profile     []string `json:"profile,omitempty"`
}

// Identifier represents a FHIR Identifier.
type Identifier struct {
	Use    string `json:"use,omitempty"`
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

// CodeableConcept represents a concept with text and codings.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Label returns the text, else the first display, else the first code.
func (c *CodeableConcept) Label() string {
	if c == nil {
		return ""
	}
	if c.Text != "" {
		return c.Text
	}
	for _, cd := range c.Coding {
		if cd.Display != "" {
			return cd.Display
		}
	}
	for _, cd := range c.Coding {
		if cd.Code != "" {
			return cd.Code
		}
	}
	return ""
}

// HasCode reports whether any coding matches system and code.
func (c *CodeableConcept) HasCode(system, code string) bool {
	if c == nil {
		return false
	}
	for _, cd := range c.Coding {
		if cd.System == system && cd.Code == code {
			return true
		}
	}
	return false
}

// Coding represents a code from a terminology system.
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// Reference represents a reference to another resource.
type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

// CodeableReference is new in FHIR R5 - can be either a CodeableConcept or a Reference.
type CodeableReference struct {
	Concept   *CodeableConcept `json:"concept,omitempty"`
	Reference *Reference       `json:"reference,omitempty"`
}

// Label returns the concept label or the reference display.
func (c CodeableReference) Label() string {
	if l := c.Concept.Label(); l != "" {
		return l
	}
	if c.Reference != nil {
		return c.Reference.Display
	}
	return ""
}

// Period is a date range. Values stay as FHIR date or dateTime strings.
type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Annotation represents a note or comment.
type Annotation struct {
	AuthorString string `json:"authorString,omitempty"`
	Time         string `json:"time,omitempty"`
	Text         string `json:"text"`
}

// OperationOutcome represents errors and warnings from FHIR operations.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

// OperationOutcomeIssue represents a single issue in an OperationOutcome.
type OperationOutcomeIssue struct {
	Severity    string   `json:"severity"` // fatal | error | warning | information
	Code        string   `json:"code"`
	Diagnostics string   `json:"diagnostics,omitempty"`
	Expression  []string `json:"expression,omitempty"`
}

// NewOperationOutcome creates a new OperationOutcome with the given issues.
func NewOperationOutcome(issues ...OperationOutcomeIssue) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue:        issues,
	}
}

// NewErrorOutcome creates an OperationOutcome with a single error issue.
func NewErrorOutcome(code, diagnostics string) *OperationOutcome {
	return NewOperationOutcome(OperationOutcomeIssue{
		Severity:    "error",
		Code:        code,
		Diagnostics: diagnostics,
	})
}

// Code systems referenced by the importer
const (
	SystemSNOMED              = "http://snomed.info/sct"
	SystemLOINC               = "http://loinc.org"
	SystemObservationCategory = "http://terminology.hl7.org/CodeSystem/observation-category"
	SystemConditionVerStatus  = "http://terminology.hl7.org/CodeSystem/condition-ver-status"
)

// Statuses that keep a resource off the timeline
const (
	StatusEnteredInError = "entered-in-error"
	StatusCancelled      = "cancelled"
	StatusNotDone        = "not-done"
	StatusNoShow         = "noshow"
)
