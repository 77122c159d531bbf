package r5

// Condition is a problem or diagnosis. It becomes a diagnosis record.
type Condition struct {
	ResourceType       string           `json:"resourceType"`
	ID                 string           `json:"id,omitempty"`
	Meta               *Meta            `json:"meta,omitempty"`
	Identifier         []Identifier     `json:"identifier,omitempty"`
	ClinicalStatus     *CodeableConcept `json:"clinicalStatus,omitempty"`
	VerificationStatus *CodeableConcept `json:"verificationStatus,omitempty"`
	Code               *CodeableConcept `json:"code,omitempty"`
	Subject            Reference        `json:"subject"`
	OnsetDateTime      string           `json:"onsetDateTime,omitempty"`
	OnsetPeriod        *Period          `json:"onsetPeriod,omitempty"`
	AbatementDateTime  string           `json:"abatementDateTime,omitempty"`
	AbatementPeriod    *Period          `json:"abatementPeriod,omitempty"`
	RecordedDate       string           `json:"recordedDate,omitempty"`
	Note               []Annotation     `json:"note,omitempty"`
}

// MedicationStatement records a medication the patient is or was taking.
type MedicationStatement struct {
	ResourceType      string              `json:"resourceType"`
	ID                string              `json:"id,omitempty"`
	Meta              *Meta               `json:"meta,omitempty"`
	Status            string              `json:"status"` // recorded | entered-in-error | draft
	Medication        CodeableReference   `json:"medication"`
	Subject           Reference           `json:"subject"`
	EffectiveDateTime string              `json:"effectiveDateTime,omitempty"`
	EffectivePeriod   *Period             `json:"effectivePeriod,omitempty"`
	DateAsserted      string              `json:"dateAsserted,omitempty"`
	Reason            []CodeableReference `json:"reason,omitempty"`
	Note              []Annotation        `json:"note,omitempty"`
}

// MedicationRequest is a prescription order.
type MedicationRequest struct {
	ResourceType    string              `json:"resourceType"`
	ID              string              `json:"id,omitempty"`
	Meta            *Meta               `json:"meta,omitempty"`
	Identifier      []Identifier        `json:"identifier,omitempty"`
	Status          string              `json:"status"`
	Intent          string              `json:"intent"`
	Medication      CodeableReference   `json:"medication"`
	Subject         Reference           `json:"subject"`
	AuthoredOn      string              `json:"authoredOn,omitempty"`
	Reason          []CodeableReference `json:"reason,omitempty"`
	DispenseRequest *DispenseRequest    `json:"dispenseRequest,omitempty"`
	Note            []Annotation        `json:"note,omitempty"`
}

// DispenseRequest carries the validity window of a prescription.
type DispenseRequest struct {
	ValidityPeriod         *Period `json:"validityPeriod,omitempty"`
	NumberOfRepeatsAllowed int     `json:"numberOfRepeatsAllowed,omitempty"`
}

// Procedure is a performed intervention.
type Procedure struct {
	ResourceType       string              `json:"resourceType"`
	ID                 string              `json:"id,omitempty"`
	Meta               *Meta               `json:"meta,omitempty"`
	Status             string              `json:"status"`
	Code               *CodeableConcept    `json:"code,omitempty"`
	Subject            Reference           `json:"subject"`
	OccurrenceDateTime string              `json:"occurrenceDateTime,omitempty"`
	OccurrencePeriod   *Period             `json:"occurrencePeriod,omitempty"`
	Recorded           string              `json:"recorded,omitempty"`
	Reason             []CodeableReference `json:"reason,omitempty"`
	Note               []Annotation        `json:"note,omitempty"`
}

// ImagingStudy is a set of images from one imaging session.
type ImagingStudy struct {
	ResourceType string               `json:"resourceType"`
	ID           string               `json:"id,omitempty"`
	Meta         *Meta                `json:"meta,omitempty"`
	Status       string               `json:"status"`
	Modality     []CodeableConcept    `json:"modality,omitempty"`
	Subject      Reference            `json:"subject"`
	Started      string               `json:"started,omitempty"`
	Description  string               `json:"description,omitempty"`
	Reason       []CodeableReference  `json:"reason,omitempty"`
	Series       []ImagingStudySeries `json:"series,omitempty"`
	Note         []Annotation         `json:"note,omitempty"`
}

// ImagingStudySeries is one series of an imaging study.
type ImagingStudySeries struct {
	UID         string           `json:"uid"`
	Modality    *CodeableConcept `json:"modality,omitempty"`
	Description string           `json:"description,omitempty"`
	Started     string           `json:"started,omitempty"`
}

// Appointment is a booked encounter.
type Appointment struct {
	ResourceType string              `json:"resourceType"`
	ID           string              `json:"id,omitempty"`
	Meta         *Meta               `json:"meta,omitempty"`
	Status       string              `json:"status"`
	ServiceType  []CodeableReference `json:"serviceType,omitempty"`
	Description  string              `json:"description,omitempty"`
	Start        string              `json:"start,omitempty"`
	End          string              `json:"end,omitempty"`
	Subject      *Reference          `json:"subject,omitempty"`
	Reason       []CodeableReference `json:"reason,omitempty"`
}

// Observation is used for lifestyle and symptom entries.
type Observation struct {
	ResourceType      string            `json:"resourceType"`
	ID                string            `json:"id,omitempty"`
	Meta              *Meta             `json:"meta,omitempty"`
	Status            string            `json:"status"`
	Category          []CodeableConcept `json:"category,omitempty"`
	Code              CodeableConcept   `json:"code"`
	Subject           *Reference        `json:"subject,omitempty"`
	Focus             []Reference       `json:"focus,omitempty"`
	EffectiveDateTime string            `json:"effectiveDateTime,omitempty"`
	EffectivePeriod   *Period           `json:"effectivePeriod,omitempty"`
	ValueString       string            `json:"valueString,omitempty"`
	Note              []Annotation      `json:"note,omitempty"`
}

// Patient is kept for the bundle's subject.
type Patient struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id,omitempty"`
	Identifier   []Identifier `json:"identifier,omitempty"`
	BirthDate    string       `json:"birthDate,omitempty"`
}
