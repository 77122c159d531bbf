package r5

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/carebridge/portal-timeline/internal/domain/record"
)

// ImportReport counts what a bundle conversion did.
type ImportReport struct {
	Converted   map[string]int `json:"converted"`
	Skipped     map[string]int `json:"skipped"`
	Unsupported map[string]int `json:"unsupported"`
}

func newImportReport() ImportReport {
	return ImportReport{
		Converted:   make(map[string]int),
		Skipped:     make(map[string]int),
		Unsupported: make(map[string]int),
	}
}

// ToCollections converts the clinical resources of a bundle into the six
// record collections. Conditions become diagnoses and the other resources
// link to them through their reason (or, for Observations, focus) references.
func ToCollections(b *Bundle) (record.Collections, ImportReport, error) {
	var out record.Collections
	report := newImportReport()
	refs := make(conditionRefs)

	// conditions first so every reason reference can resolve
	var conditions []Condition
	for _, e := range b.Entry {
		if e.ResourceType() != "Condition" {
			continue
		}
		var c Condition
		if err := json.Unmarshal(e.Resource, &c); err != nil {
			return out, report, fmt.Errorf("decode Condition: %w", err)
		}
		if c.ID == "" {
			c.ID = idFromFullURL(e.FullURL)
		}
		if c.VerificationStatus.HasCode(SystemConditionVerStatus, StatusEnteredInError) {
			report.Skipped["Condition"]++
			continue
		}
		refs.add(e.FullURL, c.ID)
		conditions = append(conditions, c)
	}
	for _, c := range conditions {
		out.Diagnoses = append(out.Diagnoses, conditionRaw(c))
		report.Converted["Condition"]++
	}

	for _, e := range b.Entry {
		rt := e.ResourceType()
		fallbackID := idFromFullURL(e.FullURL)
		var (
			cat record.Category
			raw record.Raw
			ok  bool
			err error
		)
		switch rt {
		case "Condition", "Patient":
			continue
		case "MedicationStatement":
			cat = record.CategoryMedication
			raw, ok, err = decodeWith(e.Resource, func(r MedicationStatement) (record.Raw, bool) {
				return medicationStatementRaw(r, refs, fallbackID)
			})
		case "MedicationRequest":
			cat = record.CategoryMedication
			raw, ok, err = decodeWith(e.Resource, func(r MedicationRequest) (record.Raw, bool) {
				return medicationRequestRaw(r, refs, fallbackID)
			})
		case "Procedure":
			cat = record.CategoryIntervention
			raw, ok, err = decodeWith(e.Resource, func(r Procedure) (record.Raw, bool) {
				return procedureRaw(r, refs, fallbackID)
			})
		case "ImagingStudy":
			cat = record.CategoryImaging
			raw, ok, err = decodeWith(e.Resource, func(r ImagingStudy) (record.Raw, bool) {
				return imagingRaw(r, refs, fallbackID)
			})
		case "Appointment":
			cat = record.CategoryAppointment
			raw, ok, err = decodeWith(e.Resource, func(r Appointment) (record.Raw, bool) {
				return appointmentRaw(r, refs, fallbackID)
			})
		case "Observation":
			cat = record.CategoryLifestyle
			raw, ok, err = decodeWith(e.Resource, func(r Observation) (record.Raw, bool) {
				return observationRaw(r, refs, fallbackID)
			})
		default:
			report.Unsupported[rt]++
			continue
		}
		if err != nil {
			return out, report, fmt.Errorf("decode %s: %w", rt, err)
		}
		if !ok {
			report.Skipped[rt]++
			continue
		}
		out.Put(cat, append(out.For(cat), raw))
		report.Converted[rt]++
	}
	return out, report, nil
}

func decodeWith[T any](b json.RawMessage, conv func(T) (record.Raw, bool)) (record.Raw, bool, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return record.Raw{}, false, err
	}
	raw, ok := conv(v)
	return raw, ok, nil
}

func idFromFullURL(u string) string {
	u = strings.TrimPrefix(u, "urn:uuid:")
	if i := strings.LastIndex(u, "/"); i >= 0 {
		u = u[i+1:]
	}
	return u
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func periodStart(p *Period) string {
	if p == nil {
		return ""
	}
	return p.Start
}

func periodEnd(p *Period) string {
	if p == nil {
		return ""
	}
	return p.End
}

func reasonLinks(reasons []CodeableReference, refs conditionRefs) []record.DiagnosisRef {
	var out []record.DiagnosisRef
	for _, r := range reasons {
		if id, ok := refs.resolve(r.Reference); ok {
			out = append(out, record.DiagnosisRef{ID: record.ID(id), Title: r.Label()})
		}
	}
	return out
}

func firstReason(reasons []CodeableReference, refs conditionRefs) record.ID {
	for _, r := range reasons {
		if id, ok := refs.resolve(r.Reference); ok {
			return record.ID(id)
		}
	}
	return ""
}

func conditionRaw(c Condition) record.Raw {
	return record.Raw{
		ID:        record.ID(c.ID),
		Title:     c.Code.Label(),
		StartDate: firstNonEmpty(c.OnsetDateTime, periodStart(c.OnsetPeriod), c.RecordedDate),
		EndDate:   firstNonEmpty(c.AbatementDateTime, periodEnd(c.AbatementPeriod)),
	}
}

func medicationStatementRaw(m MedicationStatement, refs conditionRefs, fallbackID string) (record.Raw, bool) {
	if m.Status == StatusEnteredInError {
		return record.Raw{}, false
	}
	return record.Raw{
		ID:        record.ID(firstNonEmpty(m.ID, fallbackID)),
		Title:     m.Medication.Label(),
		StartDate: firstNonEmpty(m.EffectiveDateTime, periodStart(m.EffectivePeriod), m.DateAsserted),
		EndDate:   periodEnd(m.EffectivePeriod),
		Diagnosis: reasonLinks(m.Reason, refs),
	}, true
}

func medicationRequestRaw(m MedicationRequest, refs conditionRefs, fallbackID string) (record.Raw, bool) {
	if m.Status == StatusEnteredInError || m.Status == StatusCancelled {
		return record.Raw{}, false
	}
	var validity *Period
	if m.DispenseRequest != nil {
		validity = m.DispenseRequest.ValidityPeriod
	}
	return record.Raw{
		ID:        record.ID(firstNonEmpty(m.ID, fallbackID)),
		Title:     m.Medication.Label(),
		StartDate: firstNonEmpty(periodStart(validity), m.AuthoredOn),
		EndDate:   periodEnd(validity),
		Diagnosis: reasonLinks(m.Reason, refs),
	}, true
}

func procedureRaw(p Procedure, refs conditionRefs, fallbackID string) (record.Raw, bool) {
	if p.Status == StatusEnteredInError || p.Status == StatusNotDone {
		return record.Raw{}, false
	}
	return record.Raw{
		ID:          record.ID(firstNonEmpty(p.ID, fallbackID)),
		Title:       p.Code.Label(),
		StartDate:   firstNonEmpty(p.OccurrenceDateTime, periodStart(p.OccurrencePeriod), p.Recorded),
		EndDate:     periodEnd(p.OccurrencePeriod),
		DiagnosisID: firstReason(p.Reason, refs),
	}, true
}

func imagingRaw(s ImagingStudy, refs conditionRefs, fallbackID string) (record.Raw, bool) {
	if s.Status == StatusEnteredInError || s.Status == StatusCancelled {
		return record.Raw{}, false
	}
	title := s.Description
	if title == "" && len(s.Modality) > 0 {
		title = s.Modality[0].Label()
	}
	started := s.Started
	for _, series := range s.Series {
		if title == "" {
			title = series.Description
		}
		if started == "" {
			started = series.Started
		}
	}
	return record.Raw{
		ID:          record.ID(firstNonEmpty(s.ID, fallbackID)),
		Title:       title,
		StartDate:   started,
		DiagnosisID: firstReason(s.Reason, refs),
	}, true
}

func appointmentRaw(a Appointment, refs conditionRefs, fallbackID string) (record.Raw, bool) {
	switch a.Status {
	case StatusEnteredInError, StatusCancelled, StatusNoShow:
		return record.Raw{}, false
	}
	title := a.Description
	if title == "" && len(a.ServiceType) > 0 {
		title = a.ServiceType[0].Label()
	}
	return record.Raw{
		ID:        record.ID(firstNonEmpty(a.ID, fallbackID)),
		Title:     title,
		StartDate: a.Start,
		EndDate:   a.End,
		Diagnosis: reasonLinks(a.Reason, refs),
	}, true
}

func observationRaw(o Observation, refs conditionRefs, fallbackID string) (record.Raw, bool) {
	if o.Status == StatusEnteredInError || o.Status == StatusCancelled {
		return record.Raw{}, false
	}
	title := o.Code.Label()
	if o.ValueString != "" {
		title = strings.TrimSpace(title + ": " + o.ValueString)
		title = strings.TrimPrefix(title, ": ")
	}
	var links []record.DiagnosisRef
	for i := range o.Focus {
		if id, ok := refs.resolve(&o.Focus[i]); ok {
			links = append(links, record.DiagnosisRef{ID: record.ID(id)})
		}
	}
	return record.Raw{
		ID:        record.ID(firstNonEmpty(o.ID, fallbackID)),
		Title:     title,
		StartDate: firstNonEmpty(o.EffectiveDateTime, periodStart(o.EffectivePeriod)),
		EndDate:   periodEnd(o.EffectivePeriod),
		Diagnosis: links,
	}, true
}
