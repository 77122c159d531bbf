package record

// FilterByDiagnosis narrows recs to those linked to a selected diagnosis.
// An empty selection returns recs unchanged. Diagnosis records always pass.
// A record with no linkage is excluded while a selection is active.
func FilterByDiagnosis(recs []Record, selected DiagnosisSet) []Record {
	if len(selected) == 0 {
		return recs
	}
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if r.Category == CategoryDiagnosis || DiagnosisLinks(r).Intersects(selected) {
			out = append(out, r)
		}
	}
	return out
}
