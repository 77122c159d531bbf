package record

// Collections holds the six named arrays delivered by the data layer
type Collections struct {
	Diagnoses     []Raw `json:"diagnoses,omitempty"`
	Medications   []Raw `json:"medications,omitempty"`
	Interventions []Raw `json:"interventions,omitempty"`
	Imaging       []Raw `json:"imaging,omitempty"`
	Appointments  []Raw `json:"appointments,omitempty"`
	Timeline      []Raw `json:"timeline,omitempty"`
}

// For returns the raw collection of a category
func (c *Collections) For(cat Category) []Raw {
	if p := c.slot(cat); p != nil {
		return *p
	}
	return nil
}

// Put replaces the raw collection of a category
func (c *Collections) Put(cat Category, raws []Raw) {
	if p := c.slot(cat); p != nil {
		*p = raws
	}
}

// Len returns the total number of raw records
func (c *Collections) Len() int {
	n := 0
	for _, cat := range Categories {
		n += len(c.For(cat))
	}
	return n
}

func (c *Collections) slot(cat Category) *[]Raw {
	switch cat {
	case CategoryDiagnosis:
		return &c.Diagnoses
	case CategoryMedication:
		return &c.Medications
	case CategoryIntervention:
		return &c.Interventions
	case CategoryImaging:
		return &c.Imaging
	case CategoryAppointment:
		return &c.Appointments
	case CategoryLifestyle:
		return &c.Timeline
	}
	return nil
}
