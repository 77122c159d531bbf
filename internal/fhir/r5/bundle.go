package r5

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Bundle is a FHIR Bundle. Entry resources stay raw until converted.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// BundleEntry is one entry of a bundle.
type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// ResourceType reads the entry's resourceType without decoding the rest.
func (e BundleEntry) ResourceType() string {
	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(e.Resource, &head); err != nil {
		return ""
	}
	return head.ResourceType
}

// ErrNotBundle is returned when the payload is not a FHIR Bundle.
var ErrNotBundle = errors.New("payload is not a FHIR Bundle")

// DecodeBundle parses a Bundle.
func DecodeBundle(b []byte) (*Bundle, error) {
	var bundle Bundle
	if err := json.Unmarshal(b, &bundle); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	if bundle.ResourceType != "Bundle" {
		return nil, fmt.Errorf("%w: resourceType %q", ErrNotBundle, bundle.ResourceType)
	}
	return &bundle, nil
}

// conditionRefs resolves references to Conditions in the bundle.
type conditionRefs map[string]string

func (c conditionRefs) add(fullURL, id string) {
	if id == "" {
		return
	}
	c["Condition/"+id] = id
	if fullURL != "" {
		c[fullURL] = id
	}
}

// resolve maps a reference to a condition id. Relative Condition references
// to resources outside the bundle still resolve to their id.
func (c conditionRefs) resolve(ref *Reference) (string, bool) {
	if ref == nil || ref.Reference == "" {
		return "", false
	}
	if id, ok := c[ref.Reference]; ok {
		return id, true
	}
	if i := strings.LastIndex(ref.Reference, "Condition/"); i >= 0 {
		id := ref.Reference[i+len("Condition/"):]
		if id != "" && !strings.Contains(id, "/") {
			return id, true
		}
	}
	return "", false
}

// PatientID returns the id of the first Patient entry, or "" when there is none.
func (b *Bundle) PatientID() string {
	for _, e := range b.Entry {
		if e.ResourceType() != "Patient" {
			continue
		}
		var p Patient
		if err := json.Unmarshal(e.Resource, &p); err != nil {
			continue
		}
		if p.ID != "" {
			return p.ID
		}
		if id := idFromFullURL(e.FullURL); id != "" {
			return id
		}
	}
	return ""
}
