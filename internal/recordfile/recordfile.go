// Package recordfile reads record collections from files: plain JSON or YAML
// collections, or FHIR R5 Bundles.
package recordfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/carebridge/portal-timeline/internal/domain/record"
	fhir "github.com/carebridge/portal-timeline/internal/fhir/r5"
)

// Input formats
const (
	FormatAuto = "auto"
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatFHIR = "fhir"
)

// File is a decoded record file
type File struct {
	Collections record.Collections
	// PatientID is only known for FHIR bundles
	PatientID string
	Format    string
}

// Read loads a record file. An empty or auto format is detected.
func Read(path, format string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read input: %w", err)
	}
	if format == "" || format == FormatAuto {
		format = DetectFormat(path, data)
	}
	return Parse(data, format)
}

// DetectFormat guesses the format from the extension, then the content
func DetectFormat(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if json.Unmarshal(data, &head) == nil && head.ResourceType == "Bundle" {
		return FormatFHIR
	}
	return FormatJSON
}

// Parse decodes data in the given format
func Parse(data []byte, format string) (File, error) {
	f := File{Format: format}
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &f.Collections); err != nil {
			return f, fmt.Errorf("parse json input: %w", err)
		}
	case FormatYAML:
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return f, fmt.Errorf("parse yaml input: %w", err)
		}
		// round-trip through JSON so record ids and dates decode the same way
		raw, err := json.Marshal(doc)
		if err != nil {
			return f, fmt.Errorf("convert yaml input: %w", err)
		}
		if err := json.Unmarshal(raw, &f.Collections); err != nil {
			return f, fmt.Errorf("parse yaml input: %w", err)
		}
	case FormatFHIR:
		b, err := fhir.DecodeBundle(data)
		if err != nil {
			return f, err
		}
		f.PatientID = b.PatientID()
		if f.Collections, _, err = fhir.ToCollections(b); err != nil {
			return f, err
		}
	default:
		return f, fmt.Errorf("unknown input format %q", format)
	}
	return f, nil
}
