// Package measurement derives standardized body measurements from visit rows.
package measurement

import (
	"strings"

	"github.com/include/ingest/internal/domain/subject"
	"github.com/include/ingest/internal/domain/terminology"
)

// LOINC codes of the derived measurements.
const (
	CodeHeight = "8302-2"
	CodeWeight = "29463-7"
	CodeBMI    = "39156-5"
)

// Measurement is one standardized measurement of a visit.
type Measurement struct {
	SubjectID   string `json:"subject_id"`
	VisitID     string `json:"visit_id"`
	AgeAtEvent  string `json:"age_at_event"`
	SampleID    string `json:"sample_id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Value       string `json:"value"`
	Units       string `json:"units"`
	UnitSystem  string `json:"unit_system"`
	DerivedFrom string `json:"derived_from,omitempty"`
	AltCodes    string `json:"alt_codes"`
}

// Kind describes one candidate measurement.
type Kind struct {
	Code        string
	Name        string
	Units       string
	DerivedFrom string
	AltCodes    string
	value       func(subject.Visit) *string
}

// Kinds are the candidate measurements in emission order.
var Kinds = []Kind{
	{
		Code:     CodeHeight,
		Name:     "Body height",
		Units:    "cm",
		AltCodes: "https://www.ohdsi.org^^3036277",
		value:    func(v subject.Visit) *string { return v.Height },
	},
	{
		Code:     CodeWeight,
		Name:     "Body weight",
		Units:    "kg",
		AltCodes: "https://www.ohdsi.org^^3025315",
		value:    func(v subject.Visit) *string { return v.Weight },
	},
	{
		Code:        CodeBMI,
		Name:        "Body mass index (BMI) [Ratio]",
		Units:       "kg/m2",
		DerivedFrom: CodeHeight + "|" + CodeWeight,
		AltCodes:    "https://www.ohdsi.org^^3038553",
		value:       func(v subject.Visit) *string { return v.BMI },
	},
}

// Valid reports whether a raw value yields a measurement: it must be
// present and, once trimmed, neither empty nor "NA".
func Valid(raw *string) bool {
	if raw == nil {
		return false
	}
	v := strings.TrimSpace(*raw)
	return v != "" && v != "NA"
}

// Extract returns the valid measurements of v, at most one per Kind. Values
// are passed through verbatim with no unit conversion.
func Extract(v subject.Visit) []Measurement {
	var out []Measurement
	for _, k := range Kinds {
		raw := k.value(v)
		if !Valid(raw) {
			continue
		}
		out = append(out, Measurement{
			SubjectID:   v.SubjectID,
			VisitID:     v.VisitID,
			AgeAtEvent:  v.AgeAtVisit,
			SampleID:    v.LabID,
			Code:        k.Code,
			Name:        k.Name,
			Value:       *raw,
			Units:       k.Units,
			UnitSystem:  terminology.SystemUCUM,
			DerivedFrom: k.DerivedFrom,
			AltCodes:    k.AltCodes,
		})
	}
	return out
}
