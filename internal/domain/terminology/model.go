package terminology

import (
	"fmt"
	"strings"
)

// System identifies a terminology (coding) system referenced by code entries.
type System string

const (
	HPO   System = "HPO"
	Mondo System = "Mondo"
	OMIM  System = "OMIM"
	ICD   System = "ICD"
)

// CodeSystemURI constants for the terminology systems emitted on output rows.
const (
	SystemHPO   = "http://purl.obolibrary.org/obo/hp.owl"
	SystemMondo = "http://purl.obolibrary.org/obo/mondo.owl"
	SystemOMIM  = "https://omim.org/"
	SystemICD10 = "http://hl7.org/fhir/sid/icd-10-cm"
	SystemLOINC = "http://loinc.org"
	SystemUCUM  = "http://unitsofmeasure.org"
)

// AllSystems is the fixed export order for registry dumps.
var AllSystems = []System{HPO, Mondo, OMIM, ICD}

// URI returns the code system URI for s, or "" for an unknown system.
func (s System) URI() string {
	switch s {
	case HPO:
		return SystemHPO
	case Mondo:
		return SystemMondo
	case OMIM:
		return SystemOMIM
	case ICD:
		return SystemICD10
	}
	return ""
}

// ParseSystem resolves a system name case-insensitively.
func ParseSystem(name string) (System, error) {
	for _, s := range AllSystems {
		if strings.EqualFold(string(s), strings.TrimSpace(name)) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown terminology system %q", name)
}

// CodeEntry is a single registered ontology code. Entries are never mutated
// after registration.
type CodeEntry struct {
	System System `db:"system" json:"system"`
	Code   string `db:"code" json:"code"`
	Label  string `db:"label" json:"label"`
}

// Match is one resolved (system uri, label, code) triple.
type Match struct {
	SystemURI string `json:"system"`
	Label     string `json:"label"`
	Code      string `json:"code"`
}

// Match converts the entry into its resolved form.
func (e CodeEntry) Match() Match {
	return Match{SystemURI: e.System.URI(), Label: e.Label, Code: e.Code}
}

// placeholderCodes are dictionary values meaning "no code assigned".
var placeholderCodes = map[string]bool{
	"":    true,
	"N/A": true,
	"NA":  true,
}

// IsPlaceholder reports whether code carries no usable value.
func IsPlaceholder(code string) bool {
	return placeholderCodes[strings.ToUpper(strings.TrimSpace(code))]
}

// NormalizeCode converts dictionary style codes (HP_0000822) into CURIE form
// (HP:0000822) and trims surrounding whitespace.
func NormalizeCode(code string) string {
	return strings.ReplaceAll(strings.TrimSpace(code), "_", ":")
}
