// Package subject assembles per-subject clinical records from the
// independently keyed participant, condition and visit tables of a consent
// group.
package subject

import "strings"

// Input column names.
const (
	ColParticipantID     = "participantid"
	ColFamilyID          = "familyid"
	ColSex               = "sex"
	ColCohort            = "cohort_type"
	ColRace              = "race"
	ColEthnicity         = "ethnicity"
	ColAbstractionStatus = "mrabstractionstatus"

	ColConditionCode   = "condition_code"
	ColConditionStatus = "condition_status"

	ColKaryotype         = "karyotype"
	ColDiagnosis         = "ds_diagnosis"
	ColOfficialDiagnosis = "officialdsdiagnosis"

	ColEventName  = "event_name"
	ColAgeAtVisit = "age_at_visit"
	ColLabID      = "labid"
	ColHeight     = "height_cm"
	ColWeight     = "weight_kg"
	ColBMI        = "bmi"
)

// Condition status values.
const (
	StatusTrue  = "TRUE"
	StatusFalse = "FALSE"
)

// Disease holds the disease specific fields of a subject.
type Disease struct {
	Karyotype         string `json:"karyotype"`
	Diagnosis         string `json:"diagnosis"`
	OfficialDiagnosis string `json:"official_diagnosis"`
}

// Subject is one participant. Identity and demographics are fixed by the
// demographics pass; conditions and disease fields are added by named
// enrichment steps on the Ledger.
type Subject struct {
	ID                   string   `json:"id"`
	FamilyID             string   `json:"family_id"`
	Sex                  string   `json:"sex"`
	Cohort               string   `json:"cohort"`
	Race                 string   `json:"race"`
	Ethnicity            string   `json:"ethnicity"`
	AbstractionStatus    string   `json:"abstraction_status"`
	PhenotypeDescription string   `json:"phenotype_description"`
	AgeOfOnset           *string  `json:"age_of_onset,omitempty"`
	Disease              *Disease `json:"disease,omitempty"`

	present  []string
	absent   []string
	observed map[string]bool
}

func newSubject(id, familyID string) *Subject {
	return &Subject{ID: id, FamilyID: familyID, observed: make(map[string]bool)}
}

// Present returns the condition labels asserted present, in first-seen order.
func (s *Subject) Present() []string { return s.present }

// Absent returns the condition labels asserted absent, in first-seen order.
func (s *Subject) Absent() []string { return s.absent }

// Observed reports whether label was asserted, and if so whether present.
func (s *Subject) Observed(label string) (present, ok bool) {
	present, ok = s.observed[label]
	return present, ok
}

// assert records label as present or absent. Repeats of the same assertion
// are no-ops.
func (s *Subject) assert(label string, present bool) error {
	if was, ok := s.observed[label]; ok {
		if was == present {
			return nil
		}
		return &ConflictingConditionError{SubjectID: s.ID, Label: label, Present: present}
	}
	s.observed[label] = present
	if present {
		s.present = append(s.present, label)
	} else {
		s.absent = append(s.absent, label)
	}
	return nil
}

// Visit is one row of the visit table. Measurement values are nil when the
// column is absent from the table.
type Visit struct {
	Line       int     `json:"line"`
	SubjectID  string  `json:"subject_id"`
	EventName  string  `json:"event_name"`
	VisitID    string  `json:"visit_id"`
	AgeAtVisit string  `json:"age_at_visit"`
	LabID      string  `json:"lab_id"`
	Height     *string `json:"height_cm,omitempty"`
	Weight     *string `json:"weight_kg,omitempty"`
	BMI        *string `json:"bmi,omitempty"`
}

// VisitID returns the last space separated token of an event name, so
// "Visit 2" gives "2".
func VisitID(eventName string) string {
	f := strings.Fields(eventName)
	if len(f) == 0 {
		return ""
	}
	return f[len(f)-1]
}
