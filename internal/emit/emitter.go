package emit

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/include/ingest/internal/domain/measurement"
	"github.com/include/ingest/internal/domain/subject"
	"github.com/include/ingest/internal/domain/terminology"
	"github.com/include/ingest/internal/platform/tabular"
)

// Observed status values.
const (
	ObservedPresent = "Present"
	ObservedAbsent  = "Absent"
)

// Specimen type of every measurement row.
const (
	TissueType     = "UBERON:0000178"
	TissueTypeName = "whole blood"
)

// Observation codes.
const (
	ObservationAbstraction = "MRAbstractionStatus"
	ObservationKaryotype   = "LP28493-2"
	ObservationOfficialDx  = "73779-1"
)

// Matcher resolves a condition label to ontology codes.
type Matcher interface {
	GetMatches(label string) []terminology.Match
}

// CohortDisease is the diagnosis derived from a subject's cohort label.
type CohortDisease struct {
	PresentCohort string
	AbsentCohort  string
	Code          string
	Description   string
	System        string
	Name          string
}

// DefaultCohortDisease derives trisomy 21 from the Down syndrome cohort.
var DefaultCohortDisease = CohortDisease{
	PresentCohort: "Down syndrome",
	AbsentCohort:  "Control",
	Code:          "OMIM:190685",
	Description:   "TRISOMY 21",
	System:        "https://www.omim.org/",
	Name:          "Down Syndrome",
}

// Status returns the observed status for cohort, or "" when the cohort
// carries no diagnosis.
func (d CohortDisease) Status(cohort string) string {
	switch cohort {
	case d.PresentCohort:
		return ObservedPresent
	case d.AbsentCohort:
		return ObservedAbsent
	}
	return ""
}

// Streams are the destinations of the subject level tables.
type Streams struct {
	Participants io.Writer
	Conditions   io.Writer
	Diseases     io.Writer
	Encounters   io.Writer
	Observations io.Writer
}

type table struct {
	schema Schema
	w      *tabular.Writer
}

// Emitter writes the tables of one study. Headers are written once, at
// construction; every consent group of the study appends to the same
// streams.
type Emitter struct {
	study   string
	matcher Matcher
	disease CohortDisease

	participants table
	conditions   table
	diseases     table
	encounters   table
	observations table
}

// NewEmitter writes the table headers and returns an emitter for study.
func NewEmitter(study string, m Matcher, disease CohortDisease, out Streams) (*Emitter, error) {
	e := &Emitter{study: study, matcher: m, disease: disease}
	targets := []struct {
		t *table
		s Schema
		w io.Writer
	}{
		{&e.participants, ParticipantSchema, out.Participants},
		{&e.conditions, ConditionSchema, out.Conditions},
		{&e.diseases, DiseaseSchema, out.Diseases},
		{&e.encounters, EncounterSchema, out.Encounters},
		{&e.observations, ObservationSchema, out.Observations},
	}
	for _, tg := range targets {
		if tg.w == nil {
			return nil, fmt.Errorf("no destination for %s", tg.s.Name)
		}
		w, err := NewWriter(tg.w, tg.s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", tg.s.Name, err)
		}
		*tg.t = table{schema: tg.s, w: w}
	}
	return e, nil
}

// Group writes every table for the subjects and visits of one ledger.
func (e *Emitter) Group(l *subject.Ledger) error {
	subjects := l.Sorted()
	if err := e.Subjects(subjects); err != nil {
		return err
	}
	if err := e.Conditions(subjects); err != nil {
		return err
	}
	if err := e.Diseases(subjects); err != nil {
		return err
	}
	if err := e.Measurements(l.Visits()); err != nil {
		return err
	}
	return e.Observations(subjects)
}

// Subjects writes one participant row per subject.
func (e *Emitter) Subjects(subjects []*subject.Subject) error {
	for _, s := range subjects {
		if err := e.participants.w.Write(e.study, s.FamilyID, s.ID, s.Sex, s.Race, s.Ethnicity); err != nil {
			return fmt.Errorf("participants: %w", err)
		}
	}
	return nil
}

// Conditions writes one row per match of every condition label, present
// labels first. A label without matches is written once, uncoded.
func (e *Emitter) Conditions(subjects []*subject.Subject) error {
	for _, s := range subjects {
		if err := e.writeConditions(s, s.Present(), ObservedPresent); err != nil {
			return err
		}
		if err := e.writeConditions(s, s.Absent(), ObservedAbsent); err != nil {
			return err
		}
	}
	return nil
}

func (e *Emitter) writeConditions(s *subject.Subject, labels []string, observed string) error {
	for _, label := range labels {
		var phenotypeID string
		written := 0
		for _, m := range e.matcher.GetMatches(label) {
			if strings.TrimSpace(m.Code) == "" {
				continue
			}
			if written == 0 {
				phenotypeID = m.Code
			}
			if err := e.conditionRow(e.conditions, s, phenotypeID, m.Code, label, m.SystemURI, m.Label, observed); err != nil {
				return err
			}
			written++
		}
		if written == 0 {
			if err := e.conditionRow(e.conditions, s, "", "", label, "", label, observed); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Emitter) conditionRow(t table, s *subject.Subject, id, code, description, system, name, observed string) error {
	var onset string
	if s.AgeOfOnset != nil {
		onset = *s.AgeOfOnset
	}
	err := t.w.Write(
		s.FamilyID,
		s.ID,
		e.study,
		id,
		code,
		description,
		system,
		name,
		onset,
		observed,
		description,
		s.PhenotypeDescription,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", t.schema.Name, err)
	}
	return nil
}

// Diseases writes the cohort derived diagnosis of each subject whose cohort
// carries one.
func (e *Emitter) Diseases(subjects []*subject.Subject) error {
	d := e.disease
	for _, s := range subjects {
		status := d.Status(s.Cohort)
		if status == "" {
			continue
		}
		if err := e.conditionRow(e.diseases, s, d.Code, d.Code, d.Description, d.System, d.Name, status); err != nil {
			return err
		}
	}
	return nil
}

// Measurements writes the measurements of visits, grouped by subject in
// sorted order and then in input order.
func (e *Emitter) Measurements(visits []subject.Visit) error {
	sorted := make([]subject.Visit, len(visits))
	copy(sorted, visits)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SubjectID < sorted[j].SubjectID })

	for _, v := range sorted {
		for _, m := range measurement.Extract(v) {
			err := e.encounters.w.Write(
				e.study,
				m.SubjectID,
				m.SampleID,
				m.AgeAtEvent,
				m.VisitID,
				m.Value,
				m.Units,
				m.UnitSystem,
				m.Code,
				m.Name,
				m.DerivedFrom,
				m.AltCodes,
				"",
				TissueType,
				TissueTypeName,
			)
			if err != nil {
				return fmt.Errorf("encounters: %w", err)
			}
		}
	}
	return nil
}

// Observations writes the abstraction status of every subject and, when the
// disease pass supplied them, the karyotype and official diagnosis.
func (e *Emitter) Observations(subjects []*subject.Subject) error {
	for _, s := range subjects {
		if err := e.observation(s, ObservationAbstraction, ObservationAbstraction, "", "", s.AbstractionStatus); err != nil {
			return err
		}
		if s.Disease == nil {
			continue
		}
		if err := e.observation(s, ObservationKaryotype, "Karyotype", terminology.SystemLOINC, "Karyotype", s.Disease.Karyotype); err != nil {
			return err
		}
		official := s.Disease.OfficialDiagnosis
		if official == "" || strings.EqualFold(official, "na") {
			continue
		}
		if err := e.observation(s, ObservationOfficialDx,
			"Down syndrome karyotype status [US Standard Certificate of Live Birth]",
			terminology.SystemLOINC, "Official DS Diagnosis", official); err != nil {
			return err
		}
	}
	return nil
}

func (e *Emitter) observation(s *subject.Subject, id, name, system, description, value string) error {
	if err := e.observations.w.Write(s.ID, e.study, s.FamilyID, id, name, system, description, value); err != nil {
		return fmt.Errorf("observations: %w", err)
	}
	return nil
}

// Flush flushes every table and returns the first error.
func (e *Emitter) Flush() error {
	for _, t := range e.tables() {
		if err := t.w.Flush(); err != nil {
			return fmt.Errorf("flush %s: %w", t.schema.Name, err)
		}
	}
	return nil
}

// Counts returns the data rows written per table.
func (e *Emitter) Counts() map[string]int {
	out := make(map[string]int, len(Schemas))
	for _, t := range e.tables() {
		out[t.schema.Name] = t.w.Rows()
	}
	return out
}

func (e *Emitter) tables() []table {
	return []table{e.participants, e.conditions, e.diseases, e.encounters, e.observations}
}
