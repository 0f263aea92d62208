package subject

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/include/ingest/internal/platform/tabular"
)

type stage int

const (
	stageEmpty stage = iota
	stageDemographics
	stageConditions
	stageVisits
)

// PassStats counts the rows one pass read and skipped.
type PassStats struct {
	Rows    int `json:"rows"`
	Skipped int `json:"skipped"`
}

// Ledger holds the subjects of one consent group. Passes must run in order:
// LoadDemographics, then any LoadConditions / LoadDiseaseConditions, then
// LoadVisits.
type Ledger struct {
	subjects map[string]*Subject
	visits   []Visit
	stage    stage
	stats    map[string]PassStats
	defects  []error
	logger   zerolog.Logger
}

// NewLedger creates an empty ledger.
func NewLedger(logger zerolog.Logger) *Ledger {
	return &Ledger{
		subjects: make(map[string]*Subject),
		stats:    make(map[string]PassStats),
		logger:   logger.With().Str("component", "ledger").Logger(),
	}
}

func (l *Ledger) enter(pass string, allowed ...stage) error {
	for _, s := range allowed {
		if l.stage == s {
			return nil
		}
	}
	return fmt.Errorf("%s: %w", pass, ErrPassOrder)
}

// skip records a recoverable row defect.
func (l *Ledger) skip(table string, st *PassStats, err error) {
	st.Skipped++
	l.defects = append(l.defects, err)
	l.logger.Warn().Err(err).Str("table", table).Msg("skipping row")
}

// LoadDemographics creates one subject per row. Blank identity fields and
// repeated ids are fatal.
func (l *Ledger) LoadDemographics(r *tabular.Reader) error {
	if err := l.enter("demographics", stageEmpty); err != nil {
		return err
	}
	if err := r.Require(ColParticipantID, ColFamilyID); err != nil {
		return err
	}

	var st PassStats
	err := r.ForEach(func(row tabular.Row) error {
		st.Rows++
		id := strings.TrimSpace(row.Get(ColParticipantID))
		family := strings.TrimSpace(row.Get(ColFamilyID))
		if id == "" {
			return &MalformedRowError{Table: r.Name(), Line: row.Line, Field: ColParticipantID, Reason: "required"}
		}
		if family == "" {
			return &MalformedRowError{Table: r.Name(), Line: row.Line, Field: ColFamilyID, Reason: "required for subject " + id}
		}
		if _, dup := l.subjects[id]; dup {
			return &DuplicateSubjectError{Table: r.Name(), Line: row.Line, SubjectID: id}
		}

		s := newSubject(id, family)
		s.Sex = strings.TrimSpace(row.Get(ColSex))
		s.Cohort = strings.TrimSpace(row.Get(ColCohort))
		s.Race = strings.TrimSpace(row.Get(ColRace))
		s.Ethnicity = strings.TrimSpace(row.Get(ColEthnicity))
		s.AbstractionStatus = strings.TrimSpace(row.Get(ColAbstractionStatus))
		s.PhenotypeDescription = s.Cohort
		l.subjects[id] = s
		return nil
	})
	l.finish("demographics", r.Name(), st)
	if err != nil {
		return err
	}
	l.stage = stageDemographics
	return nil
}

// subjectFor resolves the subject of a row. A blank id is a skippable
// malformed row; an unknown id is fatal.
func (l *Ledger) subjectFor(table string, row tabular.Row) (*Subject, error) {
	id := strings.TrimSpace(row.Get(ColParticipantID))
	if id == "" {
		return nil, &MalformedRowError{Table: table, Line: row.Line, Field: ColParticipantID, Reason: "required"}
	}
	s, ok := l.subjects[id]
	if !ok {
		return nil, &UnknownSubjectError{Table: table, Line: row.Line, SubjectID: id}
	}
	return s, nil
}

func isFatal(err error) bool {
	return !errors.Is(err, ErrMalformedRow)
}

// LoadConditions records one present or absent condition per row.
func (l *Ledger) LoadConditions(r *tabular.Reader) error {
	if err := l.enter("conditions", stageDemographics, stageConditions); err != nil {
		return err
	}
	if err := r.Require(ColParticipantID, ColConditionCode, ColConditionStatus); err != nil {
		return err
	}

	var st PassStats
	err := r.ForEach(func(row tabular.Row) error {
		st.Rows++
		s, err := l.subjectFor(r.Name(), row)
		if err != nil {
			if isFatal(err) {
				return err
			}
			l.skip(r.Name(), &st, err)
			return nil
		}
		if err := l.AddCondition(s, r.Name(), row); err != nil {
			l.skip(r.Name(), &st, err)
		}
		return nil
	})
	l.finish("conditions", r.Name(), st)
	if err != nil {
		return err
	}
	l.stage = stageConditions
	return nil
}

// AddCondition enriches s with the condition asserted by row.
func (l *Ledger) AddCondition(s *Subject, table string, row tabular.Row) error {
	if _, ok := l.subjects[s.ID]; !ok {
		return &UnknownSubjectError{Table: table, Line: row.Line, SubjectID: s.ID}
	}
	label := strings.TrimSpace(row.Get(ColConditionCode))
	if label == "" {
		return &MalformedRowError{Table: table, Line: row.Line, Field: ColConditionCode, Reason: "required"}
	}

	status := strings.TrimSpace(row.Get(ColConditionStatus))
	switch status {
	case StatusTrue:
		return s.assert(label, true)
	case StatusFalse:
		return s.assert(label, false)
	}
	return &MalformedRowError{Table: table, Line: row.Line, Field: ColConditionStatus, Value: status,
		Reason: "must be TRUE or FALSE"}
}

// LoadDiseaseConditions attaches the disease specific fields to subjects.
func (l *Ledger) LoadDiseaseConditions(r *tabular.Reader) error {
	if err := l.enter("disease conditions", stageDemographics, stageConditions); err != nil {
		return err
	}
	if err := r.Require(ColParticipantID); err != nil {
		return err
	}

	var st PassStats
	err := r.ForEach(func(row tabular.Row) error {
		st.Rows++
		s, err := l.subjectFor(r.Name(), row)
		if err != nil {
			if isFatal(err) {
				return err
			}
			l.skip(r.Name(), &st, err)
			return nil
		}
		if err := l.SetDisease(s, r.Name(), row); err != nil {
			l.skip(r.Name(), &st, err)
		}
		return nil
	})
	l.finish("disease conditions", r.Name(), st)
	if err != nil {
		return err
	}
	l.stage = stageConditions
	return nil
}

// SetDisease enriches s with the disease fields of row. A subject takes one
// disease row.
func (l *Ledger) SetDisease(s *Subject, table string, row tabular.Row) error {
	if _, ok := l.subjects[s.ID]; !ok {
		return &UnknownSubjectError{Table: table, Line: row.Line, SubjectID: s.ID}
	}
	if s.Disease != nil {
		return &MalformedRowError{Table: table, Line: row.Line, Field: ColParticipantID, Value: s.ID,
			Reason: "repeated disease row"}
	}
	s.Disease = &Disease{
		Karyotype:         strings.TrimSpace(row.Get(ColKaryotype)),
		Diagnosis:         strings.TrimSpace(row.Get(ColDiagnosis)),
		OfficialDiagnosis: strings.TrimSpace(row.Get(ColOfficialDiagnosis)),
	}
	return nil
}

// LoadVisits records visit rows without touching subjects.
func (l *Ledger) LoadVisits(r *tabular.Reader) error {
	if err := l.enter("visits", stageDemographics, stageConditions); err != nil {
		return err
	}
	if err := r.Require(ColParticipantID, ColEventName); err != nil {
		return err
	}

	optional := func(row tabular.Row, col string) *string {
		v, ok := row.Lookup(col)
		if !ok {
			return nil
		}
		return &v
	}

	var st PassStats
	err := r.ForEach(func(row tabular.Row) error {
		st.Rows++
		s, err := l.subjectFor(r.Name(), row)
		if err != nil {
			if isFatal(err) {
				return err
			}
			l.skip(r.Name(), &st, err)
			return nil
		}
		event := strings.TrimSpace(row.Get(ColEventName))
		l.visits = append(l.visits, Visit{
			Line:       row.Line,
			SubjectID:  s.ID,
			EventName:  event,
			VisitID:    VisitID(event),
			AgeAtVisit: strings.TrimSpace(row.Get(ColAgeAtVisit)),
			LabID:      strings.TrimSpace(row.Get(ColLabID)),
			Height:     optional(row, ColHeight),
			Weight:     optional(row, ColWeight),
			BMI:        optional(row, ColBMI),
		})
		return nil
	})
	l.finish("visits", r.Name(), st)
	if err != nil {
		return err
	}
	l.stage = stageVisits
	return nil
}

func (l *Ledger) finish(pass, table string, st PassStats) {
	prev := l.stats[pass]
	prev.Rows += st.Rows
	prev.Skipped += st.Skipped
	l.stats[pass] = prev
	l.logger.Debug().Str("pass", pass).Str("table", table).
		Int("rows", st.Rows).Int("skipped", st.Skipped).Msg("pass complete")
}

// Get returns the subject with id.
func (l *Ledger) Get(id string) (*Subject, bool) {
	s, ok := l.subjects[id]
	return s, ok
}

// Len returns the number of subjects.
func (l *Ledger) Len() int { return len(l.subjects) }

// IDs returns the subject ids in lexicographic order.
func (l *Ledger) IDs() []string {
	ids := make([]string, 0, len(l.subjects))
	for id := range l.subjects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sorted returns the subjects ordered lexicographically by id.
func (l *Ledger) Sorted() []*Subject {
	ids := l.IDs()
	out := make([]*Subject, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.subjects[id])
	}
	return out
}

// Visits returns the visit rows in input order.
func (l *Ledger) Visits() []Visit { return l.visits }

// Stats returns the per-pass row counts.
func (l *Ledger) Stats() map[string]PassStats { return l.stats }

// Defects returns the recoverable row defects seen so far.
func (l *Ledger) Defects() []error { return l.defects }
