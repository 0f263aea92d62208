package crosswalk

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/include/ingest/internal/domain/terminology"
	"github.com/include/ingest/internal/platform/tabular"
)

// MappingConflictError reports a merge row that would map a canonical or a
// dataset variable a second time to a different partner.
type MappingConflictError struct {
	Line      int
	Canonical string
	Dataset   string
	Existing  string
}

func (e *MappingConflictError) Error() string {
	return fmt.Sprintf("merge line %d: %s -> %s conflicts with existing mapping to %s",
		e.Line, e.Canonical, e.Dataset, e.Existing)
}

// Builder joins a merge table and a dictionary table into a Crosswalk,
// registering resolved codes in the study registry.
type Builder struct {
	reg      *terminology.Registry
	logger   zerolog.Logger
	recorder Recorder
}

// NewBuilder creates a Builder registering into reg.
func NewBuilder(reg *terminology.Registry, logger zerolog.Logger) *Builder {
	return &Builder{
		reg:      reg,
		logger:   logger.With().Str("component", "crosswalk").Logger(),
		recorder: nopRecorder{},
	}
}

// WithRecorder sets the observer of recoverable events and returns b.
func (b *Builder) WithRecorder(rec Recorder) *Builder {
	if rec != nil {
		b.recorder = rec
	}
	return b
}

// Build scans merge then dictionary. mergeColumn names the merge table column
// holding the dataset variable names.
func (b *Builder) Build(merge, dictionary *tabular.Reader, mergeColumn string) (*Crosswalk, error) {
	if err := merge.Require(mergeColumn, ColumnCDEVariable); err != nil {
		return nil, err
	}
	if err := dictionary.Require(ColumnFieldName); err != nil {
		return nil, err
	}

	cw := newCrosswalk(b.reg, b.logger, b.recorder)
	if err := b.scanMerge(cw, merge, mergeColumn); err != nil {
		return nil, err
	}
	if err := b.scanDictionary(cw, dictionary); err != nil {
		return nil, err
	}

	b.logger.Info().
		Int("mapped", cw.report.Mapped).
		Int("skipped_canonical", cw.report.SkippedCanonical).
		Int("hpo", b.reg.Len(terminology.HPO)).
		Int("mondo", b.reg.Len(terminology.Mondo)).
		Msg("crosswalk built")
	return cw, nil
}

// BuildFiles opens the comma delimited merge and dictionary files and builds
// the crosswalk.
func (b *Builder) BuildFiles(mergePath, dictionaryPath, mergeColumn string) (cw *Crosswalk, err error) {
	merge, err := tabular.Open(mergePath, ',')
	if err != nil {
		return nil, err
	}
	defer closeInto(merge, &err)

	dictionary, err := tabular.Open(dictionaryPath, ',')
	if err != nil {
		return nil, err
	}
	defer closeInto(dictionary, &err)

	return b.Build(merge, dictionary, mergeColumn)
}

func closeInto(r *tabular.Reader, errp *error) {
	if cerr := r.Close(); cerr != nil && *errp == nil {
		*errp = fmt.Errorf("close %s: %w", r.Name(), cerr)
	}
}

func (b *Builder) scanMerge(cw *Crosswalk, merge *tabular.Reader, mergeColumn string) error {
	return merge.ForEach(func(row tabular.Row) error {
		cw.report.MergeRows++
		dataset := strings.TrimSpace(row.Get(mergeColumn))
		if dataset == "" {
			return nil
		}
		canonical := strings.TrimSpace(row.Get(ColumnCDEVariable))
		if canonical == "" {
			cw.report.SkippedMerge++
			b.logger.Warn().Int("line", row.Line).Str("variable", dataset).
				Msg("merge row without CDE variable")
			return nil
		}
		if err := cw.addMapping(canonical, dataset); err != nil {
			var conflict *MappingConflictError
			if errors.As(err, &conflict) {
				conflict.Line = row.Line
			}
			cw.report.SkippedMerge++
			cw.report.Defects = append(cw.report.Defects, err)
			b.logger.Warn().Err(err).Msg("skipping merge row")
		}
		return nil
	})
}

func (b *Builder) scanDictionary(cw *Crosswalk, dictionary *tabular.Reader) error {
	for _, sys := range FieldMappedSystems {
		if !dictionary.HasColumn(IDColumn(sys)) {
			b.logger.Warn().Str("system", string(sys)).Msg("dictionary has no code column")
		}
	}

	return dictionary.ForEach(func(row tabular.Row) error {
		cw.report.DictionaryRows++
		canonical := strings.TrimSpace(row.Get(ColumnFieldName))
		entry := cw.byCanonical(canonical)
		if entry == nil {
			cw.report.SkippedCanonical++
			b.logger.Debug().Str("cde", canonical).Msg("skipping code")
			return nil
		}

		for _, sys := range FieldMappedSystems {
			if _, seen := entry.Codes[sys]; seen {
				b.logger.Warn().Str("cde", canonical).Str("system", string(sys)).
					Int("line", row.Line).Msg("repeated dictionary row")
				continue
			}
			r := b.reg.Register(sys, row.Get(IDColumn(sys)), strings.TrimSpace(row.Get(LabelColumn(sys))))
			if !r.OK() {
				b.recordFailure(cw, sys, canonical, r)
				continue
			}
			entry.Codes[sys] = r.Entry
			cw.report.Registered[sys]++
		}

		entry.ICD = append(entry.ICD, ParseICDColumns(row)...)
		return nil
	})
}

func (b *Builder) recordFailure(cw *Crosswalk, sys terminology.System, canonical string, r terminology.Registration) {
	b.recorder.RegistrationFailed(sys, r.Status)
	cw.report.Defects = append(cw.report.Defects, r.Err())
	ev := b.logger.Warn()
	if r.Status == terminology.Missing {
		ev = b.logger.Debug()
	}
	ev.Err(r.Err()).Str("cde", canonical).Str("system", string(sys)).Msg("code not registered")
}
