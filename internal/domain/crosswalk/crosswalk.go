package crosswalk

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/include/ingest/internal/domain/terminology"
	"github.com/include/ingest/internal/platform/tabular"
)

// Crosswalk maps dataset variables to canonical variables and their codes.
// It is read-only once built and safe to share across consent groups.
type Crosswalk struct {
	entries   map[string]*Entry
	canonical map[string]string
	order     []string

	reg      *terminology.Registry
	report   Report
	logger   zerolog.Logger
	recorder Recorder
}

func newCrosswalk(reg *terminology.Registry, logger zerolog.Logger, rec Recorder) *Crosswalk {
	return &Crosswalk{
		entries:   make(map[string]*Entry),
		canonical: make(map[string]string),
		reg:       reg,
		report:    Report{Registered: make(map[terminology.System]int)},
		logger:    logger,
		recorder:  rec,
	}
}

// addMapping records canonical <-> dataset. The first mapping of either side
// wins; an identical repeat is ignored.
func (cw *Crosswalk) addMapping(canonical, dataset string) error {
	if existing, ok := cw.canonical[canonical]; ok {
		if existing == dataset {
			return nil
		}
		return &MappingConflictError{Canonical: canonical, Dataset: dataset, Existing: existing}
	}
	if e, ok := cw.entries[dataset]; ok {
		return &MappingConflictError{Canonical: canonical, Dataset: dataset, Existing: e.CanonicalVariable}
	}

	cw.canonical[canonical] = dataset
	cw.entries[dataset] = &Entry{
		DatasetVariable:   dataset,
		CanonicalVariable: canonical,
		Codes:             make(map[terminology.System]terminology.CodeEntry),
	}
	cw.order = append(cw.order, dataset)
	cw.report.Mapped++
	return nil
}

func (cw *Crosswalk) byCanonical(canonical string) *Entry {
	dataset, ok := cw.canonical[canonical]
	if !ok {
		return nil
	}
	return cw.entries[dataset]
}

// Registry returns the registry holding the crosswalk codes.
func (cw *Crosswalk) Registry() *terminology.Registry { return cw.reg }

// Report returns the build summary.
func (cw *Crosswalk) Report() Report { return cw.report }

// Len returns the number of mapped dataset variables.
func (cw *Crosswalk) Len() int { return len(cw.order) }

// Lookup returns the entry of a dataset variable.
func (cw *Crosswalk) Lookup(label string) (Entry, bool) {
	e, ok := cw.entries[label]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// GetMatches resolves label, a dataset variable, to one match per system
// holding a code for it, HPO first. Matching is exact. An unmatched label
// is reported and yields nil.
func (cw *Crosswalk) GetMatches(label string) []terminology.Match {
	var matches []terminology.Match
	if e, ok := cw.entries[label]; ok {
		for _, sys := range FieldMappedSystems {
			if code, ok := e.Codes[sys]; ok {
				matches = append(matches, code.Match())
			}
		}
	}
	if len(matches) == 0 {
		cw.recorder.LabelUnmatched()
		cw.logger.Warn().Str("label", label).Msg("no crosswalk match")
	}
	return matches
}

// ICDCodes returns the raw ICD codes listed for label.
func (cw *Crosswalk) ICDCodes(label string) []string {
	if e, ok := cw.entries[label]; ok {
		return e.ICD
	}
	return nil
}

// ExportFlatTable returns one row per mapped dataset variable in first-seen
// order. Systems without a code are left empty.
func (cw *Crosswalk) ExportFlatTable() []FlatRow {
	rows := make([]FlatRow, 0, len(cw.order))
	for _, dataset := range cw.order {
		e := cw.entries[dataset]
		rows = append(rows, FlatRow{
			Canonical: e.CanonicalVariable,
			Dataset:   e.DatasetVariable,
			HPO:       e.Codes[terminology.HPO].Code,
			Mondo:     e.Codes[terminology.Mondo].Code,
		})
	}
	return rows
}

// WriteFlatTable writes the flat table as comma separated text.
func (cw *Crosswalk) WriteFlatTable(w io.Writer) error {
	tw, err := tabular.NewWriter(w, ',', FlatTableHeader)
	if err != nil {
		return err
	}
	for _, r := range cw.ExportFlatTable() {
		if err := tw.Write(r.Fields()...); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// ImportFlatTable rebuilds a crosswalk from a flat table, registering its
// codes in reg. Labels are not part of the flat table and come back empty.
func ImportFlatTable(r io.Reader, reg *terminology.Registry, logger zerolog.Logger) (*Crosswalk, error) {
	tr, err := tabular.NewReader(r, "crosswalk", ',')
	if err != nil {
		return nil, err
	}
	if err := tr.Require(FlatTableHeader...); err != nil {
		return nil, err
	}

	cw := newCrosswalk(reg, logger.With().Str("component", "crosswalk").Logger(), nopRecorder{})
	err = tr.ForEach(func(row tabular.Row) error {
		canonical := strings.TrimSpace(row.Get("CDE"))
		dataset := strings.TrimSpace(row.Get("CDE2"))
		if canonical == "" || dataset == "" {
			return fmt.Errorf("crosswalk line %d: CDE and CDE2 required", row.Line)
		}
		if err := cw.addMapping(canonical, dataset); err != nil {
			return err
		}
		e := cw.entries[dataset]
		for _, sys := range FieldMappedSystems {
			code := row.Get(string(sys))
			if terminology.IsPlaceholder(code) {
				continue
			}
			res := reg.Register(sys, code, "")
			if !res.OK() {
				cw.logger.Warn().Err(res.Err()).Str("cde", canonical).Msg("code not registered")
				continue
			}
			e.Codes[sys] = res.Entry
			cw.report.Registered[sys]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cw, nil
}

// SetRecorder replaces the event observer used by GetMatches.
func (cw *Crosswalk) SetRecorder(rec Recorder) {
	if rec != nil {
		cw.recorder = rec
	}
}
